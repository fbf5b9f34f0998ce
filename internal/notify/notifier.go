// Package notify delivers critical audit records to side channels: the live
// stream hub, Kafka and a JSON-lines sink. Delivery is best effort.
package notify

import (
	"context"
	"errors"

	"github.com/neogan74/auditlens/internal/audit"
	"github.com/neogan74/auditlens/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Notifier receives persisted records.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, rec *audit.Record) error
}

// Noop discards every record.
type Noop struct{}

func (Noop) Name() string                                { return "noop" }
func (Noop) Notify(context.Context, *audit.Record) error { return nil }

// Multi fans a record out to every notifier concurrently and joins their
// errors. A failing notifier never cancels the others.
type Multi []Notifier

func (m Multi) Name() string { return "multi" }

func (m Multi) Notify(ctx context.Context, rec *audit.Record) error {
	errs := make([]error, len(m))
	var g errgroup.Group
	for i, n := range m {
		i, n := i, n
		g.Go(func() error {
			err := n.Notify(ctx, rec)
			status := "success"
			if err != nil {
				status = "error"
				errs[i] = err
			}
			metrics.NotificationsTotal.WithLabelValues(n.Name(), status).Inc()
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Combine drops nil and no-op notifiers and returns Noop when nothing is left.
func Combine(notifiers ...Notifier) Notifier {
	var out Multi
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		if _, ok := n.(Noop); ok {
			continue
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return Noop{}
	}
	return out
}
