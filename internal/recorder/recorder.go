// Package recorder is the write path: it turns an invocation context into a
// persisted record and fans elevated records out to notifiers. Failures are
// logged and counted but never returned to the caller.
package recorder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/neogan74/auditlens/internal/audit"
	"github.com/neogan74/auditlens/internal/envelope"
	"github.com/neogan74/auditlens/internal/logger"
	"github.com/neogan74/auditlens/internal/metrics"
	"github.com/neogan74/auditlens/internal/notify"
	"github.com/neogan74/auditlens/internal/store"
)

// DefaultNotifyTimeout bounds one asynchronous notification.
const DefaultNotifyTimeout = 5 * time.Second

// Recorder builds and persists audit records.
type Recorder struct {
	builder       *envelope.Builder
	store         store.Store
	notifier      notify.Notifier
	log           logger.Logger
	notifyTimeout time.Duration
	pending       sync.WaitGroup
}

// New creates a recorder. A nil notifier disables notifications.
func New(b *envelope.Builder, s store.Store, n notify.Notifier, notifyTimeout time.Duration, log logger.Logger) *Recorder {
	if n == nil {
		n = notify.Noop{}
	}
	if notifyTimeout <= 0 {
		notifyTimeout = DefaultNotifyTimeout
	}
	return &Recorder{
		builder:       b,
		store:         s,
		notifier:      n,
		log:           log,
		notifyTimeout: notifyTimeout,
	}
}

// Record builds and persists in. It returns nil when anything fails, including panics.
func (r *Recorder) Record(ctx context.Context, in envelope.Input) (rec *audit.Record) {
	defer func() {
		if p := recover(); p != nil {
			r.fail("panic", in.EventType, fmt.Errorf("%v", p))
			rec = nil
		}
	}()

	built, err := r.builder.Build(ctx, in)
	if err != nil {
		r.fail("build", in.EventType, err)
		return nil
	}

	if err := r.store.Insert(ctx, built); err != nil {
		r.fail("persist", in.EventType, err)
		return nil
	}

	metrics.RecordsWrittenTotal.WithLabelValues(built.EventCategory, string(built.Severity)).Inc()
	r.log.Debug("Audit record written",
		logger.String("id", built.ID),
		logger.String("event_type", built.EventType),
		logger.String("severity", string(built.Severity)))

	if built.Severity.Elevated() {
		r.notify(ctx, built.Clone())
	}
	return built
}

// notify runs detached from the caller's cancellation so a finished request
// does not abort delivery.
func (r *Recorder) notify(ctx context.Context, rec *audit.Record) {
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		defer func() {
			if p := recover(); p != nil {
				r.log.Error("Notifier panicked",
					logger.String("record_id", rec.ID),
					logger.String("panic", fmt.Sprint(p)))
			}
		}()

		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.notifyTimeout)
		defer cancel()

		err := r.notifier.Notify(nctx, rec)
		status := "success"
		if err != nil {
			status = "error"
			r.log.Warn("Failed to deliver audit notification",
				logger.String("record_id", rec.ID),
				logger.String("notifier", r.notifier.Name()),
				logger.Error(err))
		}
		metrics.NotificationsTotal.WithLabelValues(r.notifier.Name(), status).Inc()
	}()
}

func (r *Recorder) fail(stage, eventType string, err error) {
	metrics.RecordFailuresTotal.WithLabelValues(stage).Inc()
	r.log.Error("Failed to record audit event",
		logger.String("stage", stage),
		logger.String("event_type", eventType),
		logger.Error(err))
}

// Wait blocks until in-flight notifications finish or ctx is done.
func (r *Recorder) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
