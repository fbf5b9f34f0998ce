package store

import (
	"context"
	"time"

	"github.com/neogan74/auditlens/internal/audit"
	"github.com/neogan74/auditlens/internal/metrics"
	"github.com/neogan74/auditlens/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Instrumented decorates a Store with latency metrics and a span per call.
type Instrumented struct {
	Store
	tracer trace.Tracer
}

// Instrument wraps s. Optional capabilities of s (Aggregator, Pruner) stay reachable.
func Instrument(s Store) *Instrumented {
	return &Instrumented{Store: s, tracer: telemetry.GetTracer("auditlens/store")}
}

// Unwrap returns the decorated engine.
func (i *Instrumented) Unwrap() Store { return i.Store }

func (i *Instrumented) observe(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := i.tracer.Start(ctx, "store."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.system", i.Name())),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	metrics.StoreOperationDuration.WithLabelValues(i.Name(), op).Observe(time.Since(start).Seconds())

	status := "success"
	if err != nil && !audit.IsNotFound(err) {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.StoreOperationsTotal.WithLabelValues(i.Name(), op, status).Inc()
	return err
}

func (i *Instrumented) Insert(ctx context.Context, rec *audit.Record) error {
	return i.observe(ctx, "insert", func(ctx context.Context) error {
		return i.Store.Insert(ctx, rec)
	})
}

func (i *Instrumented) Get(ctx context.Context, id string) (*audit.Record, error) {
	var rec *audit.Record
	err := i.observe(ctx, "get", func(ctx context.Context) error {
		var err error
		rec, err = i.Store.Get(ctx, id)
		return err
	})
	return rec, err
}

func (i *Instrumented) Find(ctx context.Context, f audit.Filter, p audit.Page) ([]*audit.Record, int64, error) {
	var (
		recs  []*audit.Record
		total int64
	)
	err := i.observe(ctx, "find", func(ctx context.Context) error {
		var err error
		recs, total, err = i.Store.Find(ctx, f, p)
		return err
	})
	return recs, total, err
}

func (i *Instrumented) Scan(ctx context.Context, f audit.Filter, fn func(*audit.Record) error) error {
	return i.observe(ctx, "scan", func(ctx context.Context) error {
		return i.Store.Scan(ctx, f, fn)
	})
}

func (i *Instrumented) Update(ctx context.Context, id string, fn func(*audit.Record) error) (*audit.Record, error) {
	var rec *audit.Record
	err := i.observe(ctx, "update", func(ctx context.Context) error {
		var err error
		rec, err = i.Store.Update(ctx, id, fn)
		return err
	})
	return rec, err
}

func (i *Instrumented) ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := i.observe(ctx, "archive", func(ctx context.Context) error {
		var err error
		n, err = i.Store.ArchiveOlderThan(ctx, cutoff)
		return err
	})
	return n, err
}

func (i *Instrumented) DeleteArchivedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := i.observe(ctx, "purge", func(ctx context.Context) error {
		var err error
		n, err = i.Store.DeleteArchivedOlderThan(ctx, cutoff)
		return err
	})
	return n, err
}

// Statistics forwards to the engine when it supports pushdown.
func (i *Instrumented) Statistics(ctx context.Context, from, to time.Time) (*audit.Statistics, error) {
	agg, ok := i.Store.(Aggregator)
	if !ok {
		return nil, ErrNoAggregation
	}
	var st *audit.Statistics
	err := i.observe(ctx, "statistics", func(ctx context.Context) error {
		var err error
		st, err = agg.Statistics(ctx, from, to)
		return err
	})
	return st, err
}

// AsAggregator returns the pushdown implementation behind s, if any.
func AsAggregator(s Store) (Aggregator, bool) {
	if i, ok := s.(*Instrumented); ok {
		if _, ok := i.Store.(Aggregator); !ok {
			return nil, false
		}
		return i, true
	}
	agg, ok := s.(Aggregator)
	return agg, ok
}

// AsPruner returns the expiry pruner behind s, if any.
func AsPruner(s Store) (Pruner, bool) {
	if i, ok := s.(*Instrumented); ok {
		s = i.Store
	}
	p, ok := s.(Pruner)
	return p, ok
}
