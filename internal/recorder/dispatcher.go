package recorder

import (
	"context"
	"errors"
	"sync"

	"github.com/neogan74/auditlens/internal/envelope"
	"github.com/neogan74/auditlens/internal/logger"
	"github.com/neogan74/auditlens/internal/metrics"
)

var (
	// ErrDispatcherClosed is returned when inputs arrive after shutdown.
	ErrDispatcherClosed = errors.New("audit dispatcher closed")
	// ErrQueueFull is returned under DropPolicyDrop when the queue is full.
	ErrQueueFull = errors.New("audit queue full")
)

// DropPolicy determines how the dispatcher handles a full queue.
type DropPolicy string

const (
	DropPolicyDrop  DropPolicy = "drop"
	DropPolicyBlock DropPolicy = "block"
)

// DispatcherConfig sizes the queue.
type DispatcherConfig struct {
	BufferSize int
	Workers    int
	DropPolicy DropPolicy
}

// Dispatcher queues inputs so request handlers never wait on the store.
type Dispatcher struct {
	cfg    DispatcherConfig
	rec    *Recorder
	log    logger.Logger
	inputs chan envelope.Input
	wg     sync.WaitGroup

	stopOnce sync.Once
	closed   bool
	mu       sync.RWMutex
}

// NewDispatcher starts the workers.
func NewDispatcher(rec *Recorder, cfg DispatcherConfig, log logger.Logger) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.DropPolicy == "" {
		cfg.DropPolicy = DropPolicyDrop
	}

	d := &Dispatcher{
		cfg:    cfg,
		rec:    rec,
		log:    log,
		inputs: make(chan envelope.Input, cfg.BufferSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

// Dispatch enqueues in. Under DropPolicyBlock it waits for room until ctx is done.
func (d *Dispatcher) Dispatch(ctx context.Context, in envelope.Input) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.DispatchDroppedTotal.WithLabelValues("dispatcher_closed").Inc()
		return ErrDispatcherClosed
	}

	select {
	case d.inputs <- in:
		metrics.DispatchQueueDepth.Set(float64(len(d.inputs)))
		return nil
	default:
	}

	if d.cfg.DropPolicy == DropPolicyDrop {
		metrics.DispatchDroppedTotal.WithLabelValues("queue_full").Inc()
		d.log.Warn("Audit queue full, dropping event", logger.String("event_type", in.EventType))
		return ErrQueueFull
	}
	select {
	case d.inputs <- in:
		return nil
	case <-ctx.Done():
		metrics.DispatchDroppedTotal.WithLabelValues("context_cancelled").Inc()
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for in := range d.inputs {
		metrics.DispatchQueueDepth.Set(float64(len(d.inputs)))
		d.rec.Record(context.Background(), in)
	}
}

// Shutdown stops intake, drains the queue and waits for pending notifications.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.inputs)
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return d.rec.Wait(ctx)
}
