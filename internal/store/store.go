// Package store persists audit records behind a single engine-agnostic interface.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neogan74/auditlens/internal/audit"
	"github.com/neogan74/auditlens/internal/logger"
)

// ErrNoAggregation is returned when the engine cannot compute statistics itself.
var ErrNoAggregation = errors.New("engine does not support aggregation pushdown")

// Store is an append-mostly collection of audit records.
type Store interface {
	// Insert persists a new record. Records are never overwritten by Insert.
	Insert(ctx context.Context, rec *audit.Record) error
	Get(ctx context.Context, id string) (*audit.Record, error)
	// Find returns one page of matching records and the total match count.
	Find(ctx context.Context, f audit.Filter, p audit.Page) ([]*audit.Record, int64, error)
	// Scan visits every matching record, newest first, until fn returns an error.
	Scan(ctx context.Context, f audit.Filter, fn func(*audit.Record) error) error
	// Update applies a read-modify-write mutation to one record. Last write wins.
	Update(ctx context.Context, id string, fn func(*audit.Record) error) (*audit.Record, error)
	ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteArchivedOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Ping(ctx context.Context) error
	Name() string
	Close() error
}

// Aggregator is implemented by engines that can compute statistics server-side.
type Aggregator interface {
	Statistics(ctx context.Context, from, to time.Time) (*audit.Statistics, error)
}

// Pruner is implemented by engines whose expiry is not enforced by the engine itself.
type Pruner interface {
	PruneExpired(ctx context.Context, now time.Time) (int64, error)
}

// Config selects and configures an engine.
type Config struct {
	Engine          string
	DataDir         string
	SyncWrites      bool
	GCInterval      time.Duration
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	ConnectTimeout  time.Duration
}

// New creates a store based on configuration
func New(ctx context.Context, cfg Config, log logger.Logger) (Store, error) {
	switch cfg.Engine {
	case "", "memory":
		log.Info("Using in-memory event store")
		return NewMemoryStore(), nil
	case "badger":
		log.Info("Using BadgerDB event store",
			logger.String("data_dir", cfg.DataDir),
			logger.Bool("sync_writes", cfg.SyncWrites))
		return NewBadgerStore(cfg.DataDir, cfg.SyncWrites, cfg.GCInterval, log)
	case "mongo":
		log.Info("Using MongoDB event store",
			logger.String("database", cfg.MongoDatabase),
			logger.String("collection", cfg.MongoCollection))
		return NewMongoStore(ctx, MongoConfig{
			URI:            cfg.MongoURI,
			Database:       cfg.MongoDatabase,
			Collection:     cfg.MongoCollection,
			ConnectTimeout: cfg.ConnectTimeout,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported store engine: %s", cfg.Engine)
	}
}

// applyUpdate runs fn on a copy of current and enforces the fields no update may touch.
func applyUpdate(current *audit.Record, fn func(*audit.Record) error) (*audit.Record, error) {
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if current.Flags.IsArchived && !next.Flags.IsArchived {
		return nil, audit.ErrArchivedImmutable
	}
	next.ID = current.ID
	next.EventType = current.EventType
	next.EventCategory = current.EventCategory
	next.Timestamp = current.Timestamp
	next.ExpiresAt = current.ExpiresAt
	return next, nil
}

func expired(rec *audit.Record, now time.Time) bool {
	return !rec.ExpiresAt.IsZero() && !rec.ExpiresAt.After(now)
}
