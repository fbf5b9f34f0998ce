// Package search answers read queries over the audit store: filtered pages,
// statistics, per-actor history, trailing critical/suspicious windows and export.
package search

import (
	"context"
	"fmt"
	"time"

	"github.com/neogan74/auditlens/internal/audit"
	"github.com/neogan74/auditlens/internal/logger"
	"github.com/neogan74/auditlens/internal/metrics"
	"github.com/neogan74/auditlens/internal/store"
)

const (
	// DefaultTimeout bounds every read when no timeout is configured.
	DefaultTimeout = 30 * time.Second
	// DefaultWindowHours is used by CriticalEvents and SuspiciousEvents when hours <= 0.
	DefaultWindowHours = 24
)

// Result is one page of a search.
type Result struct {
	Records   []*audit.Record `json:"records"`
	Total     int64           `json:"total"`
	Limit     int             `json:"limit"`
	Offset    int             `json:"offset"`
	PageCount int             `json:"pageCount"`
}

// Service runs read queries against a store.
type Service struct {
	store   store.Store
	log     logger.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewService creates a search service. A non-positive timeout selects DefaultTimeout.
func NewService(s store.Store, timeout time.Duration, log logger.Logger) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{store: s, log: log, timeout: timeout, now: time.Now}
}

func (s *Service) withBudget(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func observe(kind string, err error) {
	status := "success"
	if err != nil && !audit.IsNotFound(err) {
		status = "error"
	}
	metrics.QueriesTotal.WithLabelValues(kind, status).Inc()
}

// Search returns one page of records matching f.
func (s *Service) Search(ctx context.Context, f audit.Filter, p audit.Page) (*Result, error) {
	ctx, cancel := s.withBudget(ctx)
	defer cancel()

	p = p.Normalize()
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, &audit.ValidationError{Field: "to", Message: "end of range precedes its start"}
	}

	records, total, err := s.store.Find(ctx, f, p)
	observe("search", err)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return &Result{
		Records:   records,
		Total:     total,
		Limit:     p.Limit,
		Offset:    p.Offset,
		PageCount: p.PageCount(total),
	}, nil
}

// GetByID returns a single record or a NotFoundError.
func (s *Service) GetByID(ctx context.Context, id string) (*audit.Record, error) {
	ctx, cancel := s.withBudget(ctx)
	defer cancel()

	rec, err := s.store.Get(ctx, id)
	observe("get", err)
	return rec, err
}

// GetByActor pages one actor's history within an optional range.
func (s *Service) GetByActor(ctx context.Context, actorID string, from, to time.Time, p audit.Page) (*Result, error) {
	if actorID == "" {
		return nil, &audit.ValidationError{Field: "actorId", Message: "actor id is required"}
	}
	return s.Search(ctx, audit.Filter{ActorID: actorID, From: from, To: to}, p)
}

func (s *Service) window(hours int) time.Time {
	if hours <= 0 {
		hours = DefaultWindowHours
	}
	return s.now().Add(-time.Duration(hours) * time.Hour)
}

// CriticalEvents lists critical and high severity records from the trailing window, newest first.
func (s *Service) CriticalEvents(ctx context.Context, hours int) ([]*audit.Record, error) {
	res, err := s.Search(ctx, audit.Filter{
		Severities: []audit.Severity{audit.SeverityCritical, audit.SeverityHigh},
		From:       s.window(hours),
	}, audit.Page{Limit: audit.MaxLimit})
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// SuspiciousEvents lists records flagged suspicious or produced by input screening.
func (s *Service) SuspiciousEvents(ctx context.Context, hours int) ([]*audit.Record, error) {
	res, err := s.Search(ctx, audit.Filter{
		Suspicious: true,
		From:       s.window(hours),
	}, audit.Page{Limit: audit.MaxLimit})
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// Statistics summarizes [from, to]. Engines with server-side aggregation
// compute it in one round trip; otherwise a single scan folds the overview and
// both breakdowns.
func (s *Service) Statistics(ctx context.Context, from, to time.Time) (*audit.Statistics, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, &audit.ValidationError{Field: "endDate", Message: "end of range precedes its start"}
	}

	ctx, cancel := s.withBudget(ctx)
	defer cancel()

	if agg, ok := store.AsAggregator(s.store); ok {
		st, err := agg.Statistics(ctx, from, to)
		observe("statistics", err)
		if err != nil {
			return nil, fmt.Errorf("statistics failed: %w", err)
		}
		return st, nil
	}

	f := audit.Filter{From: from, To: to}
	overview := audit.NewOverviewAccumulator()
	byType := audit.NewGroupCounter(audit.ByEventType)
	bySeverity := audit.NewGroupCounter(audit.BySeverity)

	// One pass keeps the overview and both breakdowns on the same snapshot.
	err := s.store.Scan(ctx, f, func(r *audit.Record) error {
		overview.Add(r)
		byType.Add(r)
		bySeverity.Add(r)
		return nil
	})
	observe("statistics", err)
	if err != nil {
		return nil, fmt.Errorf("statistics failed: %w", err)
	}

	return &audit.Statistics{
		From:        from,
		To:          to,
		Overview:    overview.Result(),
		ByEventType: byType.Buckets(),
		BySeverity:  bySeverity.Buckets(),
	}, nil
}
