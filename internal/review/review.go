// Package review implements the operator workflow on individual records:
// review transitions, flag updates and related-event links. Every mutation is
// a read-modify-write on one record; concurrent writers resolve last-write-wins.
package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neogan74/auditlens/internal/audit"
	"github.com/neogan74/auditlens/internal/logger"
	"github.com/neogan74/auditlens/internal/metrics"
	"github.com/neogan74/auditlens/internal/store"
)

// Service mutates review state on stored records.
type Service struct {
	store store.Store
	log   logger.Logger
	now   func() time.Time
}

// NewService creates a review service.
func NewService(s store.Store, log logger.Logger) *Service {
	return &Service{store: s, log: log, now: time.Now}
}

// Review moves the record to status on behalf of reviewer. A later review
// overwrites an earlier one.
func (s *Service) Review(ctx context.Context, id, reviewer string, status audit.ReviewStatus, notes string) (*audit.Record, error) {
	status = audit.ReviewStatus(strings.ToLower(strings.TrimSpace(string(status))))
	if !status.ValidTarget() {
		return nil, fmt.Errorf("%w: %q", audit.ErrInvalidReviewStatus, status)
	}
	if strings.TrimSpace(reviewer) == "" {
		return nil, &audit.ValidationError{Field: "reviewer", Message: "reviewer is required"}
	}

	reviewedAt := s.now().UTC()
	rec, err := s.store.Update(ctx, id, func(r *audit.Record) error {
		r.Review = audit.Review{
			Status:     status,
			ReviewedBy: reviewer,
			ReviewedAt: &reviewedAt,
			Notes:      notes,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ReviewsTotal.WithLabelValues(string(status)).Inc()
	s.log.Info("Audit record reviewed",
		logger.String("id", id),
		logger.String("status", string(status)),
		logger.String("reviewer", reviewer))
	return rec, nil
}

// SetFlags merges patch into the record's flags. Unset fields keep their value.
func (s *Service) SetFlags(ctx context.Context, id string, patch audit.FlagPatch) (*audit.Record, error) {
	if patch.Empty() {
		return nil, &audit.ValidationError{Field: "flags", Message: "at least one flag must be set"}
	}
	rec, err := s.store.Update(ctx, id, func(r *audit.Record) error {
		patch.Apply(&r.Flags)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug("Audit record flags updated", logger.String("id", id))
	return rec, nil
}

// LinkRelated adds relatedID to the record's related events. Linking twice is a no-op.
func (s *Service) LinkRelated(ctx context.Context, id, relatedID string) (*audit.Record, error) {
	relatedID = strings.TrimSpace(relatedID)
	if relatedID == "" {
		return nil, &audit.ValidationError{Field: "relatedId", Message: "related event id is required"}
	}
	if relatedID == id {
		return nil, &audit.ValidationError{Field: "relatedId", Message: "a record cannot be related to itself"}
	}
	if _, err := s.store.Get(ctx, relatedID); err != nil {
		return nil, err
	}

	return s.store.Update(ctx, id, func(r *audit.Record) error {
		r.Context.AddRelated(relatedID)
		return nil
	})
}
