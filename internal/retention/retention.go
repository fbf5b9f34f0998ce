// Package retention archives and purges aged audit records.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/neogan74/auditlens/internal/audit"
	"github.com/neogan74/auditlens/internal/envelope"
	"github.com/neogan74/auditlens/internal/logger"
	"github.com/neogan74/auditlens/internal/metrics"
	"github.com/neogan74/auditlens/internal/store"
)

// Default sweep thresholds in days.
const (
	DefaultArchiveDays = 90
	DefaultPurgeDays   = 180
)

const (
	sweepArchive = "archive"
	sweepPurge   = "purge"
	sweepExpire  = "expire"
)

// Recorder logs the outcome of each sweep.
type Recorder interface {
	Record(ctx context.Context, in envelope.Input) *audit.Record
}

// Result summarizes one sweep.
type Result struct {
	Sweep    string    `json:"sweep"`
	AgeDays  int       `json:"ageDays"`
	Cutoff   time.Time `json:"cutoff"`
	Affected int64     `json:"affected"`
}

// Manager runs the archive and purge sweeps against a store.
type Manager struct {
	store       store.Store
	recorder    Recorder
	log         logger.Logger
	archiveDays int
	purgeDays   int
	now         func() time.Time
}

// NewManager creates a retention manager. Non-positive day counts fall back to
// the defaults. A nil recorder disables sweep records.
func NewManager(s store.Store, rec Recorder, archiveDays, purgeDays int, log logger.Logger) *Manager {
	if archiveDays <= 0 {
		archiveDays = DefaultArchiveDays
	}
	if purgeDays <= 0 {
		purgeDays = DefaultPurgeDays
	}
	return &Manager{
		store:       s,
		recorder:    rec,
		log:         log,
		archiveDays: archiveDays,
		purgeDays:   purgeDays,
		now:         time.Now,
	}
}

// Archive marks every unarchived record older than ageDays as archived.
// ageDays <= 0 uses the configured default.
func (m *Manager) Archive(ctx context.Context, ageDays int) (*Result, error) {
	if ageDays <= 0 {
		ageDays = m.archiveDays
	}
	return m.sweep(ctx, sweepArchive, ageDays, m.store.ArchiveOlderThan)
}

// Purge deletes archived records older than ageDays.
// ageDays <= 0 uses the configured default.
func (m *Manager) Purge(ctx context.Context, ageDays int) (*Result, error) {
	if ageDays <= 0 {
		ageDays = m.purgeDays
	}
	return m.sweep(ctx, sweepPurge, ageDays, m.store.DeleteArchivedOlderThan)
}

func (m *Manager) sweep(ctx context.Context, name string, ageDays int, op func(context.Context, time.Time) (int64, error)) (*Result, error) {
	now := m.now().UTC()
	cutoff := now.AddDate(0, 0, -ageDays)

	n, err := op(ctx, cutoff)
	if err != nil {
		m.log.Error("Retention sweep failed",
			logger.String("sweep", name),
			logger.Int("age_days", ageDays),
			logger.Error(err))
		return nil, fmt.Errorf("%s sweep: %w", name, err)
	}

	metrics.RetentionAffectedTotal.WithLabelValues(name).Add(float64(n))
	metrics.RetentionLastRun.WithLabelValues(name).Set(float64(now.Unix()))
	m.log.Info("Retention sweep completed",
		logger.String("sweep", name),
		logger.Int("age_days", ageDays),
		logger.Int64("affected", n))

	res := &Result{Sweep: name, AgeDays: ageDays, Cutoff: cutoff, Affected: n}
	m.record(ctx, res)
	return res, nil
}

func (m *Manager) record(ctx context.Context, res *Result) {
	if m.recorder == nil {
		return
	}
	eventType := audit.EventRetentionArchive
	verb := "Archived"
	if res.Sweep == sweepPurge {
		eventType = audit.EventRetentionPurge
		verb = "Purged"
	}
	m.recorder.Record(ctx, envelope.Input{
		EventType: eventType,
		Severity:  audit.SeverityInfo,
		Status:    audit.StatusSuccess,
		Actor:     envelope.SystemActor(),
		Message:   fmt.Sprintf("%s %d audit records older than %d days", verb, res.Affected, res.AgeDays),
		Metadata: map[string]any{
			"ageDays":  res.AgeDays,
			"cutoff":   res.Cutoff.Format(time.RFC3339),
			"affected": res.Affected,
		},
		Flags: audit.Flags{IsAutomated: true},
	})
}

// PruneExpired removes records past expiresAt on engines that do not expire
// them natively. It reports zero for engines that do.
func (m *Manager) PruneExpired(ctx context.Context) (int64, error) {
	p, ok := store.AsPruner(m.store)
	if !ok {
		return 0, nil
	}
	n, err := p.PruneExpired(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("prune expired: %w", err)
	}
	if n > 0 {
		metrics.RetentionAffectedTotal.WithLabelValues(sweepExpire).Add(float64(n))
		m.log.Debug("Pruned expired audit records", logger.Int64("count", n))
	}
	return n, nil
}
