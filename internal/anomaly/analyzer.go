package anomaly

import (
	"context"
	"fmt"
	"time"

	"github.com/neogan74/auditlens/internal/audit"
	"github.com/neogan74/auditlens/internal/logger"
	"github.com/neogan74/auditlens/internal/metrics"
	"github.com/neogan74/auditlens/internal/store"
)

// DefaultPatternDays is the trailing window of a behavior pattern.
const DefaultPatternDays = 7

// Config tunes the analyzer. Zero values select the defaults.
type Config struct {
	K           float64
	PatternDays int
	HighVolume  float64
}

// Report is the behavior analysis of one actor.
type Report struct {
	ActorID   string    `json:"actorId"`
	Days      int       `json:"days"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Pattern   Pattern   `json:"pattern"`
	Anomalies []Anomaly `json:"anomalies"`
	Risk      Risk      `json:"risk"`
}

// Analyzer reads an actor's history from the store.
type Analyzer struct {
	store store.Store
	cfg   Config
	log   logger.Logger
	now   func() time.Time
}

func NewAnalyzer(s store.Store, cfg Config, log logger.Logger) *Analyzer {
	if cfg.K <= 0 {
		cfg.K = DefaultK
	}
	if cfg.PatternDays <= 0 {
		cfg.PatternDays = DefaultPatternDays
	}
	if cfg.HighVolume <= 0 {
		cfg.HighVolume = HighVolumeThreshold
	}
	return &Analyzer{store: s, cfg: cfg, log: log, now: time.Now}
}

func (a *Analyzer) history(ctx context.Context, actorID string) ([]*audit.Record, error) {
	var out []*audit.Record
	err := a.store.Scan(ctx, audit.Filter{ActorID: actorID}, func(r *audit.Record) error {
		out = append(out, r)
		return nil
	})
	return out, err
}

// DetectForActor runs detection over the actor's full history.
func (a *Analyzer) DetectForActor(ctx context.Context, actorID string, k float64) ([]Anomaly, error) {
	if k <= 0 {
		k = a.cfg.K
	}
	records, err := a.history(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", actorID, err)
	}
	return Detect(DailyCounts(records), k), nil
}

// BehaviorPattern builds the pattern over the trailing days window, detects
// anomalies over the full history and scores them. days <= 0 selects the
// configured window.
func (a *Analyzer) BehaviorPattern(ctx context.Context, actorID string, days int) (*Report, error) {
	if actorID == "" {
		return nil, &audit.ValidationError{Field: "actorId", Message: "actor id is required"}
	}
	if days <= 0 {
		days = a.cfg.PatternDays
	}

	records, err := a.history(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", actorID, err)
	}

	to := a.now()
	from := to.AddDate(0, 0, -days)
	var window []*audit.Record
	for _, r := range records {
		if !r.Timestamp.Before(from) && !r.Timestamp.After(to) {
			window = append(window, r)
		}
	}

	anomalies := Detect(DailyCounts(records), a.cfg.K)
	mean := float64(len(window)) / float64(days)
	risk := RiskScore(len(anomalies), mean, a.cfg.HighVolume)

	metrics.AnomaliesDetectedTotal.Add(float64(len(anomalies)))
	metrics.RiskScore.Observe(float64(risk.Score))

	if risk.Level == LevelCritical || risk.Level == LevelHigh {
		a.log.Warn("Elevated actor risk",
			logger.String("actor_id", actorID),
			logger.Int("score", risk.Score),
			logger.String("level", string(risk.Level)),
			logger.Int("anomalies", len(anomalies)))
	}

	return &Report{
		ActorID:   actorID,
		Days:      days,
		From:      from,
		To:        to,
		Pattern:   BuildPattern(window),
		Anomalies: anomalies,
		Risk:      risk,
	}, nil
}

// MarkAnomalies sets flags.isAnomaly on every record of the actor's anomalous
// days and returns how many records changed.
func (a *Analyzer) MarkAnomalies(ctx context.Context, actorID string) (int, error) {
	anomalies, err := a.DetectForActor(ctx, actorID, 0)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, an := range anomalies {
		for _, r := range an.Events {
			if r.Flags.IsAnomaly {
				continue
			}
			_, err := a.store.Update(ctx, r.ID, func(rec *audit.Record) error {
				rec.Flags.IsAnomaly = true
				return nil
			})
			if audit.IsNotFound(err) {
				continue
			}
			if err != nil {
				return changed, fmt.Errorf("failed to flag record %s: %w", r.ID, err)
			}
			changed++
		}
	}
	if changed > 0 {
		a.log.Info("Flagged anomalous records",
			logger.String("actor_id", actorID),
			logger.Int("records", changed))
	}
	return changed, nil
}
