package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/auditlens/internal/anomaly"
	"github.com/neogan74/auditlens/internal/audit"
	"github.com/neogan74/auditlens/internal/envelope"
	"github.com/neogan74/auditlens/internal/logger"
	"github.com/neogan74/auditlens/internal/middleware"
	"github.com/neogan74/auditlens/internal/recorder"
	"github.com/neogan74/auditlens/internal/retention"
	"github.com/neogan74/auditlens/internal/review"
	"github.com/neogan74/auditlens/internal/search"
	"github.com/neogan74/auditlens/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	app   *fiber.App
	store *store.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewNop()
	st := store.NewMemoryStore()
	rec := recorder.New(envelope.NewBuilder(), st, nil, 0, log)

	events := NewEventHandler(rec, search.NewService(st, time.Second, log), log)
	reviews := NewReviewHandler(review.NewService(st, log), log)
	behavior := NewBehaviorHandler(anomaly.NewAnalyzer(st, anomaly.Config{K: 2}, log), log)
	sweeps := NewRetentionHandler(retention.NewManager(st, rec, 0, 0, log), log)

	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	app.Use(middleware.RequestLogging(log))

	api := app.Group("/audit")
	api.Post("/events", events.Record)
	api.Get("/events", events.Search)
	api.Get("/events/:id", events.Get)
	api.Post("/events/:id/review", reviews.Review)
	api.Patch("/events/:id/flags", reviews.SetFlags)
	api.Post("/events/:id/related", reviews.LinkRelated)
	api.Get("/statistics", events.Statistics)
	api.Get("/actors/:actorId/events", events.ActorEvents)
	api.Get("/actors/:actorId/behavior", behavior.Behavior)
	api.Get("/actors/:actorId/anomalies", behavior.Anomalies)
	api.Post("/actors/:actorId/anomalies/mark", behavior.MarkAnomalies)
	api.Get("/critical", events.Critical)
	api.Get("/suspicious", events.Suspicious)
	api.Get("/export", events.Export)
	api.Post("/retention/archive", sweeps.Archive)
	api.Post("/retention/purge", sweeps.Purge)

	return &fixture{app: app, store: st}
}

func (f *fixture) seed(t *testing.T, id, actor string, sev audit.Severity, age time.Duration, mutate ...func(*audit.Record)) {
	t.Helper()
	ts := time.Now().UTC().Add(-age).Truncate(time.Millisecond)
	rec := &audit.Record{
		ID:            id,
		EventType:     "data.update",
		EventCategory: "data",
		Severity:      sev,
		Status:        audit.StatusSuccess,
		Actor:         &audit.ActorRef{UserID: actor},
		Message:       "record " + id,
		Review:        audit.Review{Status: audit.ReviewPending},
		Timestamp:     ts,
		ExpiresAt:     time.Now().Add(time.Hour),
	}
	for _, m := range mutate {
		m(rec)
	}
	require.NoError(t, f.store.Insert(context.Background(), rec))
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

type recordList struct {
	Records []*audit.Record `json:"records"`
	Count   int             `json:"count"`
}

func TestRecordEvent(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, "POST", "/audit/events", map[string]any{
		"eventType": "auth.login",
		"message":   "User logged in",
		"actor":     "user-1",
		"severity":  "low",
		"tags":      []string{"web"},
		"metadata":  map[string]any{"password": "hunter2"},
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	rec := decode[audit.Record](t, resp)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "auth", rec.EventCategory)
	require.NotNil(t, rec.Actor)
	assert.Equal(t, "user-1", rec.Actor.UserID)
	assert.NotEmpty(t, rec.Context.CorrelationID, "request id becomes the correlation id")

	stored, err := f.store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"web"}, stored.Tags)
}

func TestRecordEventValidation(t *testing.T) {
	f := newFixture(t)

	for name, body := range map[string]map[string]any{
		"missing event type": {"message": "x"},
		"missing message":    {"eventType": "auth.login"},
		"unknown severity":   {"eventType": "auth.login", "message": "x", "severity": "urgent"},
	} {
		t.Run(name, func(t *testing.T) {
			resp := f.do(t, "POST", "/audit/events", body)
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
			errResp := decode[middleware.ErrorResponse](t, resp)
			assert.Equal(t, "Bad Request", errResp.Error)
		})
	}
}

func TestSearchAndGet(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", "u1", audit.SeverityHigh, time.Hour)
	f.seed(t, "b", "u1", audit.SeverityLow, 2*time.Hour)
	f.seed(t, "c", "u2", audit.SeverityHigh, 3*time.Hour, func(r *audit.Record) { r.Tags = []string{"billing"} })

	resp := f.do(t, "GET", "/audit/events?severity=high&limit=1", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	res := decode[search.Result](t, resp)
	assert.Equal(t, int64(2), res.Total)
	assert.Equal(t, 2, res.PageCount)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "a", res.Records[0].ID)

	res = decode[search.Result](t, f.do(t, "GET", "/audit/events?tags=billing", nil))
	require.Len(t, res.Records, 1)
	assert.Equal(t, "c", res.Records[0].ID)

	resp = f.do(t, "GET", "/audit/events?severity=nope", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	resp = f.do(t, "GET", "/audit/events?from=2026-03-02&to=2026-03-01", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, "GET", "/audit/events/b", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "b", decode[audit.Record](t, resp).ID)

	resp = f.do(t, "GET", "/audit/events/missing", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestActorCriticalAndSuspicious(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", "u1", audit.SeverityCritical, time.Hour)
	f.seed(t, "b", "u1", audit.SeverityLow, time.Hour, func(r *audit.Record) { r.Flags.IsSuspicious = true })
	f.seed(t, "c", "u2", audit.SeverityHigh, 48*time.Hour)

	res := decode[search.Result](t, f.do(t, "GET", "/audit/actors/u1/events", nil))
	assert.Equal(t, int64(2), res.Total)

	listing := decode[recordList](t, f.do(t, "GET", "/audit/critical?hours=24", nil))
	assert.Equal(t, 1, listing.Count)

	listing = decode[recordList](t, f.do(t, "GET", "/audit/critical?hours=72", nil))
	assert.Equal(t, 2, listing.Count)

	listing = decode[recordList](t, f.do(t, "GET", "/audit/suspicious", nil))
	require.Equal(t, 1, listing.Count)
	assert.Equal(t, "b", listing.Records[0].ID)
}

func TestStatistics(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", "u1", audit.SeverityHigh, time.Hour)
	f.seed(t, "b", "u2", audit.SeverityLow, time.Hour, func(r *audit.Record) { r.Status = audit.StatusFailure })

	resp := f.do(t, "GET", "/audit/statistics", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	stats := decode[audit.Statistics](t, resp)
	assert.Equal(t, int64(2), stats.Overview.TotalEvents)
	assert.Equal(t, int64(1), stats.Overview.CriticalHigh)
	assert.Equal(t, int64(1), stats.Overview.Failures)
	assert.Equal(t, int64(2), stats.Overview.DistinctActors)
	assert.InDelta(t, 50.0, stats.Overview.SuccessRate, 0.001)
}

func TestReviewWorkflow(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", "u1", audit.SeverityHigh, time.Hour)
	f.seed(t, "b", "u1", audit.SeverityLow, time.Hour)

	resp := f.do(t, "POST", "/audit/events/a/review", map[string]any{"status": "approved", "reviewerId": "x"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp = f.do(t, "POST", "/audit/events/a/review", map[string]any{"status": "flagged", "reviewerId": "y", "notes": "odd"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	rec := decode[audit.Record](t, resp)
	assert.Equal(t, audit.ReviewFlagged, rec.Review.Status)
	assert.Equal(t, "y", rec.Review.ReviewedBy)

	resp = f.do(t, "POST", "/audit/events/a/review", map[string]any{"status": "bogus", "reviewerId": "x"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	resp = f.do(t, "POST", "/audit/events/missing/review", map[string]any{"status": "approved", "reviewerId": "x"})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp = f.do(t, "PATCH", "/audit/events/a/flags", map[string]any{"isSensitive": true})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, decode[audit.Record](t, resp).Flags.IsSensitive)

	resp = f.do(t, "PATCH", "/audit/events/a/flags", map[string]any{})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, "POST", "/audit/events/a/related", map[string]any{"relatedId": "b"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp = f.do(t, "POST", "/audit/events/a/related", map[string]any{"relatedId": "b"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"b"}, decode[audit.Record](t, resp).Context.RelatedEventIDs)

	resp = f.do(t, "POST", "/audit/events/a/related", map[string]any{})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", "u1", audit.SeverityHigh, time.Hour)
	f.seed(t, "b", "u2", audit.SeverityLow, 2*time.Hour)

	resp := f.do(t, "GET", "/audit/export?format=csv", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/csv")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".csv")
	assert.Equal(t, "2", resp.Header.Get("X-Export-Count"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(search.CSVHeader, ","), lines[0])

	resp = f.do(t, "GET", "/audit/export?severity=high", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	records := decode[[]*audit.Record](t, resp)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].ID)

	resp = f.do(t, "GET", "/audit/export?format=xml", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestBehaviorEndpoints(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 6; i++ {
		f.seed(t, "u1-"+string(rune('a'+i)), "u1", audit.SeverityLow, time.Duration(i+1)*24*time.Hour)
	}

	resp := f.do(t, "GET", "/audit/actors/u1/behavior?days=7", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	report := decode[anomaly.Report](t, resp)
	assert.Equal(t, "u1", report.ActorID)
	assert.Equal(t, 7, report.Days)
	assert.Equal(t, 6, report.Pattern.TotalEvents)
	assert.Equal(t, anomaly.LevelLow, report.Risk.Level)

	resp = f.do(t, "GET", "/audit/actors/u1/anomalies?k=-1", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, "POST", "/audit/actors/u1/anomalies/mark", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRetentionEndpoints(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "old", "u1", audit.SeverityLow, 40*24*time.Hour)
	f.seed(t, "new", "u1", audit.SeverityLow, time.Hour)

	resp := f.do(t, "POST", "/audit/retention/archive", map[string]any{"ageDays": 30})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	res := decode[retention.Result](t, resp)
	assert.Equal(t, int64(1), res.Affected)
	assert.Equal(t, 30, res.AgeDays)

	resp = f.do(t, "POST", "/audit/retention/purge?ageDays=35", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1), decode[retention.Result](t, resp).Affected)

	resp = f.do(t, "POST", "/audit/retention/archive", map[string]any{"ageDays": -5})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
