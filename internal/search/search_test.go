package search

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/neogan74/auditlens/internal/audit"
	"github.com/neogan74/auditlens/internal/logger"
	"github.com/neogan74/auditlens/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func rec(id, eventType string, sev audit.Severity, age time.Duration, mutate ...func(*audit.Record)) *audit.Record {
	r := &audit.Record{
		ID:            id,
		EventType:     eventType,
		EventCategory: audit.CategoryOf(eventType),
		Severity:      sev,
		Status:        audit.StatusSuccess,
		Actor:         &audit.ActorRef{UserID: "u1", Username: "alice"},
		Session:       &audit.Session{IPAddress: "203.0.113.7"},
		Message:       "event " + id,
		Timestamp:     now.Add(-age),
	}
	for _, m := range mutate {
		m(r)
	}
	return r
}

func newService(t *testing.T, records ...*audit.Record) *Service {
	t.Helper()
	s := store.NewMemoryStore()
	for _, r := range records {
		require.NoError(t, s.Insert(context.Background(), r))
	}
	svc := NewService(s, time.Second, logger.NewNop())
	svc.now = func() time.Time { return now }
	return svc
}

func TestSearchPagination(t *testing.T) {
	var records []*audit.Record
	for i := 0; i < 7; i++ {
		records = append(records, rec(fmt.Sprintf("r%d", i), "data.read", audit.SeverityInfo, time.Duration(i)*time.Minute))
	}
	svc := newService(t, records...)

	res, err := svc.Search(context.Background(), audit.Filter{}, audit.Page{Limit: 3, Offset: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Total)
	assert.Equal(t, 3, res.PageCount)
	assert.Equal(t, 3, res.Limit)
	require.Len(t, res.Records, 3)
	assert.Equal(t, "r3", res.Records[0].ID)

	res, err = svc.Search(context.Background(), audit.Filter{}, audit.Page{})
	require.NoError(t, err)
	assert.Equal(t, audit.DefaultLimit, res.Limit)
	assert.Equal(t, 1, res.PageCount)
}

func TestSearchTextAndTimeRange(t *testing.T) {
	svc := newService(t,
		rec("a", "auth.login", audit.SeverityInfo, time.Hour, func(r *audit.Record) { r.Message = "Password reset requested" }),
		rec("b", "auth.login", audit.SeverityInfo, 2*time.Hour, func(r *audit.Record) { r.ResourceName = "Quarterly report" }),
		rec("c", "auth.login", audit.SeverityInfo, 3*time.Hour),
	)

	res, err := svc.Search(context.Background(), audit.Filter{Text: "PASSWORD"}, audit.Page{})
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Total)
	assert.Equal(t, "a", res.Records[0].ID)

	res, err = svc.Search(context.Background(), audit.Filter{Text: "report"}, audit.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Total)

	res, err = svc.Search(context.Background(), audit.Filter{From: now.Add(-2 * time.Hour), To: now.Add(-time.Hour)}, audit.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Total, "bounds are inclusive")

	_, err = svc.Search(context.Background(), audit.Filter{From: now, To: now.Add(-time.Hour)}, audit.Page{})
	assert.True(t, audit.IsValidation(err))
}

func TestGetByIDAndActor(t *testing.T) {
	svc := newService(t,
		rec("a", "data.read", audit.SeverityInfo, time.Minute),
		rec("b", "data.read", audit.SeverityInfo, time.Minute, func(r *audit.Record) { r.Actor = &audit.ActorRef{UserID: "u2"} }),
	)

	got, err := svc.GetByID(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)

	_, err = svc.GetByID(context.Background(), "zzz")
	assert.True(t, audit.IsNotFound(err))

	res, err := svc.GetByActor(context.Background(), "u2", time.Time{}, time.Time{}, audit.Page{})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "b", res.Records[0].ID)

	_, err = svc.GetByActor(context.Background(), "", time.Time{}, time.Time{}, audit.Page{})
	assert.True(t, audit.IsValidation(err))
}

func TestCriticalAndSuspiciousWindows(t *testing.T) {
	svc := newService(t,
		rec("crit", "system.outage", audit.SeverityCritical, time.Hour),
		rec("high", "auth.lockout", audit.SeverityHigh, 2*time.Hour),
		rec("old", "auth.lockout", audit.SeverityCritical, 30*time.Hour),
		rec("info", "data.read", audit.SeverityInfo, time.Hour),
		rec("screen", audit.EventSuspiciousActivity, audit.SeverityHigh, 3*time.Hour),
		rec("flagged", "data.export", audit.SeverityLow, 4*time.Hour, func(r *audit.Record) { r.Flags.IsSuspicious = true }),
	)

	critical, err := svc.CriticalEvents(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"crit", "high", "screen"}, ids(critical))

	critical, err = svc.CriticalEvents(context.Background(), 48)
	require.NoError(t, err)
	assert.Len(t, critical, 4)

	suspicious, err := svc.SuspiciousEvents(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, []string{"screen", "flagged"}, ids(suspicious))
}

func TestStatisticsInMemory(t *testing.T) {
	svc := newService(t,
		rec("a", "auth.login", audit.SeverityInfo, time.Hour),
		rec("b", "auth.login", audit.SeverityHigh, time.Hour, func(r *audit.Record) { r.Status = audit.StatusFailure }),
		rec("c", "auth.login", audit.SeverityCritical, time.Hour, func(r *audit.Record) {
			r.Actor = &audit.ActorRef{UserID: "u2"}
			r.Flags.IsAnomaly = true
		}),
		rec("d", "data.update", audit.SeverityInfo, time.Hour, func(r *audit.Record) {
			r.Session = &audit.Session{IPAddress: "198.51.100.1"}
		}),
		rec("outside", "data.update", audit.SeverityInfo, 72*time.Hour),
	)

	st, err := svc.Statistics(context.Background(), now.Add(-24*time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.Overview.TotalEvents)
	assert.Equal(t, int64(2), st.Overview.CriticalHigh)
	assert.Equal(t, int64(1), st.Overview.Failures)
	assert.Equal(t, int64(2), st.Overview.DistinctActors)
	assert.Equal(t, int64(2), st.Overview.DistinctOrigins)
	assert.Equal(t, int64(1), st.Overview.Anomalies)
	assert.Equal(t, 75.0, st.Overview.SuccessRate)
	assert.Equal(t, []audit.Bucket{{Key: "auth.login", Count: 3}, {Key: "data.update", Count: 1}}, st.ByEventType)
	assert.Equal(t, audit.Bucket{Key: "info", Count: 2}, st.BySeverity[0])

	_, err = svc.Statistics(context.Background(), now, now.Add(-time.Hour))
	assert.True(t, audit.IsValidation(err))
}

// writeBehindStore lands a new in-range record after every scan.
type writeBehindStore struct {
	*store.MemoryStore
	scans int
}

func (w *writeBehindStore) Scan(ctx context.Context, f audit.Filter, fn func(*audit.Record) error) error {
	err := w.MemoryStore.Scan(ctx, f, fn)
	w.scans++
	_ = w.MemoryStore.Insert(ctx, rec(fmt.Sprintf("late-%d", w.scans), "auth.logout", audit.SeverityLow, time.Minute))
	return err
}

func TestStatisticsBreakdownsMatchOverview(t *testing.T) {
	ws := &writeBehindStore{MemoryStore: store.NewMemoryStore()}
	for i, sev := range []audit.Severity{audit.SeverityInfo, audit.SeverityHigh, audit.SeverityCritical} {
		require.NoError(t, ws.Insert(context.Background(), rec(fmt.Sprintf("r%d", i), "auth.login", sev, time.Hour)))
	}
	svc := NewService(ws, time.Second, logger.NewNop())

	st, err := svc.Statistics(context.Background(), now.Add(-24*time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, 1, ws.scans)

	sum := func(buckets []audit.Bucket) int64 {
		var n int64
		for _, b := range buckets {
			n += b.Count
		}
		return n
	}
	assert.Equal(t, int64(3), st.Overview.TotalEvents)
	assert.Equal(t, st.Overview.TotalEvents, sum(st.ByEventType))
	assert.Equal(t, st.Overview.TotalEvents, sum(st.BySeverity))
}

type aggregatingStore struct {
	*store.MemoryStore
	calls int
}

func (a *aggregatingStore) Statistics(_ context.Context, from, to time.Time) (*audit.Statistics, error) {
	a.calls++
	return &audit.Statistics{From: from, To: to, Overview: audit.Overview{TotalEvents: 42}}, nil
}

func TestStatisticsPushdown(t *testing.T) {
	agg := &aggregatingStore{MemoryStore: store.NewMemoryStore()}
	svc := NewService(store.Instrument(agg), 0, logger.NewNop())

	st, err := svc.Statistics(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(42), st.Overview.TotalEvents)
	assert.Equal(t, 1, agg.calls)
}

type failingStore struct {
	*store.MemoryStore
}

var errDown = errors.New("store unavailable")

func (failingStore) Find(context.Context, audit.Filter, audit.Page) ([]*audit.Record, int64, error) {
	return nil, 0, errDown
}

func (failingStore) Scan(context.Context, audit.Filter, func(*audit.Record) error) error {
	return errDown
}

func TestReadErrorsSurface(t *testing.T) {
	svc := NewService(failingStore{store.NewMemoryStore()}, 0, logger.NewNop())

	_, err := svc.Search(context.Background(), audit.Filter{}, audit.Page{})
	assert.ErrorIs(t, err, errDown)

	_, err = svc.Statistics(context.Background(), time.Time{}, time.Time{})
	assert.ErrorIs(t, err, errDown)

	_, err = svc.Export(context.Background(), audit.Filter{}, FormatCSV, &bytes.Buffer{})
	assert.ErrorIs(t, err, errDown)
}

func TestExportCSVColumnsAndCount(t *testing.T) {
	svc := newService(t,
		rec("a", "auth.login", audit.SeverityInfo, time.Hour, func(r *audit.Record) { r.Message = "signed in, via sso" }),
		rec("b", "data.delete", audit.SeverityHigh, 2*time.Hour, func(r *audit.Record) { r.Actor = nil }),
		rec("c", "data.read", audit.SeverityLow, 3*time.Hour),
	)

	var buf bytes.Buffer
	n, err := svc.Export(context.Background(), audit.Filter{}, FormatCSV, &buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, CSVHeader, rows[0])
	assert.Equal(t, []string{"2026-03-10T11:00:00Z", "auth.login", "info", "success", "alice", "203.0.113.7", "signed in, via sso"}, rows[1])
	assert.Equal(t, "", rows[2][4], "system events have no actor")
}

func TestExportJSON(t *testing.T) {
	svc := newService(t, rec("a", "auth.login", audit.SeverityInfo, time.Hour))

	var buf bytes.Buffer
	n, err := svc.Export(context.Background(), audit.Filter{EventType: "auth.login"}, FormatJSON, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var out []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "auth.login", out[0]["eventType"])

	buf.Reset()
	n, err = svc.Export(context.Background(), audit.Filter{EventType: "none"}, FormatJSON, &buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, "[]\n", buf.String())
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatJSON, false},
		{"JSON", FormatJSON, false},
		{"csv", FormatCSV, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.True(t, audit.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "text/csv; charset=utf-8", FormatCSV.ContentType())
}

func ids(records []*audit.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
