package handlers

import (
	"bufio"
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/auditlens/internal/audit"
	"github.com/neogan74/auditlens/internal/logger"
	"github.com/neogan74/auditlens/internal/middleware"
	"github.com/neogan74/auditlens/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStreamApp(hub *notify.Hub) *fiber.App {
	h := NewStreamHandler(hub, logger.NewNop())
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	app.Get("/audit/stream", h.Upgrade, func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/audit/stream/sse", h.SSE)
	return app
}

func TestStreamParams(t *testing.T) {
	query := func(values map[string]string) func(string, ...string) string {
		return func(key string, def ...string) string {
			if v, ok := values[key]; ok {
				return v
			}
			if len(def) > 0 {
				return def[0]
			}
			return ""
		}
	}

	pattern, sevs, err := streamParams(query(nil))
	require.NoError(t, err)
	assert.Equal(t, "**", pattern)
	assert.Empty(t, sevs)

	pattern, sevs, err = streamParams(query(map[string]string{"pattern": "auth.*", "severity": "HIGH, critical"}))
	require.NoError(t, err)
	assert.Equal(t, "auth.*", pattern)
	assert.Equal(t, []audit.Severity{audit.SeverityHigh, audit.SeverityCritical}, sevs)

	_, _, err = streamParams(query(map[string]string{"severity": "loud"}))
	assert.True(t, audit.IsValidation(err))
}

func TestStreamUpgradeRequiresWebSocket(t *testing.T) {
	hub := notify.NewHub(logger.NewNop(), 0, 0)
	defer hub.Close()

	resp, err := newStreamApp(hub).Test(httptest.NewRequest(http.MethodGet, "/audit/stream", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}

func TestSSERejectsBadSeverity(t *testing.T) {
	hub := notify.NewHub(logger.NewNop(), 0, 0)
	defer hub.Close()

	resp, err := newStreamApp(hub).Test(httptest.NewRequest(http.MethodGet, "/audit/stream/sse?severity=loud", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, hub.Count())
}

func TestSSESubscriberLimit(t *testing.T) {
	hub := notify.NewHub(logger.NewNop(), 0, 1)
	defer hub.Close()

	_, err := hub.Subscribe("**", nil, notify.TransportSSE, "someone")
	require.NoError(t, err)

	resp, err := newStreamApp(hub).Test(httptest.NewRequest(http.MethodGet, "/audit/stream/sse", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	rec := &audit.Record{
		ID:        "r1",
		EventType: "security.login_failed",
		Severity:  audit.SeverityCritical,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	require.NoError(t, writeSSE(w, rec))

	out := buf.String()
	assert.Contains(t, out, "id: r1\n")
	assert.Contains(t, out, "event: security.login_failed\n")
	assert.Contains(t, out, `"severity":"critical"`)
	assert.True(t, bytes.HasSuffix(buf.Bytes(), []byte("\n\n")))
}
