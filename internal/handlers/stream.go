package handlers

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/auditlens/internal/audit"
	"github.com/neogan74/auditlens/internal/envelope"
	"github.com/neogan74/auditlens/internal/logger"
	"github.com/neogan74/auditlens/internal/middleware"
	"github.com/neogan74/auditlens/internal/notify"
)

const (
	pingInterval = 30 * time.Second
	readDeadline = 60 * time.Second
)

// StreamHandler pushes elevated records to live clients over WebSocket or SSE.
type StreamHandler struct {
	hub *notify.Hub
	log logger.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(hub *notify.Hub, log logger.Logger) *StreamHandler {
	return &StreamHandler{hub: hub, log: log}
}

// streamParams reads ?pattern= and ?severity=high,critical.
func streamParams(query func(string, ...string) string) (string, []audit.Severity, error) {
	pattern := strings.Clone(query("pattern", "**"))
	var severities []audit.Severity
	for _, s := range splitList(query("severity")) {
		sev, err := audit.ParseSeverity(s)
		if err != nil {
			return "", nil, err
		}
		severities = append(severities, sev)
	}
	return pattern, severities, nil
}

// Upgrade rejects non-WebSocket requests. Locals set by the JWT middleware
// survive the upgrade.
func (h *StreamHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if _, _, err := streamParams(c.Query); err != nil {
		return middleware.FromError(c, err)
	}
	return c.Next()
}

// WebSocket handles GET /audit/stream.
func (h *StreamHandler) WebSocket(c *websocket.Conn) {
	pattern, severities, _ := streamParams(c.Query)
	userID, _ := c.Locals(envelope.LocalUserID).(string)
	if userID == "" {
		userID = "anonymous"
	}

	sub, err := h.hub.Subscribe(pattern, severities, notify.TransportWebSocket, userID)
	if err != nil {
		h.log.Warn("Failed to add stream subscriber", logger.Error(err))
		_ = c.WriteJSON(fiber.Map{"error": "subscribe failed", "message": err.Error()})
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
		return
	}
	defer h.hub.Unsubscribe(sub.ID)

	_ = c.SetReadDeadline(time.Now().Add(readDeadline))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(readDeadline))
	})

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case rec, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := c.WriteJSON(rec); err != nil {
				h.log.Debug("Failed to write stream event", logger.Error(err))
				return
			}
		case <-ping.C:
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			h.log.Debug("Stream client disconnected", logger.String("subscriber_id", sub.ID))
			return
		}
	}
}

// SSE handles GET /audit/stream/sse.
func (h *StreamHandler) SSE(c *fiber.Ctx) error {
	pattern, severities, err := streamParams(c.Query)
	if err != nil {
		return middleware.FromError(c, err)
	}
	userID := middleware.GetUserID(c)
	if userID == "" {
		userID = "anonymous"
	}

	sub, err := h.hub.Subscribe(pattern, severities, notify.TransportSSE, strings.Clone(userID))
	if errors.Is(err, notify.ErrTooManySubscribers) {
		return middleware.ServiceUnavailable(c, err.Error())
	}
	if err != nil {
		return middleware.FromError(c, err)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer h.hub.Unsubscribe(sub.ID)

		keepAlive := time.NewTicker(pingInterval)
		defer keepAlive.Stop()

		// An initial comment lets clients know the subscription is live.
		fmt.Fprintf(w, ": subscribed %s\n\n", sub.ID)
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case rec, ok := <-sub.Events:
				if !ok {
					return
				}
				if err := writeSSE(w, rec); err != nil {
					h.log.Debug("Failed to write SSE event", logger.Error(err))
					return
				}
			case <-keepAlive.C:
				fmt.Fprintf(w, ": keep-alive\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})
	return nil
}

func writeSSE(w *bufio.Writer, rec *audit.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", rec.ID, rec.EventType, data)
	return w.Flush()
}
