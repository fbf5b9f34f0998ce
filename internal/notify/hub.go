package notify

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neogan74/auditlens/internal/audit"
	"github.com/neogan74/auditlens/internal/logger"
	"github.com/neogan74/auditlens/internal/metrics"
)

// ErrTooManySubscribers is returned when the hub is at capacity.
var ErrTooManySubscribers = errors.New("too many stream subscribers")

// Transport identifies how a subscriber is connected.
type Transport string

const (
	TransportWebSocket Transport = "websocket"
	TransportSSE       Transport = "sse"
)

// Subscriber is one live stream client.
type Subscriber struct {
	ID         string
	Pattern    string // event type, supports * and a trailing **
	Severities []audit.Severity
	Transport  Transport
	UserID     string
	CreatedAt  time.Time
	Events     chan *audit.Record
}

func (s *Subscriber) wants(rec *audit.Record) bool {
	if len(s.Severities) == 0 {
		return true
	}
	for _, sev := range s.Severities {
		if sev == rec.Severity {
			return true
		}
	}
	return false
}

// Hub fans records out to live subscribers without blocking the sender.
type Hub struct {
	subs       map[string]*Subscriber
	mu         sync.RWMutex
	log        logger.Logger
	bufferSize int
	maxSubs    int
}

// NewHub creates a hub. maxSubs <= 0 means unlimited.
func NewHub(log logger.Logger, bufferSize, maxSubs int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Hub{
		subs:       make(map[string]*Subscriber),
		log:        log,
		bufferSize: bufferSize,
		maxSubs:    maxSubs,
	}
}

func (h *Hub) Name() string { return "hub" }

// Subscribe registers a subscriber. An empty pattern matches every event type.
func (h *Hub) Subscribe(pattern string, severities []audit.Severity, transport Transport, userID string) (*Subscriber, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.maxSubs > 0 && len(h.subs) >= h.maxSubs {
		h.log.Warn("Stream subscriber limit reached",
			logger.Int("max", h.maxSubs),
			logger.String("user_id", userID))
		return nil, ErrTooManySubscribers
	}
	if pattern == "" {
		pattern = "**"
	}

	sub := &Subscriber{
		ID:         uuid.New().String(),
		Pattern:    pattern,
		Severities: severities,
		Transport:  transport,
		UserID:     userID,
		CreatedAt:  time.Now(),
		Events:     make(chan *audit.Record, h.bufferSize),
	}
	h.subs[sub.ID] = sub
	metrics.StreamClients.Inc()

	h.log.Info("Stream subscriber added",
		logger.String("id", sub.ID),
		logger.String("pattern", pattern),
		logger.String("transport", string(transport)),
		logger.String("user_id", userID))
	return sub, nil
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[id]
	if !ok {
		return
	}
	close(sub.Events)
	delete(h.subs, id)
	metrics.StreamClients.Dec()

	h.log.Info("Stream subscriber removed", logger.String("id", id))
}

// Notify delivers rec to every matching subscriber. Full subscriber buffers drop the record.
func (h *Hub) Notify(_ context.Context, rec *audit.Record) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered, dropped := 0, 0
	for _, sub := range h.subs {
		if !matchesPattern(rec.EventType, sub.Pattern) || !sub.wants(rec) {
			continue
		}
		select {
		case sub.Events <- rec:
			delivered++
		default:
			dropped++
			metrics.StreamEventsDropped.Inc()
			h.log.Warn("Stream subscriber buffer full, dropping record",
				logger.String("subscriber_id", sub.ID),
				logger.String("record_id", rec.ID))
		}
	}

	if delivered > 0 || dropped > 0 {
		h.log.Debug("Record streamed",
			logger.String("record_id", rec.ID),
			logger.Int("delivered", delivered),
			logger.Int("dropped", dropped))
	}
	return nil
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		close(sub.Events)
		delete(h.subs, id)
		metrics.StreamClients.Dec()
	}
}

func matchesPattern(eventType, pattern string) bool {
	if pattern == eventType || pattern == "**" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}
	if strings.HasSuffix(pattern, "**") {
		return strings.HasPrefix(eventType, strings.TrimSuffix(pattern, "**"))
	}
	matched, err := filepath.Match(pattern, eventType)
	return err == nil && matched
}
