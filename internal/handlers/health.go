package handlers

import (
	"context"
	"runtime"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/auditlens/internal/logger"
	"github.com/neogan74/auditlens/internal/middleware"
	"github.com/neogan74/auditlens/internal/notify"
	"github.com/neogan74/auditlens/internal/store"
)

const readinessTimeout = 2 * time.Second

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status    string       `json:"status"`
	Version   string       `json:"version"`
	Uptime    string       `json:"uptime"`
	Timestamp time.Time    `json:"timestamp"`
	Store     StoreHealth  `json:"store"`
	Stream    StreamHealth `json:"stream"`
	System    SystemHealth `json:"system"`
}

type StoreHealth struct {
	Engine string `json:"engine"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type StreamHealth struct {
	Clients int `json:"clients"`
}

type SystemHealth struct {
	Goroutines  int    `json:"goroutines"`
	MemoryAlloc uint64 `json:"memory_alloc_bytes"`
	MemorySys   uint64 `json:"memory_sys_bytes"`
	NumGC       uint32 `json:"num_gc"`
}

// HealthHandler handles health check operations
type HealthHandler struct {
	store     store.Store
	hub       *notify.Hub
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler. hub may be nil.
func NewHealthHandler(s store.Store, hub *notify.Hub, version string) *HealthHandler {
	return &HealthHandler{
		store:     s,
		hub:       hub,
		startTime: time.Now(),
		version:   version,
	}
}

func (h *HealthHandler) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()
	return h.store.Ping(ctx)
}

// Check returns the health status of the service
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	status := HealthStatus{
		Status:    "healthy",
		Version:   h.version,
		Uptime:    time.Since(h.startTime).String(),
		Timestamp: time.Now(),
		Store:     StoreHealth{Engine: h.store.Name(), Status: "up"},
		System: SystemHealth{
			Goroutines:  runtime.NumGoroutine(),
			MemoryAlloc: m.Alloc,
			MemorySys:   m.Sys,
			NumGC:       m.NumGC,
		},
	}
	if h.hub != nil {
		status.Stream.Clients = h.hub.Count()
	}

	if err := h.ping(c.UserContext()); err != nil {
		status.Status = "degraded"
		status.Store.Status = "down"
		status.Store.Error = err.Error()
	}

	return c.JSON(status)
}

// Liveness is a simple liveness probe
func (h *HealthHandler) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// Readiness reports ready only while the store answers a ping.
func (h *HealthHandler) Readiness(c *fiber.Ctx) error {
	if err := h.ping(c.UserContext()); err != nil {
		middleware.GetLogger(c).Warn("Readiness check failed",
			logger.String("engine", h.store.Name()),
			logger.Error(err))
		return middleware.ServiceUnavailable(c, "event store unavailable")
	}

	return c.JSON(fiber.Map{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}
