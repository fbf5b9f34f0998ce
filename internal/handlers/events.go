package handlers

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/auditlens/internal/audit"
	"github.com/neogan74/auditlens/internal/envelope"
	"github.com/neogan74/auditlens/internal/logger"
	"github.com/neogan74/auditlens/internal/middleware"
	"github.com/neogan74/auditlens/internal/search"
)

// Recorder persists one audit event synchronously.
type Recorder interface {
	Record(ctx context.Context, in envelope.Input) *audit.Record
}

// RecordRequest is the body of POST /audit/events.
type RecordRequest struct {
	EventType   string                 `json:"eventType" validate:"required,max=128"`
	Category    string                 `json:"eventCategory" validate:"max=64"`
	Severity    string                 `json:"severity" validate:"omitempty,oneof=critical high medium low info"`
	Status      string                 `json:"status" validate:"omitempty,oneof=success failure pending cancelled"`
	Actor       *envelope.ActorInput   `json:"actor"`
	SessionID   string                 `json:"sessionId" validate:"max=256"`
	Resource    envelope.ResourceInput `json:"resource"`
	Changes     *audit.Changes         `json:"changes"`
	Metadata    map[string]any         `json:"metadata"`
	Message     string                 `json:"message" validate:"required,max=4096"`
	Description string                 `json:"description" validate:"max=16384"`
	Error       *audit.ErrorInfo       `json:"error"`
	Tags        []string               `json:"tags" validate:"max=32,dive,max=64"`
	Flags       audit.Flags            `json:"flags"`
	Context     audit.Context          `json:"context"`
	ExpiresAt   *time.Time             `json:"expiresAt"`
}

// EventHandler serves recording and the read side of the audit log.
type EventHandler struct {
	recorder Recorder
	search   *search.Service
	log      logger.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler(rec Recorder, svc *search.Service, log logger.Logger) *EventHandler {
	return &EventHandler{recorder: rec, search: svc, log: log}
}

// Record handles POST /audit/events. The caller's identity is the actor
// unless the body names one.
func (h *EventHandler) Record(c *fiber.Ctx) error {
	log := middleware.GetLogger(c)

	var req RecordRequest
	if err := bind(c, &req); err != nil {
		return middleware.FromError(c, err)
	}

	actor := envelope.ActorFromFiber(c)
	if req.Actor != nil {
		actor = *req.Actor
	}

	in := envelope.Input{
		EventType:   req.EventType,
		Category:    req.Category,
		Severity:    audit.Severity(req.Severity),
		Status:      audit.Status(req.Status),
		Actor:       actor,
		SessionID:   req.SessionID,
		Request:     envelope.RequestFromFiber(c),
		Resource:    req.Resource,
		Changes:     req.Changes,
		Metadata:    req.Metadata,
		Message:     req.Message,
		Description: req.Description,
		Error:       req.Error,
		Tags:        req.Tags,
		Flags:       req.Flags,
		Context:     req.Context,
		ExpiresAt:   req.ExpiresAt,
	}
	if in.Context.CorrelationID == "" {
		in.Context.CorrelationID = middleware.GetRequestID(c)
	}

	rec := h.recorder.Record(c.UserContext(), in)
	if rec == nil {
		log.Warn("Audit event was not recorded", logger.String("event_type", req.EventType))
		return middleware.InternalServerError(c, "audit event was not recorded")
	}

	log.Info("Audit event recorded",
		logger.String("id", rec.ID),
		logger.String("event_type", rec.EventType))
	return c.Status(fiber.StatusCreated).JSON(rec)
}

// Search handles GET /audit/events.
func (h *EventHandler) Search(c *fiber.Ctx) error {
	f, err := parseFilter(c)
	if err != nil {
		return middleware.FromError(c, err)
	}
	res, err := h.search.Search(c.UserContext(), f, parsePage(c))
	if err != nil {
		return h.readFailed(c, "search", err)
	}
	return c.JSON(res)
}

// Get handles GET /audit/events/:id.
func (h *EventHandler) Get(c *fiber.Ctx) error {
	rec, err := h.search.GetByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.readFailed(c, "get", err)
	}
	return c.JSON(rec)
}

// Statistics handles GET /audit/statistics.
func (h *EventHandler) Statistics(c *fiber.Ctx) error {
	from, to, err := parseRange(c)
	if err != nil {
		return middleware.FromError(c, err)
	}
	stats, err := h.search.Statistics(c.UserContext(), from, to)
	if err != nil {
		return h.readFailed(c, "statistics", err)
	}
	return c.JSON(stats)
}

// ActorEvents handles GET /audit/actors/:actorId/events.
func (h *EventHandler) ActorEvents(c *fiber.Ctx) error {
	from, to, err := parseRange(c)
	if err != nil {
		return middleware.FromError(c, err)
	}
	res, err := h.search.GetByActor(c.UserContext(), strings.Clone(c.Params("actorId")), from, to, parsePage(c))
	if err != nil {
		return h.readFailed(c, "actor events", err)
	}
	return c.JSON(res)
}

// Critical handles GET /audit/critical?hours=.
func (h *EventHandler) Critical(c *fiber.Ctx) error {
	records, err := h.search.CriticalEvents(c.UserContext(), c.QueryInt("hours", search.DefaultWindowHours))
	if err != nil {
		return h.readFailed(c, "critical events", err)
	}
	return c.JSON(fiber.Map{"records": records, "count": len(records)})
}

// Suspicious handles GET /audit/suspicious?hours=.
func (h *EventHandler) Suspicious(c *fiber.Ctx) error {
	records, err := h.search.SuspiciousEvents(c.UserContext(), c.QueryInt("hours", search.DefaultWindowHours))
	if err != nil {
		return h.readFailed(c, "suspicious events", err)
	}
	return c.JSON(fiber.Map{"records": records, "count": len(records)})
}

// Export handles GET /audit/export?format=json|csv with the search filters.
func (h *EventHandler) Export(c *fiber.Ctx) error {
	format, err := search.ParseFormat(c.Query("format"))
	if err != nil {
		return middleware.FromError(c, err)
	}
	f, err := parseFilter(c)
	if err != nil {
		return middleware.FromError(c, err)
	}

	var buf bytes.Buffer
	n, err := h.search.Export(c.UserContext(), f, format, &buf)
	if err != nil {
		return h.readFailed(c, "export", err)
	}

	filename := fmt.Sprintf("audit-export-%s.%s", time.Now().UTC().Format("20060102-150405"), format)
	c.Set(fiber.HeaderContentType, format.ContentType())
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	c.Set("X-Export-Count", strconv.Itoa(n))

	middleware.GetLogger(c).Info("Audit records exported",
		logger.String("format", string(format)),
		logger.Int("count", n))
	return c.Send(buf.Bytes())
}

func (h *EventHandler) readFailed(c *fiber.Ctx, op string, err error) error {
	if !audit.IsValidation(err) && !audit.IsNotFound(err) {
		middleware.GetLogger(c).Error("Audit query failed",
			logger.String("operation", op),
			logger.Error(err))
	}
	return middleware.FromError(c, err)
}
