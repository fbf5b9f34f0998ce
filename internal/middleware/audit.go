package middleware

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/auditlens/internal/audit"
	"github.com/neogan74/auditlens/internal/envelope"
	"github.com/neogan74/auditlens/internal/logger"
)

// Dispatcher accepts inputs for asynchronous recording.
type Dispatcher interface {
	Dispatch(ctx context.Context, in envelope.Input) error
}

// AuditConfig holds configuration for the audit middleware.
type AuditConfig struct {
	Dispatcher   Dispatcher
	ResourceType string                  // resource type of the :id param, e.g. audit_record
	ActionMapper func(*fiber.Ctx) string // event type for the request; "" skips recording
}

// AuditMiddleware records one event per handled request after the handler
// has produced its status. Recording never changes the response.
func AuditMiddleware(cfg AuditConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.Dispatcher == nil {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()

		eventType := deriveAction(c, cfg.ResourceType, cfg.ActionMapper)
		if eventType == "" {
			return err
		}

		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else if status < 400 {
				status = fiber.StatusInternalServerError
			}
		}

		req := envelope.RequestFromFiber(c)
		req.ResponseStatus = status

		in := envelope.Input{
			EventType: eventType,
			Severity:  actionSeverity(eventType, status),
			Status:    audit.StatusSuccess,
			Actor:     envelope.ActorFromFiber(c),
			Request:   req,
			Message:   req.Method + " " + req.Path,
			Metadata: map[string]any{
				"duration":   float64(time.Since(start).Microseconds()) / 1000,
				"request_id": GetRequestID(c),
			},
			Context: audit.Context{CorrelationID: GetRequestID(c)},
		}
		if status >= 400 {
			in.Status = audit.StatusFailure
		}
		if id := c.Params("id"); id != "" && cfg.ResourceType != "" {
			in.Resource = envelope.Resource(cfg.ResourceType, strings.Clone(id))
		}

		if derr := cfg.Dispatcher.Dispatch(c.UserContext(), in); derr != nil {
			GetLogger(c).Warn("Audit event not queued",
				logger.String("event_type", eventType),
				logger.Error(derr))
		}
		return err
	}
}

// actionSeverity rates operator actions: reads are low, mutations medium,
// and denied requests high.
func actionSeverity(eventType string, status int) audit.Severity {
	if status == fiber.StatusUnauthorized || status == fiber.StatusForbidden {
		return audit.SeverityHigh
	}
	for _, suffix := range []string{".read", ".list", "_viewed"} {
		if strings.HasSuffix(eventType, suffix) {
			return audit.SeverityLow
		}
	}
	return audit.SeverityMedium
}

// deriveAction determines the audit event type from the HTTP request.
func deriveAction(c *fiber.Ctx, resourceType string, mapper func(*fiber.Ctx) string) string {
	if mapper != nil {
		return mapper(c)
	}

	if resourceType == "" {
		resourceType = "api"
	}
	switch c.Method() {
	case fiber.MethodPost:
		return resourceType + ".create"
	case fiber.MethodPut:
		return resourceType + ".update"
	case fiber.MethodPatch:
		return resourceType + ".modify"
	case fiber.MethodDelete:
		return resourceType + ".delete"
	case fiber.MethodGet:
		if c.Params("id") != "" {
			return resourceType + ".read"
		}
		return resourceType + ".list"
	default:
		return resourceType + "." + strings.ToLower(c.Method())
	}
}

// OperatorActionMapper names the operator actions taken through the audit API.
// Ingest and plain reads are not recorded.
func OperatorActionMapper(c *fiber.Ctx) string {
	path := c.Path()
	method := c.Method()

	switch {
	case method == fiber.MethodPost && strings.HasSuffix(path, "/review"):
		return audit.EventRecordReviewed
	case method == fiber.MethodPatch && strings.HasSuffix(path, "/flags"):
		return "audit.flags_updated"
	case method == fiber.MethodPost && strings.HasSuffix(path, "/related"):
		return "audit.related_linked"
	case method == fiber.MethodGet && strings.HasSuffix(path, "/export"):
		return "audit.export"
	case method == fiber.MethodGet && strings.HasSuffix(path, "/behavior"):
		return "audit.behavior_viewed"
	default:
		return ""
	}
}
