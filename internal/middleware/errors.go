package middleware

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/auditlens/internal/audit"
	"github.com/neogan74/auditlens/internal/logger"
)

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path,omitempty"`
}

// BadRequest returns a 400 Bad Request error response
func BadRequest(c *fiber.Ctx, message string) error {
	return errorResponse(c, fiber.StatusBadRequest, "Bad Request", message)
}

// Unauthorized returns a 401 Unauthorized error response
func Unauthorized(c *fiber.Ctx, message string) error {
	return errorResponse(c, fiber.StatusUnauthorized, "Unauthorized", message)
}

// Forbidden returns a 403 Forbidden error response
func Forbidden(c *fiber.Ctx, message string) error {
	return errorResponse(c, fiber.StatusForbidden, "Forbidden", message)
}

// NotFound returns a 404 Not Found error response
func NotFound(c *fiber.Ctx, message string) error {
	return errorResponse(c, fiber.StatusNotFound, "Not Found", message)
}

// Conflict returns a 409 Conflict error response
func Conflict(c *fiber.Ctx, message string) error {
	return errorResponse(c, fiber.StatusConflict, "Conflict", message)
}

// UnprocessableEntity returns a 422 Unprocessable Entity error response
func UnprocessableEntity(c *fiber.Ctx, message string) error {
	return errorResponse(c, fiber.StatusUnprocessableEntity, "Unprocessable Entity", message)
}

// InternalServerError returns a 500 Internal Server Error response
func InternalServerError(c *fiber.Ctx, message string) error {
	return errorResponse(c, fiber.StatusInternalServerError, "Internal Server Error", message)
}

// ServiceUnavailable returns a 503 Service Unavailable error response
func ServiceUnavailable(c *fiber.Ctx, message string) error {
	return errorResponse(c, fiber.StatusServiceUnavailable, "Service Unavailable", message)
}

// FromError maps a domain error onto its HTTP response.
func FromError(c *fiber.Ctx, err error) error {
	switch {
	case audit.IsValidation(err):
		return BadRequest(c, err.Error())
	case audit.IsNotFound(err):
		return NotFound(c, err.Error())
	case errors.Is(err, audit.ErrArchivedImmutable):
		return Conflict(c, err.Error())
	case errors.Is(err, audit.ErrStoreClosed):
		return ServiceUnavailable(c, err.Error())
	default:
		return InternalServerError(c, err.Error())
	}
}

// ErrorHandler is the fiber fallback for errors returned by handlers.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return errorResponse(c, fe.Code, statusText(fe.Code), fe.Message)
	}
	return FromError(c, err)
}

func statusText(code int) string {
	switch code {
	case fiber.StatusBadRequest:
		return "Bad Request"
	case fiber.StatusUnauthorized:
		return "Unauthorized"
	case fiber.StatusForbidden:
		return "Forbidden"
	case fiber.StatusNotFound:
		return "Not Found"
	case fiber.StatusMethodNotAllowed:
		return "Method Not Allowed"
	case fiber.StatusRequestEntityTooLarge:
		return "Request Entity Too Large"
	default:
		if code >= 500 {
			return "Internal Server Error"
		}
		return "Error"
	}
}

// errorResponse creates a structured error response
func errorResponse(c *fiber.Ctx, status int, error string, message string) error {
	response := ErrorResponse{
		Error:     error,
		Message:   message,
		RequestID: GetRequestID(c),
		Timestamp: time.Now(),
		Path:      c.Path(),
	}

	log := GetLogger(c)
	fields := []logger.Field{
		logger.String("error", error),
		logger.String("message", message),
		logger.String("method", c.Method()),
		logger.String("path", c.Path()),
		logger.Int("status", status),
		logger.String("user_ip", c.IP()),
	}
	if status >= 500 {
		log.Error("HTTP error response", fields...)
	} else {
		log.Warn("HTTP error response", fields...)
	}

	return c.Status(status).JSON(response)
}
