package middleware

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/auditlens/internal/audit"
	"github.com/neogan74/auditlens/internal/logger"
)

func decodeError(t *testing.T, body io.Reader) ErrorResponse {
	t.Helper()
	var errResp ErrorResponse
	data, _ := io.ReadAll(body)
	if err := json.Unmarshal(data, &errResp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return errResp
}

func TestBadRequest(t *testing.T) {
	app := fiber.New()
	app.Use(RequestLogging(logger.NewNop()))
	app.Get("/test", func(c *fiber.Ctx) error {
		return BadRequest(c, "invalid input data")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/test", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("expected status 400, got %d", resp.StatusCode)
	}

	errResp := decodeError(t, resp.Body)
	if errResp.Error != "Bad Request" {
		t.Errorf("expected error 'Bad Request', got %q", errResp.Error)
	}
	if errResp.Message != "invalid input data" {
		t.Errorf("expected message 'invalid input data', got %q", errResp.Message)
	}
	if errResp.RequestID == "" {
		t.Error("expected request ID to be set")
	}
	if errResp.Path != "/test" {
		t.Errorf("expected path '/test', got %q", errResp.Path)
	}
	if errResp.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		label  string
	}{
		{"validation", &audit.ValidationError{Field: "status", Message: "bad"}, 400, "Bad Request"},
		{"review status", audit.ErrInvalidReviewStatus, 400, "Bad Request"},
		{"not found", &audit.NotFoundError{ID: "x"}, 404, "Not Found"},
		{"archived", audit.ErrArchivedImmutable, 409, "Conflict"},
		{"closed", audit.ErrStoreClosed, 503, "Service Unavailable"},
		{"other", errors.New("disk on fire"), 500, "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/test", func(c *fiber.Ctx) error {
				return FromError(c, tt.err)
			})

			resp, err := app.Test(httptest.NewRequest("GET", "/test", nil))
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, resp.StatusCode)
			}
			if got := decodeError(t, resp.Body).Error; got != tt.label {
				t.Errorf("expected error %q, got %q", tt.label, got)
			}
		})
	}
}

func TestErrorHandler(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Get("/fiber", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusMethodNotAllowed, "no")
	})
	app.Get("/domain", func(c *fiber.Ctx) error {
		return &audit.NotFoundError{ID: "abc"}
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/fiber", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", resp.StatusCode)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/domain", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("expected status 404, got %d", resp.StatusCode)
	}
	if msg := decodeError(t, resp.Body).Message; msg != "audit record 'abc' not found" {
		t.Errorf("unexpected message %q", msg)
	}
}
