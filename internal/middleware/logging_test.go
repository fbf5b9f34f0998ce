package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/auditlens/internal/logger"
)

func TestRequestLogging(t *testing.T) {
	app := fiber.New()
	app.Use(RequestLogging(logger.NewNop()))
	app.Get("/test", func(c *fiber.Ctx) error {
		if GetRequestID(c) == "" {
			t.Error("expected request ID to be set")
		}
		if GetLogger(c) == nil {
			t.Error("expected request logger to be set")
		}
		return c.SendString("ok")
	})

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("User-Agent", "test-agent")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-Id response header")
	}
}

func TestRequestLogging_ReusesInboundRequestID(t *testing.T) {
	app := fiber.New()
	app.Use(RequestLogging(logger.NewNop()))
	var seen string
	app.Get("/test", func(c *fiber.Ctx) error {
		seen = GetRequestID(c)
		return c.SendStatus(fiber.StatusNoContent)
	})

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(RequestIDHeader, "caller-42")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if seen != "caller-42" {
		t.Errorf("expected request id caller-42, got %q", seen)
	}
	if got := resp.Header.Get(RequestIDHeader); got != "caller-42" {
		t.Errorf("expected echoed request id, got %q", got)
	}
}

func TestGetLogger_Fallback(t *testing.T) {
	app := fiber.New()
	app.Get("/test", func(c *fiber.Ctx) error {
		if GetLogger(c) == nil {
			t.Error("expected default logger")
		}
		if GetRequestID(c) != "" {
			t.Error("expected empty request id without middleware")
		}
		return nil
	})
	if _, err := app.Test(httptest.NewRequest("GET", "/test", nil)); err != nil {
		t.Fatalf("request failed: %v", err)
	}
}
