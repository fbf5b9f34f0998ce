package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/auditlens/internal/metrics"
)

// MetricsMiddleware tracks HTTP request metrics. Paths are labelled by route
// template so record ids do not explode label cardinality.
func MetricsMiddleware(metricsPath string) fiber.Handler {
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	return func(c *fiber.Ctx) error {
		if c.Path() == metricsPath {
			return c.Next()
		}

		metrics.HTTPRequestsInFlight.Inc()
		defer metrics.HTTPRequestsInFlight.Dec()

		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" || path == "/" {
			path = c.Path()
		}

		metrics.HTTPRequestsTotal.WithLabelValues(c.Method(), path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Method(), path, status).Observe(duration)

		return err
	}
}
