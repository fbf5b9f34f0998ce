package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/auditlens/internal/anomaly"
	"github.com/neogan74/auditlens/internal/audit"
	"github.com/neogan74/auditlens/internal/logger"
	"github.com/neogan74/auditlens/internal/middleware"
)

// BehaviorHandler serves per-actor behavior analysis.
type BehaviorHandler struct {
	analyzer *anomaly.Analyzer
	log      logger.Logger
}

// NewBehaviorHandler creates a new behavior handler
func NewBehaviorHandler(a *anomaly.Analyzer, log logger.Logger) *BehaviorHandler {
	return &BehaviorHandler{analyzer: a, log: log}
}

// Behavior handles GET /audit/actors/:actorId/behavior?days=.
func (h *BehaviorHandler) Behavior(c *fiber.Ctx) error {
	report, err := h.analyzer.BehaviorPattern(c.UserContext(), strings.Clone(c.Params("actorId")), c.QueryInt("days", 0))
	if err != nil {
		return middleware.FromError(c, err)
	}
	return c.JSON(report)
}

// Anomalies handles GET /audit/actors/:actorId/anomalies?k=.
func (h *BehaviorHandler) Anomalies(c *fiber.Ctx) error {
	var k float64
	if v := c.Query("k"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed <= 0 {
			return middleware.BadRequest(c, "k must be a positive number")
		}
		k = parsed
	}
	found, err := h.analyzer.DetectForActor(c.UserContext(), strings.Clone(c.Params("actorId")), k)
	if err != nil {
		return middleware.FromError(c, err)
	}
	return c.JSON(fiber.Map{"anomalies": found, "count": len(found)})
}

// MarkAnomalies handles POST /audit/actors/:actorId/anomalies/mark.
func (h *BehaviorHandler) MarkAnomalies(c *fiber.Ctx) error {
	actorID := strings.Clone(c.Params("actorId"))
	if actorID == "" {
		return middleware.FromError(c, &audit.ValidationError{Field: "actorId", Message: "actor id is required"})
	}
	n, err := h.analyzer.MarkAnomalies(c.UserContext(), actorID)
	if err != nil {
		return middleware.FromError(c, err)
	}
	middleware.GetLogger(c).Info("Anomalous records flagged",
		logger.String("actor_id", actorID),
		logger.Int("count", n))
	return c.JSON(fiber.Map{"actorId": actorID, "marked": n})
}
