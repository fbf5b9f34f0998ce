package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/auditlens/internal/logger"
	"github.com/neogan74/auditlens/internal/middleware"
	"github.com/neogan74/auditlens/internal/retention"
)

// RetentionRequest is the optional body of the sweep endpoints. Zero selects
// the configured threshold.
type RetentionRequest struct {
	AgeDays int `json:"ageDays" validate:"gte=0,lte=36500"`
}

// RetentionHandler runs retention sweeps on demand.
type RetentionHandler struct {
	manager *retention.Manager
	log     logger.Logger
}

// NewRetentionHandler creates a new retention handler
func NewRetentionHandler(m *retention.Manager, log logger.Logger) *RetentionHandler {
	return &RetentionHandler{manager: m, log: log}
}

func (h *RetentionHandler) request(c *fiber.Ctx) (RetentionRequest, error) {
	req := RetentionRequest{AgeDays: c.QueryInt("ageDays", 0)}
	if err := bind(c, &req); err != nil {
		return req, err
	}
	return req, nil
}

// Archive handles POST /audit/retention/archive.
func (h *RetentionHandler) Archive(c *fiber.Ctx) error {
	req, err := h.request(c)
	if err != nil {
		return middleware.FromError(c, err)
	}
	res, err := h.manager.Archive(c.UserContext(), req.AgeDays)
	if err != nil {
		return middleware.FromError(c, err)
	}
	return c.JSON(res)
}

// Purge handles POST /audit/retention/purge.
func (h *RetentionHandler) Purge(c *fiber.Ctx) error {
	req, err := h.request(c)
	if err != nil {
		return middleware.FromError(c, err)
	}
	res, err := h.manager.Purge(c.UserContext(), req.AgeDays)
	if err != nil {
		return middleware.FromError(c, err)
	}
	return c.JSON(res)
}
