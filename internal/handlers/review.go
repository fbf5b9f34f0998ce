package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/auditlens/internal/audit"
	"github.com/neogan74/auditlens/internal/logger"
	"github.com/neogan74/auditlens/internal/middleware"
	"github.com/neogan74/auditlens/internal/review"
)

// ReviewRequest is the body of POST /audit/events/:id/review. ReviewerID is
// honored only when the request carries no authenticated identity.
type ReviewRequest struct {
	Status     string `json:"status" validate:"required"`
	ReviewerID string `json:"reviewerId" validate:"max=128"`
	Notes      string `json:"notes" validate:"max=4096"`
}

// RelatedRequest is the body of POST /audit/events/:id/related.
type RelatedRequest struct {
	RelatedID string `json:"relatedId" validate:"required,max=128"`
}

// ReviewHandler exposes the review workflow.
type ReviewHandler struct {
	service *review.Service
	log     logger.Logger
}

// NewReviewHandler creates a new review handler
func NewReviewHandler(svc *review.Service, log logger.Logger) *ReviewHandler {
	return &ReviewHandler{service: svc, log: log}
}

// Review handles POST /audit/events/:id/review.
func (h *ReviewHandler) Review(c *fiber.Ctx) error {
	var req ReviewRequest
	if err := bind(c, &req); err != nil {
		return middleware.FromError(c, err)
	}

	reviewer := middleware.GetUserID(c)
	if reviewer == "" {
		reviewer = req.ReviewerID
	}

	rec, err := h.service.Review(c.UserContext(), strings.Clone(c.Params("id")), reviewer, audit.ReviewStatus(req.Status), req.Notes)
	if err != nil {
		return middleware.FromError(c, err)
	}
	return c.JSON(rec)
}

// SetFlags handles PATCH /audit/events/:id/flags.
func (h *ReviewHandler) SetFlags(c *fiber.Ctx) error {
	var patch audit.FlagPatch
	if err := bind(c, &patch); err != nil {
		return middleware.FromError(c, err)
	}
	rec, err := h.service.SetFlags(c.UserContext(), strings.Clone(c.Params("id")), patch)
	if err != nil {
		return middleware.FromError(c, err)
	}
	return c.JSON(rec)
}

// LinkRelated handles POST /audit/events/:id/related.
func (h *ReviewHandler) LinkRelated(c *fiber.Ctx) error {
	var req RelatedRequest
	if err := bind(c, &req); err != nil {
		return middleware.FromError(c, err)
	}
	rec, err := h.service.LinkRelated(c.UserContext(), strings.Clone(c.Params("id")), req.RelatedID)
	if err != nil {
		return middleware.FromError(c, err)
	}
	return c.JSON(rec)
}
