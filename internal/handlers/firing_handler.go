package handlers

import (
	"strconv"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/c7lavinder/gunner-backend/pkg/models"
	"github.com/c7lavinder/gunner-backend/pkg/repositories"
)

// FiringHandler exposes the trigger firing audit log
type FiringHandler struct {
	firings *repositories.TriggerFiringRepository
	logger  ectologger.Logger
}

// NewFiringHandler creates a new firing handler
func NewFiringHandler(firings *repositories.TriggerFiringRepository, logger ectologger.Logger) *FiringHandler {
	return &FiringHandler{
		firings: firings,
		logger:  logger,
	}
}

// FiringListResponse represents the response for listing firings
type FiringListResponse struct {
	Firings []models.TriggerFiring `json:"firings"`
	Count   int                    `json:"count"`
}

// ListByContact returns the newest firings for one contact
// GET /api/v1/leads/:id/firings
func (h *FiringHandler) ListByContact(c echo.Context) error {
	ctx := c.Request().Context()

	contactID, err := Param(c, "id")
	if err != nil {
		return err
	}

	limit := 100
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	firings, err := h.firings.ListByContact(ctx, contactID, limit)
	if err != nil {
		return err
	}

	return SuccessResponse(c, FiringListResponse{
		Firings: firings,
		Count:   len(firings),
	})
}

// RegisterRoutes registers the firing routes
func (h *FiringHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/leads/:id/firings", h.ListByContact)
}
