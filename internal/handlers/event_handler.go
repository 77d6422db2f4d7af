package handlers

import (
	"strconv"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/c7lavinder/gunner-backend/pkg/models"
	"github.com/c7lavinder/gunner-backend/pkg/repositories"
)

// EventHandler exposes the durable event log
type EventHandler struct {
	events *repositories.EventRepository
	logger ectologger.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler(events *repositories.EventRepository, logger ectologger.Logger) *EventHandler {
	return &EventHandler{
		events: events,
		logger: logger,
	}
}

// EventListResponse represents the response for listing events
type EventListResponse struct {
	Events []models.Event `json:"events"`
	Count  int            `json:"count"`
}

// ListByContact returns the newest events for one contact
// GET /api/v1/leads/:id/events
func (h *EventHandler) ListByContact(c echo.Context) error {
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

	events, err := h.events.ListByContact(ctx, contactID, limit)
	if err != nil {
		return err
	}

	return SuccessResponse(c, EventListResponse{
		Events: events,
		Count:  len(events),
	})
}

// RegisterRoutes registers the event routes
func (h *EventHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/leads/:id/events", h.ListByContact)
}
