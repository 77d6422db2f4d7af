package handlers

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/c7lavinder/gunner-backend/pkg/repositories"
	"github.com/c7lavinder/gunner-backend/pkg/toggles"
)

// ToggleHandler exposes the runtime kill-switches
type ToggleHandler struct {
	registry *toggles.Registry
	logger   ectologger.Logger
}

// NewToggleHandler creates a new toggle handler
func NewToggleHandler(registry *toggles.Registry, logger ectologger.Logger) *ToggleHandler {
	return &ToggleHandler{
		registry: registry,
		logger:   logger,
	}
}

// SetToggleRequest is the body for updating a toggle
type SetToggleRequest struct {
	Enabled bool `json:"enabled"`
}

// List returns all registered toggles
// GET /api/v1/toggles
func (h *ToggleHandler) List(c echo.Context) error {
	return SuccessResponse(c, h.registry.List())
}

// Set enables or disables a handler
// PUT /api/v1/toggles/:id
func (h *ToggleHandler) Set(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := Param(c, "id")
	if err != nil {
		return err
	}

	var req SetToggleRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid toggle body")
	}

	if ok := h.registry.SetEnabled(ctx, id, req.Enabled); !ok {
		return repositories.NotFound("toggle %s is not registered", id)
	}

	h.logger.WithContext(ctx).Infof("Toggle %s set to enabled=%t", id, req.Enabled)
	return NoContentResponse(c)
}

// RegisterRoutes registers the toggle routes
func (h *ToggleHandler) RegisterRoutes(g *echo.Group) {
	t := g.Group("/toggles")
	t.GET("", h.List)
	t.PUT("/:id", h.Set)
}
