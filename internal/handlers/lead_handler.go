package handlers

import (
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	appctx "github.com/c7lavinder/gunner-backend/pkg/context"
	"github.com/c7lavinder/gunner-backend/pkg/crm"
	"github.com/c7lavinder/gunner-backend/pkg/database"
	"github.com/c7lavinder/gunner-backend/pkg/events"
	"github.com/c7lavinder/gunner-backend/pkg/models"
	"github.com/c7lavinder/gunner-backend/pkg/repositories"
)

// LeadHandler exposes the lead state projection and the force-resync flow
type LeadHandler struct {
	states *repositories.LeadStateRepository
	crm    *crm.Client
	bus    *events.Bus
	logger ectologger.Logger
}

// NewLeadHandler creates a new lead handler
func NewLeadHandler(
	states *repositories.LeadStateRepository,
	crmClient *crm.Client,
	bus *events.Bus,
	logger ectologger.Logger,
) *LeadHandler {
	return &LeadHandler{
		states: states,
		crm:    crmClient,
		bus:    bus,
		logger: logger,
	}
}

// Get returns the projection for one contact
// GET /api/v1/leads/:id
func (h *LeadHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	contactID, err := Param(c, "id")
	if err != nil {
		return err
	}
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return err
	}

	state, err := h.states.Get(ctx, tenantID, contactID)
	if err != nil {
		return err
	}

	return SuccessResponse(c, state)
}

// Resync fetches the CRM's current view of a contact and re-emits it as a
// synthetic event, bypassing normal idempotency tracking.
// POST /api/v1/leads/:id/resync
func (h *LeadHandler) Resync(c echo.Context) error {
	ctx := c.Request().Context()

	contactID, err := Param(c, "id")
	if err != nil {
		return err
	}
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return err
	}
	ctx = appctx.SetContactID(ctx, contactID)

	contact, err := h.crm.GetContact(ctx, contactID)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Errorf("Resync fetch failed for contact %s", contactID)
		return err
	}

	event := &models.Event{
		ID:         uuid.New(),
		Kind:       models.EventKindResync,
		TenantID:   tenantID,
		ContactID:  contactID,
		Payload:    database.NewJSONB(contact),
		ReceivedAt: time.Now(),
	}
	if opportunityID, ok := contact["opportunity_id"].(string); ok && opportunityID != "" {
		event.OpportunityID = &opportunityID
	}
	if stageID, ok := contact["stage_id"].(string); ok && stageID != "" {
		event.StageID = &stageID
	}

	h.bus.Publish(ctx, event)

	h.logger.WithContext(ctx).Infof("Resynced contact %s", contactID)
	return AcceptedResponse(c, map[string]string{
		"status":   "resynced",
		"event_id": event.ID.String(),
	})
}

// RegisterRoutes registers the lead routes
func (h *LeadHandler) RegisterRoutes(g *echo.Group) {
	leads := g.Group("/leads")
	leads.GET("/:id", h.Get)
	leads.POST("/:id/resync", h.Resync)
}
