package handlers

import (
	"io"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	appctx "github.com/c7lavinder/gunner-backend/pkg/context"
	"github.com/c7lavinder/gunner-backend/pkg/events"
	"github.com/c7lavinder/gunner-backend/pkg/webhooks"
)

// maxWebhookBody caps inbound webhook payloads at 1MB
const maxWebhookBody = 1 * 1024 * 1024

// WebhookHandler is the inbound edge: it normalizes provider payloads into
// events and publishes them on the bus. Durable logging, projection, and
// routing all hang off the bus; the response is sent only after every
// subscriber has settled, so providers see real receipt.
type WebhookHandler struct {
	normalizer *webhooks.Normalizer
	bus        *events.Bus
	logger     ectologger.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(
	normalizer *webhooks.Normalizer,
	bus *events.Bus,
	logger ectologger.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		normalizer: normalizer,
		bus:        bus,
		logger:     logger,
	}
}

// Receive accepts one provider webhook
// POST /api/v1/webhooks/:provider
func (h *WebhookHandler) Receive(c echo.Context) error {
	ctx := c.Request().Context()

	provider, err := Param(c, "provider")
	if err != nil {
		return err
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "failed to read webhook body")
	}

	event, err := h.normalizer.Normalize(provider, body)
	if err != nil {
		return err
	}

	ctx = appctx.SetTenantID(ctx, event.TenantID)
	ctx = appctx.SetContactID(ctx, event.ContactID)

	h.bus.Publish(ctx, event)

	return AcceptedResponse(c, map[string]string{
		"status":   "received",
		"event_id": event.ID.String(),
		"kind":     string(event.Kind),
	})
}

// RegisterRoutes registers the webhook routes
func (h *WebhookHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/webhooks/:provider", h.Receive)
}
