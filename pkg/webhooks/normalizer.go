// Package webhooks converts provider-specific webhook payloads into the
// internal event shape. Payloads that do not match a known shape are still
// published under the unknown kind so no activity is silently dropped.
package webhooks

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/c7lavinder/gunner-backend/pkg/database"
	"github.com/c7lavinder/gunner-backend/pkg/models"
)

// payload is the common envelope across supported webhook providers. Field
// aliases cover the naming differences between them.
type payload struct {
	Type          string `json:"type"`
	EventType     string `json:"event_type"`
	TenantID      string `json:"tenant_id"`
	LocationID    string `json:"location_id"`
	ContactID     string `json:"contact_id"`
	OpportunityID string `json:"opportunity_id"`
	StageID       string `json:"stage_id"`
	PipelineStage string `json:"pipeline_stage_id"`
	Direction     string `json:"direction"`
}

// normalized carries the extracted identity for validation.
type normalized struct {
	TenantID  string `validate:"required"`
	ContactID string `validate:"required"`
}

// Normalizer converts raw webhook bodies into events.
type Normalizer struct {
	validate *validator.Validate
	logger   ectologger.Logger
}

// NewNormalizer creates a new normalizer
func NewNormalizer(logger ectologger.Logger) *Normalizer {
	return &Normalizer{
		validate: validator.New(),
		logger:   logger,
	}
}

// Normalize converts one webhook body into an event. The provider name comes
// from the inbound route. Unrecognized payload types map to the unknown kind
// rather than an error.
func (n *Normalizer) Normalize(provider string, body []byte) (*models.Event, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "malformed webhook body")
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "malformed webhook body")
	}
	raw["provider"] = provider

	tenantID := p.TenantID
	if tenantID == "" {
		tenantID = p.LocationID
	}
	stageID := p.StageID
	if stageID == "" {
		stageID = p.PipelineStage
	}

	if err := n.validate.Struct(normalized{TenantID: tenantID, ContactID: p.ContactID}); err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "webhook missing tenant or contact identity")
	}

	event := &models.Event{
		ID:         uuid.New(),
		Kind:       n.classify(p),
		TenantID:   tenantID,
		ContactID:  p.ContactID,
		Payload:    database.NewJSONB(raw),
		ReceivedAt: time.Now(),
	}
	if p.OpportunityID != "" {
		event.OpportunityID = &p.OpportunityID
	}
	if stageID != "" {
		event.StageID = &stageID
	}

	if event.Kind == models.EventKindUnknown {
		n.logger.Warnf("Unrecognized webhook type %q from provider %s, routing as unknown", p.Type, provider)
	}

	return event, nil
}

// classify maps provider event types onto the closed internal kind set.
func (n *Normalizer) classify(p payload) models.EventKind {
	eventType := p.Type
	if eventType == "" {
		eventType = p.EventType
	}

	switch strings.ToLower(eventType) {
	case "contactcreate", "contact.created":
		return models.EventKindContactCreated
	case "opportunitystageupdate", "opportunity.stage_changed", "stage.changed":
		return models.EventKindStageChanged
	case "inboundmessage", "message.inbound":
		return models.EventKindInboundMessage
	case "outboundmessage", "message.outbound":
		return models.EventKindOutboundMessage
	case "sms", "message":
		switch strings.ToLower(p.Direction) {
		case "inbound":
			return models.EventKindInboundMessage
		case "outbound":
			return models.EventKindOutboundMessage
		}
		return models.EventKindUnknown
	case "callcomplete", "call.completed", "outboundcall":
		return models.EventKindCallCompleted
	default:
		return models.EventKindUnknown
	}
}
