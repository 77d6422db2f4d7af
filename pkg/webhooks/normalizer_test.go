package webhooks

import (
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"

	"github.com/c7lavinder/gunner-backend/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestNormalize_ContactCreate(t *testing.T) {
	n := NewNormalizer(testLogger())

	body := []byte(`{"type":"ContactCreate","location_id":"loc-1","contact_id":"c-1"}`)
	event, err := n.Normalize("leadconnector", body)

	assert.NoError(t, err)
	assert.Equal(t, models.EventKindContactCreated, event.Kind)
	assert.Equal(t, "loc-1", event.TenantID)
	assert.Equal(t, "c-1", event.ContactID)
	assert.Equal(t, "leadconnector", event.Payload.GetValue()["provider"])
	assert.NotEqual(t, "", event.ID.String())
}

func TestNormalize_StageUpdateCarriesOpportunityAndStage(t *testing.T) {
	n := NewNormalizer(testLogger())

	body := []byte(`{
		"type": "OpportunityStageUpdate",
		"tenant_id": "t-1",
		"contact_id": "c-1",
		"opportunity_id": "opp-1",
		"pipeline_stage_id": "qualified"
	}`)
	event, err := n.Normalize("leadconnector", body)

	assert.NoError(t, err)
	assert.Equal(t, models.EventKindStageChanged, event.Kind)
	assert.Equal(t, "opp-1", *event.OpportunityID)
	assert.Equal(t, "qualified", *event.StageID)
}

func TestNormalize_ClassifiesKnownTypes(t *testing.T) {
	n := NewNormalizer(testLogger())

	cases := []struct {
		body string
		want models.EventKind
	}{
		{`{"type":"InboundMessage","tenant_id":"t","contact_id":"c"}`, models.EventKindInboundMessage},
		{`{"event_type":"message.outbound","tenant_id":"t","contact_id":"c"}`, models.EventKindOutboundMessage},
		{`{"type":"SMS","direction":"inbound","tenant_id":"t","contact_id":"c"}`, models.EventKindInboundMessage},
		{`{"type":"SMS","direction":"outbound","tenant_id":"t","contact_id":"c"}`, models.EventKindOutboundMessage},
		{`{"type":"CallComplete","tenant_id":"t","contact_id":"c"}`, models.EventKindCallCompleted},
		{`{"event_type":"contact.created","tenant_id":"t","contact_id":"c"}`, models.EventKindContactCreated},
	}

	for _, tc := range cases {
		event, err := n.Normalize("p", []byte(tc.body))
		assert.NoError(t, err)
		assert.Equal(t, tc.want, event.Kind, "body: %s", tc.body)
	}
}

func TestNormalize_UnknownTypeStillProducesEvent(t *testing.T) {
	n := NewNormalizer(testLogger())

	body := []byte(`{"type":"SomethingNew","tenant_id":"t-1","contact_id":"c-1","extra":"kept"}`)
	event, err := n.Normalize("p", body)

	assert.NoError(t, err)
	assert.Equal(t, models.EventKindUnknown, event.Kind)
	assert.Equal(t, "kept", event.Payload.GetValue()["extra"])
}

func TestNormalize_SMSWithoutDirectionIsUnknown(t *testing.T) {
	n := NewNormalizer(testLogger())

	body := []byte(`{"type":"SMS","tenant_id":"t-1","contact_id":"c-1"}`)
	event, err := n.Normalize("p", body)

	assert.NoError(t, err)
	assert.Equal(t, models.EventKindUnknown, event.Kind)
}

func TestNormalize_MissingIdentityRejected(t *testing.T) {
	n := NewNormalizer(testLogger())

	cases := []string{
		`{"type":"ContactCreate","contact_id":"c-1"}`,
		`{"type":"ContactCreate","tenant_id":"t-1"}`,
		`{"type":"ContactCreate"}`,
	}

	for _, body := range cases {
		_, err := n.Normalize("p", []byte(body))
		assert.Error(t, err, "body: %s", body)
		assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
	}
}

func TestNormalize_MalformedBodyRejected(t *testing.T) {
	n := NewNormalizer(testLogger())

	_, err := n.Normalize("p", []byte(`not json`))
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}
