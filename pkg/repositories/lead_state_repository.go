package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"

	"github.com/c7lavinder/gunner-backend/pkg/database"
	"github.com/c7lavinder/gunner-backend/pkg/models"
	"github.com/c7lavinder/gunner-backend/pkg/tracing"
)

const leadStatesTable = "lead_states"

var leadStateStruct = database.NewStruct(new(models.LeadState))

// LeadStateRepository handles the per-contact projection rows
type LeadStateRepository struct {
	*Repository
}

// NewLeadStateRepository creates a new lead state repository
func NewLeadStateRepository(db database.DB, logger ectologger.Logger) *LeadStateRepository {
	return &LeadStateRepository{
		Repository: NewRepository(db, logger),
	}
}

// UpsertBase ensures a projection row exists for the contact. No-op when the
// row is already present.
func (r *LeadStateRepository) UpsertBase(ctx context.Context, tenantID string, contactID string) error {
	ctx, span := tracing.StartSpan(ctx, "LeadStateRepository.UpsertBase")
	defer span.End()

	query := `
		INSERT INTO lead_states (tenant_id, contact_id, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (tenant_id, contact_id) DO NOTHING
	`

	if _, err := r.DB().ExecContext(ctx, query, tenantID, contactID); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"contact_id": contactID,
		}).Error("failed to upsert lead state base row")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert lead state")
	}

	return nil
}

// Get retrieves the projection for one contact
func (r *LeadStateRepository) Get(ctx context.Context, tenantID string, contactID string) (*models.LeadState, error) {
	ctx, span := tracing.StartSpan(ctx, "LeadStateRepository.Get")
	defer span.End()

	sb := leadStateStruct.SelectFrom(leadStatesTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("contact_id", contactID))

	query, args := sb.Build()
	var state models.LeadState
	err := r.DB().GetContext(ctx, &state, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "no lead state for contact %s", contactID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"contact_id": contactID,
		}).Error("failed to get lead state")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get lead state")
	}

	return &state, nil
}

// Update applies fn to the contact's projection row under a row lock.
// Concurrent updates for the same contact serialize on the lock, so each one
// folds into the other's result instead of clobbering it.
func (r *LeadStateRepository) Update(ctx context.Context, tenantID string, contactID string, fn func(state *models.LeadState) error) error {
	ctx, span := tracing.StartSpan(ctx, "LeadStateRepository.Update")
	defer span.End()

	selectQuery := `
		SELECT * FROM lead_states
		WHERE tenant_id = $1 AND contact_id = $2
		FOR UPDATE
	`

	updateQuery := `
		UPDATE lead_states SET
			opportunity_id = $3,
			current_stage = $4,
			stage_entered_at = $5,
			assigned_to = $6,
			last_inbound_at = $7,
			last_outbound_at = $8,
			last_call_at = $9,
			last_activity_at = $10,
			outreach_count = $11,
			drip_step = $12,
			tags = $13,
			custom_data = $14,
			updated_at = NOW()
		WHERE tenant_id = $1 AND contact_id = $2
		RETURNING updated_at
	`

	return database.WithTransaction(ctx, r.logger, r.DB(), func(tx database.Tx) error {
		var state models.LeadState
		err := tx.GetContext(ctx, &state, selectQuery, tenantID, contactID)
		if errors.Is(err, sql.ErrNoRows) {
			return httperror.NewHTTPErrorf(http.StatusNotFound, "no lead state for contact %s", contactID)
		}
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"contact_id": contactID,
			}).Error("failed to lock lead state")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update lead state")
		}

		if err := fn(&state); err != nil {
			return err
		}

		err = tx.QueryRowContext(ctx, updateQuery,
			state.TenantID, state.ContactID, state.OpportunityID, state.CurrentStage, state.StageEnteredAt,
			state.AssignedTo, state.LastInboundAt, state.LastOutboundAt, state.LastCallAt, state.LastActivityAt,
			state.OutreachCount, state.DripStep, state.Tags, state.CustomData,
		).Scan(&state.UpdatedAt)
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"contact_id": contactID,
			}).Error("failed to update lead state")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update lead state")
		}

		r.logger.WithContext(ctx).WithFields(map[string]any{
			"contact_id": contactID,
		}).Debugf("Updated %s", leadStatesTable)
		return nil
	})
}

// The scan queries below back the anomaly poller. They run cross-tenant at
// the system level, not scoped to a request's tenant.

// ListSpeedToLead returns contacts sitting in an entry stage with no outbound
// touch since they were created threshold ago.
func (r *LeadStateRepository) ListSpeedToLead(ctx context.Context, stages []string, threshold time.Duration, limit int) ([]models.LeadState, error) {
	ctx, span := tracing.StartSpan(ctx, "LeadStateRepository.ListSpeedToLead")
	defer span.End()

	query := `
		SELECT * FROM lead_states
		WHERE current_stage = ANY($1)
		AND last_outbound_at IS NULL
		AND created_at < NOW() - ($2 * INTERVAL '1 second')
		ORDER BY created_at ASC
		LIMIT $3
	`

	var states []models.LeadState
	err := r.DB().SelectContext(ctx, &states, query, pq.Array(stages), int64(threshold.Seconds()), limit)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to scan for speed-to-lead violations")
		return nil, err
	}

	return states, nil
}

// ListGhosted returns contacts with repeated outbound attempts, no inbound
// reply in the window, and no ghosted tag yet.
func (r *LeadStateRepository) ListGhosted(ctx context.Context, minOutreach int, silentFor time.Duration, excludeTag string, limit int) ([]models.LeadState, error) {
	ctx, span := tracing.StartSpan(ctx, "LeadStateRepository.ListGhosted")
	defer span.End()

	query := `
		SELECT * FROM lead_states
		WHERE outreach_count >= $1
		AND last_outbound_at IS NOT NULL
		AND last_outbound_at < NOW() - ($2 * INTERVAL '1 second')
		AND (last_inbound_at IS NULL OR last_inbound_at < NOW() - ($2 * INTERVAL '1 second'))
		AND NOT (tags @> to_jsonb($3::text))
		ORDER BY last_outbound_at ASC
		LIMIT $4
	`

	var states []models.LeadState
	err := r.DB().SelectContext(ctx, &states, query, minOutreach, int64(silentFor.Seconds()), excludeTag, limit)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to scan for ghosted contacts")
		return nil, err
	}

	return states, nil
}

// ListStaleStage returns contacts stuck in a non-terminal stage for the whole
// window, or with no projection update in that window. A row with recent
// activity still matches when its stage clock is old enough.
func (r *LeadStateRepository) ListStaleStage(ctx context.Context, staleFor time.Duration, terminalStages []string, limit int) ([]models.LeadState, error) {
	ctx, span := tracing.StartSpan(ctx, "LeadStateRepository.ListStaleStage")
	defer span.End()

	query := `
		SELECT * FROM lead_states
		WHERE current_stage IS NOT NULL
		AND NOT (current_stage = ANY($2))
		AND (
			stage_entered_at < NOW() - ($1 * INTERVAL '1 second')
			OR updated_at < NOW() - ($1 * INTERVAL '1 second')
		)
		ORDER BY stage_entered_at ASC NULLS LAST
		LIMIT $3
	`

	var states []models.LeadState
	err := r.DB().SelectContext(ctx, &states, query, int64(staleFor.Seconds()), pq.Array(terminalStages), limit)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to scan for stale stages")
		return nil, err
	}

	return states, nil
}

// ListWarmNoCall returns contacts in a warm or hot stage with no logged call
// since entering the stage threshold ago.
func (r *LeadStateRepository) ListWarmNoCall(ctx context.Context, stages []string, threshold time.Duration, limit int) ([]models.LeadState, error) {
	ctx, span := tracing.StartSpan(ctx, "LeadStateRepository.ListWarmNoCall")
	defer span.End()

	query := `
		SELECT * FROM lead_states
		WHERE current_stage = ANY($1)
		AND last_call_at IS NULL
		AND stage_entered_at IS NOT NULL
		AND stage_entered_at < NOW() - ($2 * INTERVAL '1 second')
		ORDER BY stage_entered_at ASC
		LIMIT $3
	`

	var states []models.LeadState
	err := r.DB().SelectContext(ctx, &states, query, pq.Array(stages), int64(threshold.Seconds()), limit)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to scan for warm contacts without calls")
		return nil, err
	}

	return states, nil
}
