package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/c7lavinder/gunner-backend/pkg/database"
	"github.com/c7lavinder/gunner-backend/pkg/models"
	"github.com/c7lavinder/gunner-backend/pkg/tracing"
)

const triggerFiringsTable = "trigger_firings"

var triggerFiringStruct = database.NewStruct(new(models.TriggerFiring))

// TriggerFiringRepository handles the append-only firing log
type TriggerFiringRepository struct {
	*Repository
}

// NewTriggerFiringRepository creates a new trigger firing repository
func NewTriggerFiringRepository(db database.DB, logger ectologger.Logger) *TriggerFiringRepository {
	return &TriggerFiringRepository{
		Repository: NewRepository(db, logger),
	}
}

// InsertIfAbsent records a firing unless one already exists for the same
// (contact_id, rule_id) inside the cooldown window. The insert is the dedup
// mechanism: check and write happen in one statement, so concurrent scanners
// cannot both fire. Returns true when a row was inserted.
func (r *TriggerFiringRepository) InsertIfAbsent(ctx context.Context, firing *models.TriggerFiring, cooldown time.Duration) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "TriggerFiringRepository.InsertIfAbsent")
	defer span.End()

	if firing.ID == uuid.Nil {
		firing.ID = uuid.New()
	}

	query := `
		INSERT INTO trigger_firings (id, tenant_id, contact_id, rule_id, fired_at, metadata)
		SELECT $1, $2, $3, $4, NOW(), $5
		WHERE NOT EXISTS (
			SELECT 1 FROM trigger_firings
			WHERE contact_id = $3
			AND rule_id = $4
			AND fired_at > NOW() - ($6 * INTERVAL '1 second')
		)
		RETURNING fired_at
	`

	err := r.DB().QueryRowContext(ctx, query,
		firing.ID, firing.TenantID, firing.ContactID, firing.RuleID, firing.Metadata,
		int64(cooldown.Seconds()),
	).Scan(&firing.FiredAt)
	if errors.Is(err, sql.ErrNoRows) {
		// A firing inside the cooldown window already exists.
		return false, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"contact_id": firing.ContactID,
			"rule_id":    firing.RuleID,
		}).Error("failed to insert trigger firing")
		return false, err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"contact_id": firing.ContactID,
		"rule_id":    firing.RuleID,
	}).Debugf("Inserted %s", triggerFiringsTable)
	return true, nil
}

// ListByContact returns the newest firings for one contact, tenant-scoped
func (r *TriggerFiringRepository) ListByContact(ctx context.Context, contactID string, limit int) ([]models.TriggerFiring, error) {
	ctx, span := tracing.StartSpan(ctx, "TriggerFiringRepository.ListByContact")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 100
	}

	sb := triggerFiringStruct.SelectFrom(triggerFiringsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("contact_id", contactID))
	sb.OrderBy("fired_at").Desc()
	sb.Limit(limit)

	query, args := sb.Build()
	var firings []models.TriggerFiring
	err = r.DB().SelectContext(ctx, &firings, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"contact_id": contactID,
		}).Error("failed to list trigger firings")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list trigger firings")
	}

	return firings, nil
}

// LatestFor returns the most recent firing for a (contact_id, rule_id) pair,
// or nil when the pair has never fired.
func (r *TriggerFiringRepository) LatestFor(ctx context.Context, contactID string, ruleID string) (*models.TriggerFiring, error) {
	ctx, span := tracing.StartSpan(ctx, "TriggerFiringRepository.LatestFor")
	defer span.End()

	sb := triggerFiringStruct.SelectFrom(triggerFiringsTable)
	sb.Where(sb.Equal("contact_id", contactID), sb.Equal("rule_id", ruleID))
	sb.OrderBy("fired_at").Desc()
	sb.Limit(1)

	query, args := sb.Build()
	var firing models.TriggerFiring
	err := r.DB().GetContext(ctx, &firing, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"contact_id": contactID,
			"rule_id":    ruleID,
		}).Error("failed to get latest trigger firing")
		return nil, err
	}

	return &firing, nil
}
