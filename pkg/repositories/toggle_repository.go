package repositories

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/c7lavinder/gunner-backend/pkg/database"
	"github.com/c7lavinder/gunner-backend/pkg/models"
	"github.com/c7lavinder/gunner-backend/pkg/tracing"
)

const togglesTable = "toggles"

var toggleStruct = database.NewStruct(new(models.Toggle))

// ToggleRepository persists handler toggle state so kill-switches survive
// restarts. Toggles are global, not tenant-scoped.
type ToggleRepository struct {
	*Repository
}

// NewToggleRepository creates a new toggle repository
func NewToggleRepository(db database.DB, logger ectologger.Logger) *ToggleRepository {
	return &ToggleRepository{
		Repository: NewRepository(db, logger),
	}
}

// Upsert writes one toggle's enabled state
func (r *ToggleRepository) Upsert(ctx context.Context, id string, enabled bool) error {
	ctx, span := tracing.StartSpan(ctx, "ToggleRepository.Upsert")
	defer span.End()

	query := `
		INSERT INTO toggles (id, enabled, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			updated_at = NOW()
	`

	if _, err := r.DB().ExecContext(ctx, query, id, enabled); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"toggle_id": id,
		}).Error("failed to upsert toggle")
		return err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"toggle_id": id,
		"enabled":   enabled,
	}).Debugf("Upserted %s", togglesTable)
	return nil
}

// List returns all persisted toggles
func (r *ToggleRepository) List(ctx context.Context) ([]models.Toggle, error) {
	ctx, span := tracing.StartSpan(ctx, "ToggleRepository.List")
	defer span.End()

	sb := toggleStruct.SelectFrom(togglesTable)
	sb.OrderBy("id")

	query, args := sb.Build()
	var toggles []models.Toggle
	err := r.DB().SelectContext(ctx, &toggles, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list toggles")
		return nil, err
	}

	return toggles, nil
}
