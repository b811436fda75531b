package repository

import (
	"context"

	"github.com/spec-kit/ticket-platform/internal/domain"
	"github.com/spec-kit/ticket-platform/internal/tx"
)

// PanelRepository reads ticket panel configuration.
type PanelRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Panel, error)
	ListByTenant(ctx context.Context, tenantID string) ([]domain.Panel, error)
}

type panelRepository struct {
	db *tx.Manager
}

// NewPanelRepository instantiates the repository.
func NewPanelRepository(db *tx.Manager) PanelRepository {
	return &panelRepository{db: db}
}

const panelColumns = `id, tenant_id, title, category_ref, default_subject, is_active, created_at`

func (r *panelRepository) GetByID(ctx context.Context, id string) (*domain.Panel, error) {
	query := `SELECT ` + panelColumns + ` FROM panels WHERE id=$1`
	var panel domain.Panel
	if err := r.db.Querier(ctx).QueryRow(ctx, query, id).Scan(
		&panel.ID, &panel.TenantID, &panel.Title,
		&panel.CategoryRef, &panel.DefaultSubject, &panel.IsActive, &panel.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &panel, nil
}

func (r *panelRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.Panel, error) {
	query := `SELECT ` + panelColumns + ` FROM panels WHERE tenant_id=$1 AND is_active ORDER BY created_at`
	rows, err := r.db.Querier(ctx).Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Panel
	for rows.Next() {
		var panel domain.Panel
		if err := rows.Scan(
			&panel.ID, &panel.TenantID, &panel.Title,
			&panel.CategoryRef, &panel.DefaultSubject, &panel.IsActive, &panel.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, panel)
	}
	return result, rows.Err()
}
