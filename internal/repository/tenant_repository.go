package repository

import (
	"context"

	"github.com/spec-kit/ticket-platform/internal/domain"
	"github.com/spec-kit/ticket-platform/internal/tx"
)

// TenantRepository reads tenant records and allocates ticket sequence
// numbers.
type TenantRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Tenant, error)
	// NextTicketSeq bumps and returns the tenant's ticket counter. Must be
	// called inside the transaction that inserts the ticket so the number
	// is never burned by a rolled-back create.
	NextTicketSeq(ctx context.Context, tenantID string) (int64, error)
}

type tenantRepository struct {
	db *tx.Manager
}

// NewTenantRepository instantiates the repository.
func NewTenantRepository(db *tx.Manager) TenantRepository {
	return &tenantRepository{db: db}
}

func (r *tenantRepository) GetByID(ctx context.Context, id string) (*domain.Tenant, error) {
	const query = `
        SELECT id, name, owner_identity_id, open_ticket_limit, next_ticket_seq, created_at
        FROM tenants WHERE id=$1`
	var tenant domain.Tenant
	if err := r.db.Querier(ctx).QueryRow(ctx, query, id).Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.OwnerIdentityID,
		&tenant.OpenTicketLimit,
		&tenant.NextTicketSeq,
		&tenant.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (r *tenantRepository) NextTicketSeq(ctx context.Context, tenantID string) (int64, error) {
	const query = `
        UPDATE tenants SET next_ticket_seq = next_ticket_seq + 1
        WHERE id=$1
        RETURNING next_ticket_seq`
	var seq int64
	err := r.db.Querier(ctx).QueryRow(ctx, query, tenantID).Scan(&seq)
	return seq, err
}
