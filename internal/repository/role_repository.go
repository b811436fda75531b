package repository

import (
	"context"

	"github.com/spec-kit/ticket-platform/internal/domain"
	"github.com/spec-kit/ticket-platform/internal/tx"
)

// RoleRepository is the read-only identity/role store consumed by the
// permission engine.
type RoleRepository interface {
	ListByIdentity(ctx context.Context, tenantID, identityID string) ([]domain.Role, error)
}

type roleRepository struct {
	db *tx.Manager
}

// NewRoleRepository instantiates the repository.
func NewRoleRepository(db *tx.Manager) RoleRepository {
	return &roleRepository{db: db}
}

func (r *roleRepository) ListByIdentity(ctx context.Context, tenantID, identityID string) ([]domain.Role, error) {
	const query = `
        SELECT r.id, r.tenant_id, r.name, r.permissions, r.created_at
        FROM roles r
        JOIN role_assignments ra ON ra.role_id = r.id
        WHERE r.tenant_id=$1 AND ra.identity_id=$2`
	rows, err := r.db.Querier(ctx).Query(ctx, query, tenantID, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Role
	for rows.Next() {
		var role domain.Role
		var mask int64
		if err := rows.Scan(&role.ID, &role.TenantID, &role.Name, &mask, &role.CreatedAt); err != nil {
			return nil, err
		}
		role.Permissions = domain.Permissions(mask)
		result = append(result, role)
	}
	return result, rows.Err()
}
