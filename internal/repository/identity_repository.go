package repository

import (
	"context"

	"github.com/spec-kit/ticket-platform/internal/domain"
	"github.com/spec-kit/ticket-platform/internal/tx"
)

// IdentityRepository reads identity records for session minting and actor
// resolution.
type IdentityRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Identity, error)
	GetByEmail(ctx context.Context, email string) (*domain.Identity, error)
	GetByChatRef(ctx context.Context, tenantID, chatUserRef string) (*domain.Identity, error)
}

type identityRepository struct {
	db *tx.Manager
}

// NewIdentityRepository instantiates the repository.
func NewIdentityRepository(db *tx.Manager) IdentityRepository {
	return &identityRepository{db: db}
}

const identityColumns = `id, tenant_id, display_name, email, password_hash, chat_user_ref, created_at`

func (r *identityRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *identityRepository) GetByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE email=$1`
	return r.fetchSingle(ctx, query, email)
}

func (r *identityRepository) GetByChatRef(ctx context.Context, tenantID, chatUserRef string) (*domain.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE tenant_id=$1 AND chat_user_ref=$2`
	var identity domain.Identity
	if err := r.db.Querier(ctx).QueryRow(ctx, query, tenantID, chatUserRef).Scan(
		&identity.ID, &identity.TenantID, &identity.DisplayName,
		&identity.Email, &identity.PasswordHash, &identity.ChatUserRef, &identity.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &identity, nil
}

func (r *identityRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Identity, error) {
	var identity domain.Identity
	if err := r.db.Querier(ctx).QueryRow(ctx, query, arg).Scan(
		&identity.ID, &identity.TenantID, &identity.DisplayName,
		&identity.Email, &identity.PasswordHash, &identity.ChatUserRef, &identity.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &identity, nil
}
