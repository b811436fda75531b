package repository

import (
	"context"

	"github.com/spec-kit/ticket-platform/internal/domain"
	"github.com/spec-kit/ticket-platform/internal/tx"
)

// ParticipantRepository manages the ticket/identity relation. Add and Remove
// are idempotent set-membership operations.
type ParticipantRepository interface {
	Add(ctx context.Context, p domain.Participant) error
	Remove(ctx context.Context, ticketID, identityID string) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.Participant, error)
}

type participantRepository struct {
	db *tx.Manager
}

// NewParticipantRepository instantiates the repository.
func NewParticipantRepository(db *tx.Manager) ParticipantRepository {
	return &participantRepository{db: db}
}

func (r *participantRepository) Add(ctx context.Context, p domain.Participant) error {
	const query = `
        INSERT INTO participants (ticket_id, identity_id, role)
        VALUES ($1,$2,$3)
        ON CONFLICT (ticket_id, identity_id) DO UPDATE SET role=EXCLUDED.role`
	_, err := r.db.Querier(ctx).Exec(ctx, query, p.TicketID, p.IdentityID, p.Role)
	return err
}

func (r *participantRepository) Remove(ctx context.Context, ticketID, identityID string) error {
	const query = `DELETE FROM participants WHERE ticket_id=$1 AND identity_id=$2`
	_, err := r.db.Querier(ctx).Exec(ctx, query, ticketID, identityID)
	return err
}

func (r *participantRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.Participant, error) {
	const query = `
        SELECT ticket_id, identity_id, role, added_at
        FROM participants WHERE ticket_id=$1 ORDER BY added_at`
	rows, err := r.db.Querier(ctx).Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Participant
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.TicketID, &p.IdentityID, &p.Role, &p.AddedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}
