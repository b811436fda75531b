package repository

import (
	"context"

	"github.com/spec-kit/ticket-platform/internal/domain"
	"github.com/spec-kit/ticket-platform/internal/tx"
)

// CloseRequestRepository holds the pending-close tokens. Delete reports
// whether a row was removed, giving callers an atomic compare-and-clear so a
// racing approval and auto-close timer cannot both win the token.
type CloseRequestRepository interface {
	Upsert(ctx context.Context, cr *domain.CloseRequest) error
	GetByID(ctx context.Context, id string) (*domain.CloseRequest, error)
	GetByTicket(ctx context.Context, ticketID string) (*domain.CloseRequest, error)
	Delete(ctx context.Context, id string) (bool, error)
	DeleteByTicket(ctx context.Context, ticketID string) (bool, error)
	ListPendingAutoClose(ctx context.Context) ([]domain.CloseRequest, error)
}

type closeRequestRepository struct {
	db *tx.Manager
}

// NewCloseRequestRepository instantiates the repository.
func NewCloseRequestRepository(db *tx.Manager) CloseRequestRepository {
	return &closeRequestRepository{db: db}
}

// Upsert creates the ticket's close request; a newer request supersedes an
// outstanding one for the same ticket. Supersession rotates the row id so a
// timer still holding the old token finds nothing to clear.
func (r *closeRequestRepository) Upsert(ctx context.Context, cr *domain.CloseRequest) error {
	const query = `
        INSERT INTO close_requests (ticket_id, requested_by_id, reason, auto_close_at)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (ticket_id) DO UPDATE
            SET id=uuid_generate_v4(),
                requested_by_id=EXCLUDED.requested_by_id,
                reason=EXCLUDED.reason,
                auto_close_at=EXCLUDED.auto_close_at,
                created_at=NOW()
        RETURNING id, created_at`
	return r.db.Querier(ctx).QueryRow(ctx, query,
		cr.TicketID, cr.RequestedByID, cr.Reason, cr.AutoCloseAt,
	).Scan(&cr.ID, &cr.CreatedAt)
}

func (r *closeRequestRepository) GetByID(ctx context.Context, id string) (*domain.CloseRequest, error) {
	const query = `
        SELECT id, ticket_id, requested_by_id, reason, auto_close_at, created_at
        FROM close_requests WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *closeRequestRepository) GetByTicket(ctx context.Context, ticketID string) (*domain.CloseRequest, error) {
	const query = `
        SELECT id, ticket_id, requested_by_id, reason, auto_close_at, created_at
        FROM close_requests WHERE ticket_id=$1`
	return r.fetchSingle(ctx, query, ticketID)
}

func (r *closeRequestRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.CloseRequest, error) {
	var cr domain.CloseRequest
	if err := r.db.Querier(ctx).QueryRow(ctx, query, arg).Scan(
		&cr.ID, &cr.TicketID, &cr.RequestedByID, &cr.Reason, &cr.AutoCloseAt, &cr.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &cr, nil
}

// Delete clears the token; false means someone else already consumed or
// superseded it.
func (r *closeRequestRepository) Delete(ctx context.Context, id string) (bool, error) {
	const query = `DELETE FROM close_requests WHERE id=$1`
	cmd, err := r.db.Querier(ctx).Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *closeRequestRepository) DeleteByTicket(ctx context.Context, ticketID string) (bool, error) {
	const query = `DELETE FROM close_requests WHERE ticket_id=$1`
	cmd, err := r.db.Querier(ctx).Exec(ctx, query, ticketID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

// ListPendingAutoClose returns requests carrying a deadline, used to re-arm
// timers after a restart.
func (r *closeRequestRepository) ListPendingAutoClose(ctx context.Context) ([]domain.CloseRequest, error) {
	const query = `
        SELECT id, ticket_id, requested_by_id, reason, auto_close_at, created_at
        FROM close_requests WHERE auto_close_at IS NOT NULL ORDER BY auto_close_at`
	rows, err := r.db.Querier(ctx).Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.CloseRequest
	for rows.Next() {
		var cr domain.CloseRequest
		if err := rows.Scan(&cr.ID, &cr.TicketID, &cr.RequestedByID, &cr.Reason, &cr.AutoCloseAt, &cr.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, cr)
	}
	return result, rows.Err()
}
