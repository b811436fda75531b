package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/ticket-platform/internal/domain"
	"github.com/spec-kit/ticket-platform/internal/tx"
)

// TicketFilter captures dashboard search parameters.
type TicketFilter struct {
	TenantID    *string
	OpenerID    *string
	ClaimantID  *string
	PanelID     *string
	Statuses    []domain.TicketStatus
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

// TicketRepository encapsulates ticket persistence. State-changing methods
// are compare-and-set updates so racing operations are resolved by the
// database, not by application locks; they report whether the row actually
// changed.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetByChannelRef(ctx context.Context, channelRef string) (*domain.Ticket, error)
	CountOpenByOpener(ctx context.Context, tenantID, openerID string) (int, error)
	Claim(ctx context.Context, ticketID, claimantID string) (bool, error)
	Unclaim(ctx context.Context, ticketID string) error
	Close(ctx context.Context, ticketID, closedByID string, reason *string, at time.Time) (bool, error)
	Reopen(ctx context.Context, ticketID string) (bool, error)
	SetChannelRef(ctx context.Context, ticketID, channelRef string) error
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
}

type ticketRepository struct {
	db *tx.Manager
}

// NewTicketRepository instantiates the repository over the tx manager so
// every call joins an open transaction when one is active on the context.
func NewTicketRepository(db *tx.Manager) TicketRepository {
	return &ticketRepository{db: db}
}

const ticketColumns = `id, tenant_id, seq, status, opener_id, claimant_id, panel_id, channel_ref,
       subject, exclude_from_auto_close, created_at, updated_at, closed_at, closed_by_id, close_reason`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (tenant_id, seq, status, opener_id, panel_id, channel_ref, subject, exclude_from_auto_close)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING id, created_at, updated_at`
	return r.db.Querier(ctx).QueryRow(ctx, query,
		ticket.TenantID,
		ticket.Seq,
		ticket.Status,
		ticket.OpenerID,
		ticket.PanelID,
		ticket.ChannelRef,
		ticket.Subject,
		ticket.ExcludeFromAutoClose,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) GetByChannelRef(ctx context.Context, channelRef string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE channel_ref=$1`
	return r.fetchSingle(ctx, query, channelRef)
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := scanTicket(r.db.Querier(ctx).QueryRow(ctx, query, arg), &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) CountOpenByOpener(ctx context.Context, tenantID, openerID string) (int, error) {
	const query = `SELECT COUNT(*) FROM tickets WHERE tenant_id=$1 AND opener_id=$2 AND status='OPEN'`
	var count int
	err := r.db.Querier(ctx).QueryRow(ctx, query, tenantID, openerID).Scan(&count)
	return count, err
}

// Claim sets the claimant only when the ticket is open and unclaimed. The
// first committer wins; a raced call reports false.
func (r *ticketRepository) Claim(ctx context.Context, ticketID, claimantID string) (bool, error) {
	const query = `
        UPDATE tickets SET claimant_id=$2, updated_at=NOW()
        WHERE id=$1 AND status='OPEN' AND claimant_id IS NULL`
	cmd, err := r.db.Querier(ctx).Exec(ctx, query, ticketID, claimantID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *ticketRepository) Unclaim(ctx context.Context, ticketID string) error {
	const query = `UPDATE tickets SET claimant_id=NULL, updated_at=NOW() WHERE id=$1`
	cmd, err := r.db.Querier(ctx).Exec(ctx, query, ticketID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Close flips status to CLOSED only when it is not already; a false result
// with no error means another close committed first. The claimant is left in
// place so the closed row still records who held the ticket.
func (r *ticketRepository) Close(ctx context.Context, ticketID, closedByID string, reason *string, at time.Time) (bool, error) {
	const query = `
        UPDATE tickets SET status='CLOSED', closed_at=$3, closed_by_id=$2,
            close_reason=$4, updated_at=NOW()
        WHERE id=$1 AND status <> 'CLOSED'`
	cmd, err := r.db.Querier(ctx).Exec(ctx, query, ticketID, closedByID, at, reason)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *ticketRepository) Reopen(ctx context.Context, ticketID string) (bool, error) {
	const query = `
        UPDATE tickets SET status='OPEN', claimant_id=NULL, closed_at=NULL, closed_by_id=NULL,
            close_reason=NULL, updated_at=NOW()
        WHERE id=$1 AND status='CLOSED'`
	cmd, err := r.db.Querier(ctx).Exec(ctx, query, ticketID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

// SetChannelRef records the external channel once it exists. The reference
// is write-once; a ticket that already has one keeps it.
func (r *ticketRepository) SetChannelRef(ctx context.Context, ticketID, channelRef string) error {
	const query = `UPDATE tickets SET channel_ref=$2, updated_at=NOW() WHERE id=$1 AND channel_ref IS NULL`
	cmd, err := r.db.Querier(ctx).Exec(ctx, query, ticketID, channelRef)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	base := `SELECT ` + ticketColumns + ` FROM tickets`
	clauses := []string{"1=1"}
	args := []any{}

	if filter.TenantID != nil {
		args = append(args, *filter.TenantID)
		clauses = append(clauses, fmt.Sprintf("tenant_id=$%d", len(args)))
	}
	if filter.OpenerID != nil {
		args = append(args, *filter.OpenerID)
		clauses = append(clauses, fmt.Sprintf("opener_id=$%d", len(args)))
	}
	if filter.ClaimantID != nil {
		args = append(args, *filter.ClaimantID)
		clauses = append(clauses, fmt.Sprintf("claimant_id=$%d", len(args)))
	}
	if filter.PanelID != nil {
		args = append(args, *filter.PanelID)
		clauses = append(clauses, fmt.Sprintf("panel_id=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.CreatedFrom != nil {
		args = append(args, *filter.CreatedFrom)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.CreatedTo != nil {
		args = append(args, *filter.CreatedTo)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`%s WHERE %s ORDER BY seq DESC LIMIT %d OFFSET %d`,
		base, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.db.Querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := scanTicket(rows, &ticket); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}

func scanTicket(row pgx.Row, ticket *domain.Ticket) error {
	return row.Scan(
		&ticket.ID,
		&ticket.TenantID,
		&ticket.Seq,
		&ticket.Status,
		&ticket.OpenerID,
		&ticket.ClaimantID,
		&ticket.PanelID,
		&ticket.ChannelRef,
		&ticket.Subject,
		&ticket.ExcludeFromAutoClose,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ClosedAt,
		&ticket.ClosedByID,
		&ticket.CloseReason,
	)
}
