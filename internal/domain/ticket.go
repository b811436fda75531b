package domain

import "time"

// TicketStatus enumerates lifecycle states. A claimed ticket stays OPEN;
// the claimant field is orthogonal to status. A pending close is represented
// by an outstanding CloseRequest, not a status of its own.
type TicketStatus string

const (
	TicketStatusOpen   TicketStatus = "OPEN"
	TicketStatusClosed TicketStatus = "CLOSED"
)

// Ticket is the aggregate for a support channel. Identity is the tenant id
// plus a per-tenant monotonically increasing sequence number. The channel
// reference is unique and never reassigned once set.
type Ticket struct {
	ID         string
	TenantID   string
	Seq        int64
	Status     TicketStatus
	OpenerID   string
	ClaimantID *string
	PanelID    *string
	ChannelRef *string
	Subject    *string

	ExcludeFromAutoClose bool

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ClosedAt    *time.Time
	ClosedByID  *string
	CloseReason *string
}

// Open reports whether the ticket accepts lifecycle mutations other than
// reopen.
func (t *Ticket) Open() bool {
	return t.Status == TicketStatusOpen
}

// ClaimedBy reports whether identityID currently holds the claim.
func (t *Ticket) ClaimedBy(identityID string) bool {
	return t.ClaimantID != nil && *t.ClaimantID == identityID
}

// ParticipantRole tags a ticket/identity relation.
type ParticipantRole string

const (
	ParticipantRoleOpener      ParticipantRole = "OPENER"
	ParticipantRoleClaimant    ParticipantRole = "CLAIMANT"
	ParticipantRoleParticipant ParticipantRole = "PARTICIPANT"
)

// Participant links an identity to a ticket with a role tag.
type Participant struct {
	TicketID   string
	IdentityID string
	Role       ParticipantRole
	AddedAt    time.Time
}

// CloseRequest is the pending-close token for a ticket. It exists only
// between a close being requested and it being approved, denied, executed
// directly, or expired; terminal states delete the row.
type CloseRequest struct {
	ID            string
	TicketID      string
	RequestedByID string
	Reason        *string
	AutoCloseAt   *time.Time
	CreatedAt     time.Time
}
