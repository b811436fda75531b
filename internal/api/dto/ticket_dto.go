package dto

import (
	"time"

	"github.com/spec-kit/ticket-platform/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	OpenerID   string  `json:"opener_id"`
	ChannelRef *string `json:"channel_ref"`
	PanelID    *string `json:"panel_id"`
	Subject    *string `json:"subject"`
	GuildRef   string  `json:"guild_ref"`
}

// CloseTicketRequest payload.
type CloseTicketRequest struct {
	Reason        *string `json:"reason"`
	DeleteChannel bool    `json:"delete_channel"`
	NotifyOpener  *bool   `json:"notify_opener"`
}

// RequestCloseRequest payload.
type RequestCloseRequest struct {
	Reason         *string `json:"reason"`
	AutoCloseHours *int    `json:"auto_close_hours"`
}

// AddParticipantRequest payload.
type AddParticipantRequest struct {
	Role domain.ParticipantRole `json:"role"`
}

// TicketResponse serializes a ticket.
type TicketResponse struct {
	ID          string              `json:"id"`
	TenantID    string              `json:"tenant_id"`
	Seq         int64               `json:"seq"`
	Status      domain.TicketStatus `json:"status"`
	OpenerID    string              `json:"opener_id"`
	ClaimantID  *string             `json:"claimant_id"`
	PanelID     *string             `json:"panel_id"`
	ChannelRef  *string             `json:"channel_ref"`
	Subject     *string             `json:"subject"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	ClosedAt    *time.Time          `json:"closed_at"`
	ClosedByID  *string             `json:"closed_by_id"`
	CloseReason *string             `json:"close_reason"`
}

// NewTicketResponse maps the domain ticket.
func NewTicketResponse(ticket *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:          ticket.ID,
		TenantID:    ticket.TenantID,
		Seq:         ticket.Seq,
		Status:      ticket.Status,
		OpenerID:    ticket.OpenerID,
		ClaimantID:  ticket.ClaimantID,
		PanelID:     ticket.PanelID,
		ChannelRef:  ticket.ChannelRef,
		Subject:     ticket.Subject,
		CreatedAt:   ticket.CreatedAt,
		UpdatedAt:   ticket.UpdatedAt,
		ClosedAt:    ticket.ClosedAt,
		ClosedByID:  ticket.ClosedByID,
		CloseReason: ticket.CloseReason,
	}
}

// ParticipantResponse serializes a participant.
type ParticipantResponse struct {
	IdentityID string                 `json:"identity_id"`
	Role       domain.ParticipantRole `json:"role"`
	AddedAt    time.Time              `json:"added_at"`
}

// CloseRequestResponse serializes a pending close.
type CloseRequestResponse struct {
	ID            string     `json:"id"`
	TicketID      string     `json:"ticket_id"`
	RequestedByID string     `json:"requested_by_id"`
	Reason        *string    `json:"reason"`
	AutoCloseAt   *time.Time `json:"auto_close_at"`
}

// TicketEventResponse serializes an audit entry.
type TicketEventResponse struct {
	ID        string                 `json:"id"`
	EventType domain.TicketEventType `json:"event_type"`
	ActorKind domain.ActorKind       `json:"actor_kind"`
	ActorID   string                 `json:"actor_id"`
	OldValue  map[string]any         `json:"old_value,omitempty"`
	NewValue  map[string]any         `json:"new_value,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// LoginRequest payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse payload.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
