package domain

import "time"

// TicketEventType captures which lifecycle transition an audit entry records.
type TicketEventType string

const (
	EventTypeCreated            TicketEventType = "CREATED"
	EventTypeClaimed            TicketEventType = "CLAIMED"
	EventTypeUnclaimed          TicketEventType = "UNCLAIMED"
	EventTypeClosed             TicketEventType = "CLOSED"
	EventTypeCloseRequested     TicketEventType = "CLOSE_REQUESTED"
	EventTypeCloseDenied        TicketEventType = "CLOSE_DENIED"
	EventTypeReopened           TicketEventType = "REOPENED"
	EventTypeParticipantAdded   TicketEventType = "PARTICIPANT_ADDED"
	EventTypeParticipantRemoved TicketEventType = "PARTICIPANT_REMOVED"
)

// TicketEvent is an immutable audit trail entry.
type TicketEvent struct {
	ID        string
	TicketID  string
	ActorKind ActorKind
	ActorID   string
	EventType TicketEventType
	OldValue  map[string]any
	NewValue  map[string]any
	CreatedAt time.Time
}
