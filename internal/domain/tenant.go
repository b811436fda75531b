package domain

import "time"

// Tenant is one installation of the platform (a guild/workspace). The
// next_ticket_seq column backs per-tenant ticket numbering; it is bumped
// inside the creating transaction.
type Tenant struct {
	ID              string
	Name            string
	OwnerIdentityID string
	// OpenTicketLimit caps concurrently open tickets per opener; zero
	// disables the cap.
	OpenTicketLimit int
	NextTicketSeq   int64
	CreatedAt       time.Time
}

// Role is a named per-tenant permission grant. Identities may hold many
// roles; effective permissions are the OR of all held roles.
type Role struct {
	ID          string
	TenantID    string
	Name        string
	Permissions Permissions
	CreatedAt   time.Time
}
