package domain

import "time"

// Identity is a person known to a tenant; the same record backs dashboard
// logins and chat-platform users. PasswordHash is set only for identities
// with dashboard access.
type Identity struct {
	ID           string
	TenantID     string
	DisplayName  string
	Email        *string
	PasswordHash *string
	ChatUserRef  *string
	CreatedAt    time.Time
}
