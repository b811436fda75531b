package domain

import "time"

// Panel is a configured entry point for opening tickets (a button/category
// in the chat platform). Tickets opened through a panel inherit its category
// and default subject.
type Panel struct {
	ID             string
	TenantID       string
	Title          string
	CategoryRef    *string
	DefaultSubject *string
	IsActive       bool
	CreatedAt      time.Time
}
