package domain

// ActorKind discriminates the closed set of caller variants.
type ActorKind string

const (
	ActorKindWeb    ActorKind = "HUMAN_VIA_WEB"
	ActorKindChat   ActorKind = "HUMAN_VIA_CHAT"
	ActorKindSystem ActorKind = "SYSTEM"
)

// Actor identifies whoever is driving the current operation. It is built
// once per inbound request/interaction and is immutable for its duration.
// Exactly one constructor per kind; kind-specific fields are empty for the
// other kinds.
type Actor struct {
	Kind        ActorKind
	UserID      string
	TenantID    string
	Permissions Permissions

	// SessionRef is set for HUMAN_VIA_WEB actors only.
	SessionRef string
	// ChannelRef is set for HUMAN_VIA_CHAT actors only.
	ChannelRef string
	// Identifier names the subsystem for SYSTEM actors only.
	Identifier string
}

// NewWebActor builds an actor for a dashboard session.
func NewWebActor(userID, tenantID string, perms Permissions, sessionRef string) Actor {
	return Actor{
		Kind:        ActorKindWeb,
		UserID:      userID,
		TenantID:    tenantID,
		Permissions: perms,
		SessionRef:  sessionRef,
	}
}

// NewChatActor builds an actor for a chat-platform interaction.
func NewChatActor(userID, tenantID string, perms Permissions, channelRef string) Actor {
	return Actor{
		Kind:        ActorKindChat,
		UserID:      userID,
		TenantID:    tenantID,
		Permissions: perms,
		ChannelRef:  channelRef,
	}
}

// NewSystemActor builds an actor for internally triggered work such as the
// auto-close scheduler. System actors hold every capability.
func NewSystemActor(identifier string) Actor {
	return Actor{
		Kind:        ActorKindSystem,
		Identifier:  identifier,
		Permissions: AllPermissions,
	}
}

// IsSystem reports whether the actor is an internal subsystem.
func (a Actor) IsSystem() bool {
	return a.Kind == ActorKindSystem
}

// Subject returns the identity id the actor acts as. System actors act as
// their subsystem identifier.
func (a Actor) Subject() string {
	if a.Kind == ActorKindSystem {
		return a.Identifier
	}
	return a.UserID
}
