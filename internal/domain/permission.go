package domain

// Permissions is a capability bitmask. Each bit is one named capability;
// zero means no capabilities. API boundaries always use this type, never a
// raw integer.
type Permissions uint64

const (
	PermViewAllTickets Permissions = 1 << iota
	PermCreateTicket
	PermClaimTicket
	PermUnclaimAny
	PermCloseOwnTicket
	PermCloseAnyTicket
	PermRequestClose
	PermApproveCloseOverride
	PermReopenTicket
	PermManageParticipants
	PermManagePanels
	PermManageRoles
	PermViewDashboard
	PermExportTranscripts
)

// AllPermissions is the mask tenant owners hold implicitly.
const AllPermissions = ^Permissions(0)

var permissionNames = map[Permissions]string{
	PermViewAllTickets:       "view_all_tickets",
	PermCreateTicket:         "create_ticket",
	PermClaimTicket:          "claim_ticket",
	PermUnclaimAny:           "unclaim_any",
	PermCloseOwnTicket:       "close_own_ticket",
	PermCloseAnyTicket:       "close_any_ticket",
	PermRequestClose:         "request_close",
	PermApproveCloseOverride: "approve_close_override",
	PermReopenTicket:         "reopen_ticket",
	PermManageParticipants:   "manage_participants",
	PermManagePanels:         "manage_panels",
	PermManageRoles:          "manage_roles",
	PermViewDashboard:        "view_dashboard",
	PermExportTranscripts:    "export_transcripts",
}

// Has reports whether every bit in cap is present in the mask.
func (p Permissions) Has(cap Permissions) bool {
	return p&cap == cap
}

// Union returns the OR of both masks.
func (p Permissions) Union(other Permissions) Permissions {
	return p | other
}

// Names reverse-maps set bits to capability names in bit order. Used for
// diagnostics only, never for authorization decisions.
func (p Permissions) Names() []string {
	names := []string{}
	for bit := Permissions(1); bit != 0 && bit <= PermExportTranscripts; bit <<= 1 {
		if name, ok := permissionNames[bit]; ok && p.Has(bit) {
			names = append(names, name)
		}
	}
	return names
}

// Name returns the capability name of a single bit, or "unknown".
func (p Permissions) Name() string {
	if name, ok := permissionNames[p]; ok {
		return name
	}
	return "unknown"
}
