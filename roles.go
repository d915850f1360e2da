package auth

// Capability is an administrative permission over one functional area.
type Capability string

const (
	CapabilityManageMembers       Capability = "members"
	CapabilityManageAnnouncements Capability = "announcements"
	CapabilityManageEvents        Capability = "events"
	CapabilityManageAccounts      Capability = "accounts"
	CapabilityManageAudits        Capability = "audits"
	CapabilityManageAssets        Capability = "assets"
	CapabilityManageRoles         Capability = "roles"
)

// CapabilityRoles declares which role tags grant each capability.
// RoleSystemAdmin appears in every entry.
var CapabilityRoles = map[Capability][]string{
	CapabilityManageMembers:       {RoleSystemAdmin, RoleAdmin, RoleMemberManager},
	CapabilityManageAnnouncements: {RoleSystemAdmin, RoleAdmin, RoleAnnouncementManager},
	CapabilityManageEvents:        {RoleSystemAdmin, RoleAdmin, RoleEventManager},
	CapabilityManageAccounts:      {RoleSystemAdmin, RoleAccountant},
	CapabilityManageAudits:        {RoleSystemAdmin, RoleAuditor},
	CapabilityManageAssets:        {RoleSystemAdmin, RoleAdmin, RoleAssetManager},
	CapabilityManageRoles:         {RoleSystemAdmin, RoleAdmin},
}

// AllCapabilities returns every capability in a stable order.
func AllCapabilities() []Capability {
	return []Capability{
		CapabilityManageMembers,
		CapabilityManageAnnouncements,
		CapabilityManageEvents,
		CapabilityManageAccounts,
		CapabilityManageAudits,
		CapabilityManageAssets,
		CapabilityManageRoles,
	}
}

// loginStatuses are the non-terminal statuses
var loginStatuses = map[MemberStatus]struct{}{
	MemberStatusActive:          {},
	MemberStatusPendingNew:      {},
	MemberStatusSuspended:       {},
	MemberStatusPendingSuspend:  {},
	MemberStatusPendingRejoin:   {},
	MemberStatusPendingWithdraw: {},
}

// HasAnyRole is true when roles and allowed intersect. A nil or empty
// roles list never matches.
func HasAnyRole(roles Roles, allowed ...string) bool {
	for _, role := range roles {
		for _, a := range allowed {
			if role == a {
				return true
			}
		}
	}
	return false
}

// Can evaluates a capability against the role list. Unknown capabilities are denied.
func Can(roles Roles, capability Capability) bool {
	allowed, ok := CapabilityRoles[capability]
	if !ok {
		return false
	}
	return HasAnyRole(roles, allowed...)
}

// Capabilities lists every capability the roles grant.
func Capabilities(roles Roles) []Capability {
	out := []Capability{}
	for _, c := range AllCapabilities() {
		if Can(roles, c) {
			out = append(out, c)
		}
	}
	return out
}

func CanManageMembers(roles Roles) bool       { return Can(roles, CapabilityManageMembers) }
func CanManageAnnouncements(roles Roles) bool { return Can(roles, CapabilityManageAnnouncements) }
func CanManageEvents(roles Roles) bool        { return Can(roles, CapabilityManageEvents) }
func CanManageAccounts(roles Roles) bool      { return Can(roles, CapabilityManageAccounts) }
func CanManageAudits(roles Roles) bool        { return Can(roles, CapabilityManageAudits) }
func CanManageAssets(roles Roles) bool        { return Can(roles, CapabilityManageAssets) }
func CanManageRoles(roles Roles) bool         { return Can(roles, CapabilityManageRoles) }

// CanLogin reports whether a member in the given status may sign in.
// Withdrawn, rejected and empty statuses may not.
func CanLogin(status MemberStatus) bool {
	_, ok := loginStatuses[status]
	return ok
}

// HasRole checks if the member holds role.
func HasRole(member *Member, role string) bool {
	if member == nil {
		return false
	}
	return member.Roles.Has(role)
}

// GetPrimaryRole returns the first role for display purposes only.
// Never use it for capability decisions.
func GetPrimaryRole(roles Roles) string {
	return roles.Primary()
}
