package auth

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Role tags stored in Member.Roles.
const (
	// RoleSystemAdmin is granted every capability
	RoleSystemAdmin = "system_admin"
	// RoleAdmin is a club officer
	RoleAdmin = "admin"
	// RoleMemberManager manages the roster
	RoleMemberManager = "member_manager"
	// RoleAnnouncementManager publishes announcements
	RoleAnnouncementManager = "announcement_manager"
	// RoleEventManager schedules events
	RoleEventManager = "event_manager"
	// RoleAccountant keeps the books
	RoleAccountant = "accountant"
	// RoleAuditor reviews the books
	RoleAuditor = "auditor"
	// RoleAssetManager tracks club equipment
	RoleAssetManager = "asset_manager"
	// RoleMember is a regular member
	RoleMember = "member"
)

// MemberStatus is the membership lifecycle state
type MemberStatus string

const (
	MemberStatusActive          MemberStatus = "active"
	MemberStatusPendingNew      MemberStatus = "pending_new"
	MemberStatusSuspended       MemberStatus = "suspended"
	MemberStatusPendingSuspend  MemberStatus = "pending_suspend"
	MemberStatusPendingRejoin   MemberStatus = "pending_rejoin"
	MemberStatusPendingWithdraw MemberStatus = "pending_withdraw"
	MemberStatusWithdrawn       MemberStatus = "withdrawn"
	MemberStatusRejected        MemberStatus = "rejected"
)

// AllRoles lists the known role tags.
func AllRoles() []string {
	return []string{
		RoleSystemAdmin,
		RoleAdmin,
		RoleMemberManager,
		RoleAnnouncementManager,
		RoleEventManager,
		RoleAccountant,
		RoleAuditor,
		RoleAssetManager,
		RoleMember,
	}
}

// AllMemberStatuses lists every status tag in lifecycle order.
func AllMemberStatuses() []MemberStatus {
	return []MemberStatus{
		MemberStatusPendingNew,
		MemberStatusActive,
		MemberStatusPendingSuspend,
		MemberStatusSuspended,
		MemberStatusPendingRejoin,
		MemberStatusPendingWithdraw,
		MemberStatusWithdrawn,
		MemberStatusRejected,
	}
}

// IsValid reports whether s is a known status tag.
func (s MemberStatus) IsValid() bool {
	for _, known := range AllMemberStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends the membership.
func (s MemberStatus) IsTerminal() bool {
	return s == MemberStatusWithdrawn || s == MemberStatusRejected
}

// ParseMemberStatus parses a status tag.
func ParseMemberStatus(raw string) (MemberStatus, bool) {
	s := MemberStatus(strings.TrimSpace(raw))
	return s, s.IsValid()
}

// Member is the club member model
type Member struct {
	bun.BaseModel  `bun:"table:members,alias:mbr"`
	ID             string       `bun:"id,pk" json:"id"`
	Email          string       `bun:"email,nullzero,unique" json:"email,omitempty"`
	DisplayName    string       `bun:"display_name" json:"display_name,omitempty"`
	Phone          string       `bun:"phone_number" json:"phone_number,omitempty"`
	PasswordHash   string       `bun:"password_hash" json:"-"`
	Roles          Roles        `bun:"roles,type:jsonb" json:"roles"`
	Status         MemberStatus `bun:"status,notnull" json:"status"`
	ExternalUserID string       `bun:"external_user_id,nullzero,unique" json:"external_user_id,omitempty"`
	Rating         float64      `bun:"rating" json:"rating,omitempty"`
	JoinedAt       *time.Time   `bun:"joined_at,nullzero" json:"joined_at,omitempty"`
	SuspendedAt    *time.Time   `bun:"suspended_at,nullzero" json:"suspended_at,omitempty"`
	WithdrawnAt    *time.Time   `bun:"withdrawn_at,nullzero" json:"withdrawn_at,omitempty"`
	CreatedAt      *time.Time   `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time   `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// EnsureStatus defaults an empty status to pending_new
func (m *Member) EnsureStatus() {
	if m == nil {
		return
	}
	if m.Status == "" {
		m.Status = MemberStatusPendingNew
	}
}

// Clone returns a deep copy, nil for a nil member.
func (m *Member) Clone() *Member {
	if m == nil {
		return nil
	}
	out := *m
	out.Roles = append(Roles{}, m.Roles...)
	out.JoinedAt = cloneTime(m.JoinedAt)
	out.SuspendedAt = cloneTime(m.SuspendedAt)
	out.WithdrawnAt = cloneTime(m.WithdrawnAt)
	out.CreatedAt = cloneTime(m.CreatedAt)
	out.UpdatedAt = cloneTime(m.UpdatedAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func (m *Member) IsActive() bool    { return m != nil && m.Status == MemberStatusActive }
func (m *Member) IsSuspended() bool { return m != nil && m.Status == MemberStatusSuspended }
func (m *Member) IsWithdrawn() bool { return m != nil && m.Status == MemberStatusWithdrawn }

// IsLinked reports whether the member has an external (LINE) identity.
func (m *Member) IsLinked() bool {
	return m != nil && m.ExternalUserID != ""
}

// Roles is an ordered, de-duplicated list of role tags. The first element is
// the primary role for display; capability checks treat it as a set.
type Roles []string

var (
	_ json.Marshaler   = Roles{}
	_ json.Unmarshaler = (*Roles)(nil)
	_ driver.Valuer    = Roles{}
)

// NormalizeRoles coerces a persisted roles value into Roles. Arrays are kept,
// scalars become a one element list, null and blanks become empty.
func NormalizeRoles(raw any) Roles {
	out := Roles{}
	switch v := raw.(type) {
	case nil:
	case Roles:
		out = out.add(v...)
	case []string:
		out = out.add(v...)
	case []any:
		for _, item := range v {
			if item == nil {
				continue
			}
			out = out.add(scalarString(item))
		}
	case []byte:
		return normalizeRolesText(string(v))
	case json.RawMessage:
		return normalizeRolesText(string(v))
	case string:
		return normalizeRolesText(v)
	default:
		out = out.add(scalarString(v))
	}
	return out
}

func normalizeRolesText(text string) Roles {
	trimmed := strings.TrimSpace(text)
	switch {
	case trimmed == "", trimmed == "null":
		return Roles{}
	case strings.HasPrefix(trimmed, "["), strings.HasPrefix(trimmed, `"`):
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			return NormalizeRoles(decoded)
		}
	case strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}"):
		// postgres text[] literal
		inner := strings.TrimSuffix(strings.TrimPrefix(trimmed, "{"), "}")
		parts := strings.Split(inner, ",")
		for i, p := range parts {
			parts[i] = strings.Trim(strings.TrimSpace(p), `"`)
		}
		return Roles{}.add(parts...)
	}
	return Roles{}.add(trimmed)
}

func scalarString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (r Roles) add(values ...string) Roles {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || r.Has(v) {
			continue
		}
		r = append(r, v)
	}
	return r
}

// Has reports whether role is in the list, at any position.
func (r Roles) Has(role string) bool {
	for _, v := range r {
		if v == role {
			return true
		}
	}
	return false
}

// Primary returns the first role or an empty string.
func (r Roles) Primary() string {
	if len(r) == 0 {
		return ""
	}
	return r[0]
}

// MarshalJSON always encodes an array, never null.
func (r Roles) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(r))
}

// UnmarshalJSON accepts arrays, scalars and null.
func (r *Roles) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = NormalizeRoles(raw)
	return nil
}

// Value implements driver.Valuer, roles are persisted as a JSON array.
func (r Roles) Value() (driver.Value, error) {
	b, err := r.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner and normalizes legacy column values.
func (r *Roles) Scan(src any) error {
	*r = NormalizeRoles(src)
	return nil
}
