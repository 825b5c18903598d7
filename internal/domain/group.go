package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Privacy string

const (
	PrivacyPublic  Privacy = "public"
	PrivacyPrivate Privacy = "private"
	PrivacySecret  Privacy = "secret"
)

func (p Privacy) Valid() bool {
	switch p {
	case PrivacyPublic, PrivacyPrivate, PrivacySecret:
		return true
	}
	return false
}

// RequiresApproval reports whether joining creates a pending row.
func (p Privacy) RequiresApproval() bool {
	return p != PrivacyPublic
}

type Role string

const (
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

var roleRank = map[Role]int{
	RoleMember:    1,
	RoleModerator: 2,
	RoleAdmin:     3,
}

func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Outranks reports whether r is strictly above other.
func (r Role) Outranks(other Role) bool {
	return roleRank[r] > roleRank[other]
}

// IsStaff reports whether the role may moderate a group.
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleModerator
}

func (r Role) next() (Role, bool) {
	switch r {
	case RoleMember:
		return RoleModerator, true
	case RoleModerator:
		return RoleAdmin, true
	}
	return "", false
}

func (r Role) previous() (Role, bool) {
	switch r {
	case RoleAdmin:
		return RoleModerator, true
	case RoleModerator:
		return RoleMember, true
	}
	return "", false
}

type MembershipStatus string

const (
	MembershipPending MembershipStatus = "pending"
	MembershipActive  MembershipStatus = "active"
	MembershipRemoved MembershipStatus = "removed"
)

// MaxGroupNameLength is the longest group name kept, in runes.
const MaxGroupNameLength = 100

type Group struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Privacy     Privacy   `json:"privacy"`
	CreatorID   uuid.UUID `json:"creator_id"`
	MemberCount int       `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Membership is the one row kept per (group, user). Removal flips Status
// rather than deleting the row.
type Membership struct {
	GroupID   uuid.UUID        `json:"group_id"`
	UserID    uuid.UUID        `json:"user_id"`
	Role      Role             `json:"role"`
	Status    MembershipStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// ActiveStaff reports whether m may moderate its group right now.
func (m *Membership) ActiveStaff() bool {
	return m != nil && m.Status == MembershipActive && m.Role.IsStaff()
}

type CreateGroupParams struct {
	Name      string
	Privacy   Privacy
	CreatorID uuid.UUID
	CreatedAt time.Time
}

// MembershipSnapshot is everything a membership transition may look at,
// read under the group's lock.
type MembershipSnapshot struct {
	Group        *Group
	Actor        *Membership
	Target       *Membership
	ActiveAdmins int
	// Staff lists the active admins and moderators.
	Staff []uuid.UUID
}

// MembershipChange is the write a MembershipMutation asks for. A nil Target
// leaves the row untouched. CountDelta is applied to Group.MemberCount in the
// same transaction.
type MembershipChange struct {
	Target     *Membership
	CountDelta int
}

type MembershipMutation func(snap *MembershipSnapshot) (MembershipChange, error)

type MembershipFilter struct {
	Status MembershipStatus
}

// MembershipStore is the durable record of groups and their membership rows.
type MembershipStore interface {
	// CreateGroup stores the group together with the creator's active admin
	// row, so a new group always starts with MemberCount 1.
	CreateGroup(ctx context.Context, params CreateGroupParams) (*Group, error)
	GetGroup(ctx context.Context, groupID uuid.UUID) (*Group, error)
	GetMembership(ctx context.Context, groupID, userID uuid.UUID) (*Membership, error)
	ListMemberships(ctx context.Context, groupID uuid.UUID, filter MembershipFilter, limit, offset int) ([]*Membership, error)
	// MutateMembership loads a snapshot for (group, actor, target), runs fn
	// and applies its change, all serialized per group. The returned snapshot
	// carries the group and target as stored afterwards.
	MutateMembership(ctx context.Context, groupID, actorID, targetID uuid.UUID, fn MembershipMutation) (*MembershipSnapshot, error)
}
