package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/locolive/socialgraph/pkg/validator"
)

// MemberAction is a moderation action one member performs on another.
type MemberAction string

const (
	ActionApprove MemberAction = "approve"
	ActionReject  MemberAction = "reject"
	ActionRemove  MemberAction = "remove"
	ActionPromote MemberAction = "promote"
	ActionDemote  MemberAction = "demote"
)

// actionRule is one row of the moderation table. The actor has already been
// checked to be active staff when permits runs; permits is evaluated before
// the target's status, and apply only runs when every check passed.
type actionRule struct {
	from    MembershipStatus
	event   EventType
	permits func(actor Role, target *Membership, role Role) bool
	apply   func(snap *MembershipSnapshot, role Role, now time.Time) (MembershipChange, Role, error)
}

var memberActions = map[MemberAction]actionRule{
	ActionApprove: {
		from:    MembershipPending,
		event:   EventMembershipApproved,
		permits: outranksTarget,
		apply: func(snap *MembershipSnapshot, _ Role, now time.Time) (MembershipChange, Role, error) {
			next := withStatus(snap.Target, MembershipActive, RoleMember, now)
			return MembershipChange{Target: next, CountDelta: 1}, next.Role, nil
		},
	},
	ActionReject: {
		from:    MembershipPending,
		event:   EventMembershipRejected,
		permits: outranksTarget,
		apply: func(snap *MembershipSnapshot, _ Role, now time.Time) (MembershipChange, Role, error) {
			// Pending rows were never counted.
			next := withStatus(snap.Target, MembershipRemoved, snap.Target.Role, now)
			return MembershipChange{Target: next}, next.Role, nil
		},
	},
	ActionRemove: {
		from:    MembershipActive,
		event:   EventMemberRemoved,
		permits: outranksTarget,
		apply: func(snap *MembershipSnapshot, _ Role, now time.Time) (MembershipChange, Role, error) {
			if snap.Target.Role == RoleAdmin && snap.ActiveAdmins <= 1 {
				return MembershipChange{}, "", ErrCannotRemoveLastAdmin
			}
			next := withStatus(snap.Target, MembershipRemoved, snap.Target.Role, now)
			return MembershipChange{Target: next, CountDelta: -1}, next.Role, nil
		},
	},
	ActionPromote: {
		from:    MembershipActive,
		event:   EventMemberPromoted,
		permits: mayPromote,
		apply: func(snap *MembershipSnapshot, role Role, now time.Time) (MembershipChange, Role, error) {
			if role == "" {
				next, ok := snap.Target.Role.next()
				if !ok {
					return MembershipChange{}, "", ErrInvalidTransition
				}
				role = next
			}
			if !role.Outranks(snap.Target.Role) {
				return MembershipChange{}, "", ErrInvalidTransition
			}
			return MembershipChange{Target: withStatus(snap.Target, MembershipActive, role, now)}, role, nil
		},
	},
	ActionDemote: {
		from:    MembershipActive,
		event:   EventMemberDemoted,
		permits: mayChangeRole,
		apply: func(snap *MembershipSnapshot, role Role, now time.Time) (MembershipChange, Role, error) {
			if role == "" {
				prev, ok := snap.Target.Role.previous()
				if !ok {
					return MembershipChange{}, "", ErrInvalidTransition
				}
				role = prev
			}
			if !snap.Target.Role.Outranks(role) {
				return MembershipChange{}, "", ErrInvalidTransition
			}
			if snap.Target.Role == RoleAdmin && snap.ActiveAdmins <= 1 {
				return MembershipChange{}, "", ErrCannotRemoveLastAdmin
			}
			return MembershipChange{Target: withStatus(snap.Target, MembershipActive, role, now)}, role, nil
		},
	},
}

// outranksTarget lets any staff act on members and moderators. Only admins
// may act on an admin.
func outranksTarget(actor Role, target *Membership, _ Role) bool {
	return actor == RoleAdmin || target.Role != RoleAdmin
}

// mayChangeRole additionally reserves every change to or from admin for admins.
func mayChangeRole(actor Role, target *Membership, role Role) bool {
	if role == RoleAdmin && actor != RoleAdmin {
		return false
	}
	return outranksTarget(actor, target, role)
}

// mayPromote resolves an empty role to the rank above the target's first.
func mayPromote(actor Role, target *Membership, role Role) bool {
	if role == "" {
		role, _ = target.Role.next()
	}
	return mayChangeRole(actor, target, role)
}

func withStatus(m *Membership, status MembershipStatus, role Role, now time.Time) *Membership {
	next := *m
	next.Status = status
	next.Role = role
	next.UpdatedAt = now
	return &next
}

// MembershipService owns the per-group membership lifecycle:
//
//	none -> pending -> active -> removed
//
// with role changes as a side transition of active rows. Calls on the same
// group are serialized so MemberCount and the last-admin guard stay exact.
type MembershipService struct {
	repo   MembershipStore
	seq    *Sequencer
	locks  *keyLock
	now    func() time.Time
	logger *zap.Logger
}

func NewMembershipService(repo MembershipStore, publisher Publisher, logger *zap.Logger) *MembershipService {
	return &MembershipService{
		repo:   repo,
		seq:    sequencerFor(publisher),
		locks:  newKeyLock(),
		now:    time.Now,
		logger: logger,
	}
}

// CreateGroup creates a group whose creator is its first active admin. The
// name is trimmed and capped at MaxGroupNameLength runes.
func (s *MembershipService) CreateGroup(ctx context.Context, creatorID uuid.UUID, name string, privacy Privacy) (*Group, error) {
	name = validator.SanitizeString(name, MaxGroupNameLength)
	if name == "" {
		return nil, ErrInvalidGroupName
	}
	if !privacy.Valid() {
		return nil, ErrInvalidPrivacy
	}
	return s.repo.CreateGroup(ctx, CreateGroupParams{
		Name:      name,
		Privacy:   privacy,
		CreatorID: creatorID,
		CreatedAt: s.now(),
	})
}

func (s *MembershipService) Group(ctx context.Context, groupID uuid.UUID) (*Group, error) {
	return s.repo.GetGroup(ctx, groupID)
}

func (s *MembershipService) Membership(ctx context.Context, groupID, userID uuid.UUID) (*Membership, error) {
	return s.repo.GetMembership(ctx, groupID, userID)
}

func (s *MembershipService) Members(ctx context.Context, groupID uuid.UUID, status MembershipStatus, limit, offset int) ([]*Membership, error) {
	if limit <= 0 {
		limit = 20
	}
	if _, err := s.repo.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	return s.repo.ListMemberships(ctx, groupID, MembershipFilter{Status: status}, limit, offset)
}

// RequestJoin makes userID an active member of a public group, or files a
// pending request for a private or secret one and tells its staff. It is a
// no-op when the user is already pending or active.
func (s *MembershipService) RequestJoin(ctx context.Context, userID, groupID uuid.UUID) (*Membership, error) {
	var transition *Transition
	snap, err := s.mutate(ctx, groupID, userID, userID, func(snap *MembershipSnapshot) (MembershipChange, error) {
		transition = nil
		cur := snap.Target
		if cur != nil && cur.Status != MembershipRemoved {
			return MembershipChange{}, nil
		}

		now := s.now()
		next := &Membership{GroupID: groupID, UserID: userID, CreatedAt: now}
		if cur != nil {
			next.CreatedAt = cur.CreatedAt
		}
		next.Role = RoleMember
		next.UpdatedAt = now

		if !snap.Group.Privacy.RequiresApproval() {
			next.Status = MembershipActive
			return MembershipChange{Target: next, CountDelta: 1}, nil
		}

		next.Status = MembershipPending
		transition = &Transition{
			Type:       EventMembershipRequested,
			ActorID:    userID,
			UserID:     userID,
			GroupID:    &groupID,
			Role:       RoleMember,
			Recipients: snap.Staff,
			At:         now,
		}
		return MembershipChange{Target: next}, nil
	}, func() *Transition { return transition })
	if err != nil {
		return nil, err
	}
	return snap.Target, nil
}

// MemberAction applies a moderation action by actorID to targetID. role is
// only read by promote and demote; when empty they move one rank.
func (s *MembershipService) MemberAction(ctx context.Context, actorID, groupID, targetID uuid.UUID, action MemberAction, role Role) (*Membership, error) {
	rule, ok := memberActions[action]
	if !ok {
		return nil, ErrInvalidAction
	}
	if role != "" && !role.Valid() {
		return nil, ErrInvalidRole
	}

	var transition *Transition
	snap, err := s.mutate(ctx, groupID, actorID, targetID, func(snap *MembershipSnapshot) (MembershipChange, error) {
		transition = nil
		if !snap.Actor.ActiveStaff() {
			return MembershipChange{}, ErrForbidden
		}
		target := snap.Target
		if target == nil {
			return MembershipChange{}, ErrInvalidTransition
		}
		if !rule.permits(snap.Actor.Role, target, role) {
			return MembershipChange{}, ErrForbidden
		}
		if target.Status != rule.from {
			return MembershipChange{}, ErrInvalidTransition
		}

		now := s.now()
		change, newRole, err := rule.apply(snap, role, now)
		if err != nil {
			return MembershipChange{}, err
		}
		transition = &Transition{
			Type:       rule.event,
			ActorID:    actorID,
			UserID:     targetID,
			GroupID:    &groupID,
			Role:       newRole,
			Recipients: []uuid.UUID{targetID},
			At:         now,
		}
		return change, nil
	}, func() *Transition { return transition })
	if err != nil {
		return nil, err
	}
	return snap.Target, nil
}

// LeaveGroup lets a member leave, or withdraw a pending join request. The
// last active admin cannot leave.
func (s *MembershipService) LeaveGroup(ctx context.Context, userID, groupID uuid.UUID) (*Membership, error) {
	var transition *Transition
	snap, err := s.mutate(ctx, groupID, userID, userID, func(snap *MembershipSnapshot) (MembershipChange, error) {
		transition = nil
		cur := snap.Target
		if cur == nil {
			return MembershipChange{}, ErrInvalidTransition
		}

		now := s.now()
		switch cur.Status {
		case MembershipPending:
			return MembershipChange{Target: withStatus(cur, MembershipRemoved, cur.Role, now)}, nil
		case MembershipActive:
			if cur.Role == RoleAdmin && snap.ActiveAdmins <= 1 {
				return MembershipChange{}, ErrCannotRemoveLastAdmin
			}
			recipients := make([]uuid.UUID, 0, len(snap.Staff))
			for _, id := range snap.Staff {
				if id != userID {
					recipients = append(recipients, id)
				}
			}
			transition = &Transition{
				Type:       EventMemberLeft,
				ActorID:    userID,
				UserID:     userID,
				GroupID:    &groupID,
				Role:       cur.Role,
				Recipients: recipients,
				At:         now,
			}
			return MembershipChange{Target: withStatus(cur, MembershipRemoved, cur.Role, now), CountDelta: -1}, nil
		default:
			return MembershipChange{}, ErrInvalidTransition
		}
	}, func() *Transition { return transition })
	if err != nil {
		return nil, err
	}
	return snap.Target, nil
}

// mutate runs fn under the group lock. The ticket is taken inside the store
// transaction and released with the resulting transition's events, if any,
// once the store has committed.
func (s *MembershipService) mutate(
	ctx context.Context,
	groupID, actorID, targetID uuid.UUID,
	fn MembershipMutation,
	transition func() *Transition,
) (*MembershipSnapshot, error) {
	unlock := s.locks.Lock(groupID.String())
	defer unlock()

	var ticket *Ticket
	defer func() { ticket.Release() }()

	snap, err := s.repo.MutateMembership(ctx, groupID, actorID, targetID, func(snap *MembershipSnapshot) (MembershipChange, error) {
		ticket.Release()
		ticket = s.seq.Take()
		return fn(snap)
	})
	if err != nil {
		return nil, err
	}

	if t := transition(); t != nil {
		s.logger.Debug("membership transition",
			zap.String("event", string(t.Type)),
			zap.String("group", groupID.String()),
			zap.String("actor", actorID.String()),
			zap.String("target", targetID.String()),
		)
		ticket.Release(Fanout(*t)...)
	}
	return snap, nil
}
