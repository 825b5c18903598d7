package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locolive/socialgraph/internal/domain"
)

func putEdge(t *testing.T, r *MemoryRepository, from, to uuid.UUID, status domain.EdgeStatus, at time.Time) {
	t.Helper()
	low, high := domain.OrderPair(from, to)
	_, err := r.MutateEdge(context.Background(), from, to, func(*domain.FriendEdge) (domain.EdgeChange, error) {
		return domain.EdgeChange{Op: domain.EdgePut, Edge: &domain.FriendEdge{
			UserLow: low, UserHigh: high, Status: status, RequesterID: from, RequestedAt: at, UpdatedAt: at,
		}}, nil
	})
	require.NoError(t, err)
}

func TestMemoryRepository_MutateEdge(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	a, b := uuid.New(), uuid.New()
	now := time.Now()

	putEdge(t, r, a, b, domain.EdgeStatusPending, now)

	// Either argument order addresses the same pair.
	var seen *domain.FriendEdge
	edge, err := r.MutateEdge(ctx, b, a, func(cur *domain.FriendEdge) (domain.EdgeChange, error) {
		seen = cur
		return domain.EdgeChange{Op: domain.EdgeKeep}, nil
	})
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, a, seen.RequesterID)
	assert.Equal(t, seen, edge)

	// The callback works on a copy.
	seen.Status = domain.EdgeStatusAccepted
	stored, err := r.GetEdge(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, domain.EdgeStatusPending, stored.Status)

	// A failed callback leaves state alone.
	_, err = r.MutateEdge(ctx, a, b, func(*domain.FriendEdge) (domain.EdgeChange, error) {
		return domain.EdgeChange{Op: domain.EdgeDelete}, domain.ErrNotFriends
	})
	assert.ErrorIs(t, err, domain.ErrNotFriends)
	stored, err = r.GetEdge(ctx, a, b)
	require.NoError(t, err)
	assert.NotNil(t, stored)

	edge, err = r.MutateEdge(ctx, a, b, func(*domain.FriendEdge) (domain.EdgeChange, error) {
		return domain.EdgeChange{Op: domain.EdgeDelete}, nil
	})
	require.NoError(t, err)
	assert.Nil(t, edge)
	stored, err = r.GetEdge(ctx, b, a)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestMemoryRepository_ListEdges(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	me := uuid.New()
	base := time.Now()

	old, recent := uuid.New(), uuid.New()
	putEdge(t, r, me, old, domain.EdgeStatusAccepted, base)
	putEdge(t, r, recent, me, domain.EdgeStatusAccepted, base.Add(time.Minute))
	putEdge(t, r, uuid.New(), me, domain.EdgeStatusPending, base)
	putEdge(t, r, uuid.New(), uuid.New(), domain.EdgeStatusAccepted, base)

	friends, err := r.ListEdges(ctx, me, domain.EdgeFilter{Status: domain.EdgeStatusAccepted}, 10, 0)
	require.NoError(t, err)
	require.Len(t, friends, 2)
	assert.Equal(t, recent, friends[0].Other(me))
	assert.Equal(t, old, friends[1].Other(me))

	page, err := r.ListEdges(ctx, me, domain.EdgeFilter{Status: domain.EdgeStatusAccepted}, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, old, page[0].Other(me))

	page, err = r.ListEdges(ctx, me, domain.EdgeFilter{}, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, page)

	outgoing, err := r.ListEdges(ctx, me, domain.EdgeFilter{Status: domain.EdgeStatusPending, Direction: domain.DirectionOutgoing}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, outgoing)
}

func TestMemoryRepository_Memberships(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	creator := uuid.New()
	now := time.Now()

	group, err := r.CreateGroup(ctx, domain.CreateGroupParams{
		Name: "climbers", Privacy: domain.PrivacyPrivate, CreatorID: creator, CreatedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, group.MemberCount)

	_, err = r.GetGroup(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrGroupNotFound)
	_, err = r.GetMembership(ctx, group.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrMembershipNotFound)

	user := uuid.New()
	snap, err := r.MutateMembership(ctx, group.ID, creator, user, func(s *domain.MembershipSnapshot) (domain.MembershipChange, error) {
		assert.Equal(t, 1, s.ActiveAdmins)
		assert.Equal(t, []uuid.UUID{creator}, s.Staff)
		assert.NotNil(t, s.Actor)
		assert.Nil(t, s.Target)
		return domain.MembershipChange{
			Target: &domain.Membership{
				GroupID: group.ID, UserID: user, Role: domain.RoleMember,
				Status: domain.MembershipActive, CreatedAt: now.Add(time.Second), UpdatedAt: now.Add(time.Second),
			},
			CountDelta: 1,
		}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Group.MemberCount)
	assert.Equal(t, domain.MembershipActive, snap.Target.Status)

	// Errors from the callback leave the group untouched.
	_, err = r.MutateMembership(ctx, group.ID, creator, user, func(*domain.MembershipSnapshot) (domain.MembershipChange, error) {
		return domain.MembershipChange{CountDelta: -1}, domain.ErrForbidden
	})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	stored, err := r.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.MemberCount)

	members, err := r.ListMemberships(ctx, group.ID, domain.MembershipFilter{Status: domain.MembershipActive}, 10, 0)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, creator, members[0].UserID)
	assert.Equal(t, user, members[1].UserID)

	_, err = r.MutateMembership(ctx, uuid.New(), creator, user, func(*domain.MembershipSnapshot) (domain.MembershipChange, error) {
		t.Fatal("callback must not run for an unknown group")
		return domain.MembershipChange{}, nil
	})
	assert.ErrorIs(t, err, domain.ErrGroupNotFound)
}
