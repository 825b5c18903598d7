package domain_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/locolive/socialgraph/internal/domain"
	"github.com/locolive/socialgraph/internal/repository"
)

func newGraph(t *testing.T) (*domain.GraphService, *repository.MemoryRepository, *recorder) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	rec := &recorder{}
	return domain.NewGraphService(repo, rec, zap.NewNop()), repo, rec
}

func TestGraphService_SendRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a pending edge and notifies the target", func(t *testing.T) {
		svc, _, rec := newGraph(t)
		a, b := uuid.New(), uuid.New()

		edge, err := svc.SendRequest(ctx, a, b)
		require.NoError(t, err)
		assert.Equal(t, domain.EdgeStatusPending, edge.Status)
		assert.Equal(t, a, edge.RequesterID)

		events := rec.all()
		require.Len(t, events, 1)
		assert.Equal(t, domain.EventFriendRequestSent, events[0].Type)
		assert.Equal(t, b, events[0].RecipientID)
		assert.Equal(t, a, events[0].ActorID)
	})

	t.Run("repeating a request is idempotent", func(t *testing.T) {
		svc, repo, rec := newGraph(t)
		a, b := uuid.New(), uuid.New()

		_, err := svc.SendRequest(ctx, a, b)
		require.NoError(t, err)
		_, err = svc.SendRequest(ctx, a, b)
		require.NoError(t, err)

		pending, err := repo.ListEdges(ctx, a, domain.EdgeFilter{Status: domain.EdgeStatusPending}, 0, 0)
		require.NoError(t, err)
		assert.Len(t, pending, 1)
		assert.Len(t, rec.all(), 1)
	})

	t.Run("opposite pending request is accepted", func(t *testing.T) {
		svc, _, rec := newGraph(t)
		a, b := uuid.New(), uuid.New()

		_, err := svc.SendRequest(ctx, a, b)
		require.NoError(t, err)
		rec.reset()

		edge, err := svc.SendRequest(ctx, b, a)
		require.NoError(t, err)
		assert.Equal(t, domain.EdgeStatusAccepted, edge.Status)

		events := rec.all()
		require.Len(t, events, 1)
		assert.Equal(t, domain.EventFriendRequestAccepted, events[0].Type)
		assert.Equal(t, a, events[0].RecipientID)
	})

	t.Run("already friends", func(t *testing.T) {
		svc, _, _ := newGraph(t)
		a, b := uuid.New(), uuid.New()

		_, err := svc.SendRequest(ctx, a, b)
		require.NoError(t, err)
		_, err = svc.AcceptRequest(ctx, b, a)
		require.NoError(t, err)

		_, err = svc.SendRequest(ctx, a, b)
		assert.ErrorIs(t, err, domain.ErrAlreadyFriends)
		_, err = svc.SendRequest(ctx, b, a)
		assert.ErrorIs(t, err, domain.ErrAlreadyFriends)
	})

	t.Run("self request", func(t *testing.T) {
		svc, _, rec := newGraph(t)
		a := uuid.New()

		_, err := svc.SendRequest(ctx, a, a)
		assert.ErrorIs(t, err, domain.ErrSelfRelation)
		assert.Empty(t, rec.all())
	})
}

func TestGraphService_ConcurrentMutualRequests(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		svc, repo, rec := newGraph(t)
		a, b := uuid.New(), uuid.New()

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, errs[0] = svc.SendRequest(ctx, a, b)
		}()
		go func() {
			defer wg.Done()
			_, errs[1] = svc.SendRequest(ctx, b, a)
		}()
		wg.Wait()

		require.NoError(t, errs[0])
		require.NoError(t, errs[1])

		edge, err := repo.GetEdge(ctx, a, b)
		require.NoError(t, err)
		require.NotNil(t, edge)
		assert.Equal(t, domain.EdgeStatusAccepted, edge.Status)

		all, err := repo.ListEdges(ctx, a, domain.EdgeFilter{}, 0, 0)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		assert.ElementsMatch(t,
			[]domain.EventType{domain.EventFriendRequestSent, domain.EventFriendRequestAccepted},
			types(rec.all()))
	}
}

func TestGraphService_AcceptRequest(t *testing.T) {
	ctx := context.Background()
	svc, _, rec := newGraph(t)
	a, b := uuid.New(), uuid.New()

	_, err := svc.AcceptRequest(ctx, b, a)
	assert.ErrorIs(t, err, domain.ErrNoSuchRequest)

	_, err = svc.SendRequest(ctx, a, b)
	require.NoError(t, err)

	// The requester cannot accept their own request.
	_, err = svc.AcceptRequest(ctx, a, b)
	assert.ErrorIs(t, err, domain.ErrNoSuchRequest)

	rec.reset()
	edge, err := svc.AcceptRequest(ctx, b, a)
	require.NoError(t, err)
	assert.Equal(t, domain.EdgeStatusAccepted, edge.Status)

	require.Len(t, rec.all(), 1)
	assert.Equal(t, domain.EventFriendRequestAccepted, rec.all()[0].Type)
	assert.Equal(t, a, rec.all()[0].RecipientID)

	status, err := svc.Relationship(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, domain.RelationFriends, status)
}

func TestGraphService_CancelAndReject(t *testing.T) {
	ctx := context.Background()
	svc, repo, rec := newGraph(t)
	a, b := uuid.New(), uuid.New()

	assert.ErrorIs(t, svc.CancelRequest(ctx, a, b), domain.ErrNoSuchRequest)

	_, err := svc.SendRequest(ctx, a, b)
	require.NoError(t, err)

	// Only the requester may cancel.
	assert.ErrorIs(t, svc.CancelRequest(ctx, b, a), domain.ErrNoSuchRequest)

	rec.reset()
	require.NoError(t, svc.CancelRequest(ctx, a, b))
	edge, err := repo.GetEdge(ctx, a, b)
	require.NoError(t, err)
	assert.Nil(t, edge)
	assert.Equal(t, []domain.EventType{domain.EventFriendRequestCancelled}, types(rec.to(b)))

	_, err = svc.SendRequest(ctx, a, b)
	require.NoError(t, err)
	rec.reset()

	// Only the recipient may reject.
	assert.ErrorIs(t, svc.RejectRequest(ctx, a, b), domain.ErrNoSuchRequest)
	require.NoError(t, svc.RejectRequest(ctx, b, a))
	assert.Equal(t, []domain.EventType{domain.EventFriendRequestRejected}, types(rec.to(a)))

	status, err := svc.Relationship(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, domain.RelationNone, status)
}

func TestGraphService_RemoveFriend(t *testing.T) {
	ctx := context.Background()
	svc, repo, rec := newGraph(t)
	a, b := uuid.New(), uuid.New()

	assert.ErrorIs(t, svc.RemoveFriend(ctx, a, b), domain.ErrNotFriends)

	_, err := svc.SendRequest(ctx, a, b)
	require.NoError(t, err)
	assert.ErrorIs(t, svc.RemoveFriend(ctx, a, b), domain.ErrNotFriends)

	_, err = svc.AcceptRequest(ctx, b, a)
	require.NoError(t, err)

	rec.reset()
	require.NoError(t, svc.RemoveFriend(ctx, b, a))
	assert.Equal(t, []domain.EventType{domain.EventFriendRemoved}, types(rec.to(a)))

	edge, err := repo.GetEdge(ctx, a, b)
	require.NoError(t, err)
	assert.Nil(t, edge)

	// The pair starts over from no relation.
	rec.reset()
	edge, err = svc.SendRequest(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, domain.EdgeStatusPending, edge.Status)
	assert.Equal(t, []domain.EventType{domain.EventFriendRequestSent}, types(rec.to(b)))
}

func TestGraphService_Listings(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newGraph(t)
	me, friend, incoming, outgoing := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	_, err := svc.SendRequest(ctx, friend, me)
	require.NoError(t, err)
	_, err = svc.AcceptRequest(ctx, me, friend)
	require.NoError(t, err)
	_, err = svc.SendRequest(ctx, incoming, me)
	require.NoError(t, err)
	_, err = svc.SendRequest(ctx, me, outgoing)
	require.NoError(t, err)

	friends, err := svc.Friends(ctx, me, 0, 0)
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, friend, friends[0].Other(me))

	in, err := svc.PendingRequests(ctx, me, domain.DirectionIncoming, 0, 0)
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, incoming, in[0].Other(me))

	out, err := svc.PendingRequests(ctx, me, domain.DirectionOutgoing, 0, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, outgoing, out[0].Other(me))

	both, err := svc.PendingRequests(ctx, me, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, both, 2)

	status, err := svc.Relationship(ctx, me, incoming)
	require.NoError(t, err)
	assert.Equal(t, domain.RelationRequestReceived, status)
	status, err = svc.Relationship(ctx, me, outgoing)
	require.NoError(t, err)
	assert.Equal(t, domain.RelationRequestSent, status)
}
