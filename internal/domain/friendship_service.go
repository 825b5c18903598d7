package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GraphService owns the friend-request lifecycle of every user pair:
//
//	none -> pending(A) | pending(B) -> accepted -> none
//
// Calls on the same pair are serialized. Events go through a Sequencer so a
// recipient sees them in commit order.
type GraphService struct {
	repo   RelationshipStore
	seq    *Sequencer
	locks  *keyLock
	now    func() time.Time
	logger *zap.Logger
}

func NewGraphService(repo RelationshipStore, publisher Publisher, logger *zap.Logger) *GraphService {
	return &GraphService{
		repo:   repo,
		seq:    sequencerFor(publisher),
		locks:  newKeyLock(),
		now:    time.Now,
		logger: logger,
	}
}

// SendRequest creates a pending edge from -> to. A request already pending in
// the opposite direction is accepted instead, and repeating one's own request
// returns the existing edge without a new event.
func (s *GraphService) SendRequest(ctx context.Context, from, to uuid.UUID) (*FriendEdge, error) {
	if from == to {
		return nil, ErrSelfRelation
	}

	var event EventType
	edge, err := s.mutate(ctx, from, to, func(cur *FriendEdge) (EdgeChange, error) {
		event = ""
		now := s.now()
		switch {
		case cur == nil:
			event = EventFriendRequestSent
			low, high := OrderPair(from, to)
			return EdgeChange{Op: EdgePut, Edge: &FriendEdge{
				UserLow:     low,
				UserHigh:    high,
				Status:      EdgeStatusPending,
				RequesterID: from,
				RequestedAt: now,
				UpdatedAt:   now,
			}}, nil
		case cur.Status == EdgeStatusAccepted:
			return EdgeChange{}, ErrAlreadyFriends
		case cur.RequesterID == from:
			return EdgeChange{Op: EdgeKeep}, nil
		default:
			// Both sides asked: treat it as `to` accepting.
			event = EventFriendRequestAccepted
			next := *cur
			next.Status = EdgeStatusAccepted
			next.UpdatedAt = now
			return EdgeChange{Op: EdgePut, Edge: &next}, nil
		}
	}, func() []NotificationEvent {
		if event == "" {
			return nil
		}
		return s.events(event, from, to)
	})
	if err != nil {
		return nil, err
	}
	return edge, nil
}

// CancelRequest withdraws a request previously sent by from.
func (s *GraphService) CancelRequest(ctx context.Context, from, to uuid.UUID) error {
	if from == to {
		return ErrSelfRelation
	}
	_, err := s.mutate(ctx, from, to, func(cur *FriendEdge) (EdgeChange, error) {
		if cur == nil || !cur.PendingFrom(from) {
			return EdgeChange{}, ErrNoSuchRequest
		}
		return EdgeChange{Op: EdgeDelete}, nil
	}, func() []NotificationEvent {
		return s.events(EventFriendRequestCancelled, from, to)
	})
	return err
}

// AcceptRequest accepts the request that from sent to by.
func (s *GraphService) AcceptRequest(ctx context.Context, by, from uuid.UUID) (*FriendEdge, error) {
	if by == from {
		return nil, ErrSelfRelation
	}
	return s.mutate(ctx, by, from, func(cur *FriendEdge) (EdgeChange, error) {
		if cur == nil || !cur.PendingFrom(from) {
			return EdgeChange{}, ErrNoSuchRequest
		}
		next := *cur
		next.Status = EdgeStatusAccepted
		next.UpdatedAt = s.now()
		return EdgeChange{Op: EdgePut, Edge: &next}, nil
	}, func() []NotificationEvent {
		return s.events(EventFriendRequestAccepted, by, from)
	})
}

// RejectRequest declines the request that from sent to by.
func (s *GraphService) RejectRequest(ctx context.Context, by, from uuid.UUID) error {
	if by == from {
		return ErrSelfRelation
	}
	_, err := s.mutate(ctx, by, from, func(cur *FriendEdge) (EdgeChange, error) {
		if cur == nil || !cur.PendingFrom(from) {
			return EdgeChange{}, ErrNoSuchRequest
		}
		return EdgeChange{Op: EdgeDelete}, nil
	}, func() []NotificationEvent {
		return s.events(EventFriendRequestRejected, by, from)
	})
	return err
}

// RemoveFriend deletes an accepted edge. Afterwards the pair behaves as if
// it had never been related.
func (s *GraphService) RemoveFriend(ctx context.Context, a, b uuid.UUID) error {
	if a == b {
		return ErrSelfRelation
	}
	_, err := s.mutate(ctx, a, b, func(cur *FriendEdge) (EdgeChange, error) {
		if cur == nil || cur.Status != EdgeStatusAccepted {
			return EdgeChange{}, ErrNotFriends
		}
		return EdgeChange{Op: EdgeDelete}, nil
	}, func() []NotificationEvent {
		return s.events(EventFriendRemoved, a, b)
	})
	return err
}

// Relationship returns the pair's state as seen by viewer.
func (s *GraphService) Relationship(ctx context.Context, viewer, other uuid.UUID) (RelationStatus, error) {
	edge, err := s.repo.GetEdge(ctx, viewer, other)
	if err != nil {
		return RelationNone, err
	}
	return edge.StatusFor(viewer), nil
}

func (s *GraphService) Friends(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*FriendEdge, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListEdges(ctx, userID, EdgeFilter{Status: EdgeStatusAccepted}, limit, offset)
}

func (s *GraphService) PendingRequests(ctx context.Context, userID uuid.UUID, direction RequestDirection, limit, offset int) ([]*FriendEdge, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListEdges(ctx, userID, EdgeFilter{Status: EdgeStatusPending, Direction: direction}, limit, offset)
}

// mutate serializes fn against every other call on the pair. The ticket is
// taken inside the store transaction and released with committed's events
// only when the store accepted a change.
func (s *GraphService) mutate(ctx context.Context, a, b uuid.UUID, fn EdgeMutation, committed func() []NotificationEvent) (*FriendEdge, error) {
	unlock := s.locks.Lock(pairKey(a, b))
	defer unlock()

	var ticket *Ticket
	defer func() { ticket.Release() }()

	changed := false
	edge, err := s.repo.MutateEdge(ctx, a, b, func(cur *FriendEdge) (EdgeChange, error) {
		ticket.Release()
		ticket = s.seq.Take()
		change, err := fn(cur)
		changed = err == nil && change.Op != EdgeKeep
		return change, err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		ticket.Release(committed()...)
	}
	return edge, nil
}

func (s *GraphService) events(event EventType, actor, counterparty uuid.UUID) []NotificationEvent {
	s.logger.Debug("friend transition",
		zap.String("event", string(event)),
		zap.String("actor", actor.String()),
		zap.String("counterparty", counterparty.String()),
	)
	return Fanout(Transition{
		Type:       event,
		ActorID:    actor,
		UserID:     actor,
		Recipients: []uuid.UUID{counterparty},
		At:         s.now(),
	})
}
