package domain

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
)

type EdgeStatus string

const (
	EdgeStatusPending  EdgeStatus = "pending"
	EdgeStatusAccepted EdgeStatus = "accepted"
)

// RelationStatus is the state of a pair as seen by one of its users.
type RelationStatus string

const (
	RelationNone            RelationStatus = "none"
	RelationRequestSent     RelationStatus = "request_sent"
	RelationRequestReceived RelationStatus = "request_received"
	RelationFriends         RelationStatus = "friends"
)

// FriendEdge is the single record kept for an unordered pair of users. A
// pending edge is a friend request; there is no separate request table.
// UserLow/UserHigh are always stored in canonical order.
type FriendEdge struct {
	UserLow     uuid.UUID  `json:"user_low"`
	UserHigh    uuid.UUID  `json:"user_high"`
	Status      EdgeStatus `json:"status"`
	RequesterID uuid.UUID  `json:"requester_id"`
	RequestedAt time.Time  `json:"requested_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Other returns the member of the pair that is not userID.
func (e *FriendEdge) Other(userID uuid.UUID) uuid.UUID {
	if e.UserLow == userID {
		return e.UserHigh
	}
	return e.UserLow
}

// PendingFrom reports whether the edge is a request sent by userID.
func (e *FriendEdge) PendingFrom(userID uuid.UUID) bool {
	return e.Status == EdgeStatusPending && e.RequesterID == userID
}

// StatusFor describes the edge from the point of view of userID.
func (e *FriendEdge) StatusFor(userID uuid.UUID) RelationStatus {
	if e == nil {
		return RelationNone
	}
	switch {
	case e.Status == EdgeStatusAccepted:
		return RelationFriends
	case e.RequesterID == userID:
		return RelationRequestSent
	default:
		return RelationRequestReceived
	}
}

// OrderPair returns a and b in canonical (byte-wise ascending) order.
func OrderPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return a, b
	}
	return b, a
}

func pairKey(a, b uuid.UUID) string {
	low, high := OrderPair(a, b)
	return low.String() + ":" + high.String()
}

type EdgeOp int

const (
	EdgeKeep EdgeOp = iota
	EdgePut
	EdgeDelete
)

// EdgeChange is what an EdgeMutation asks the store to do with the pair.
type EdgeChange struct {
	Op   EdgeOp
	Edge *FriendEdge
}

// EdgeMutation receives the current edge (nil when the pair has none) and
// decides the change. Returning an error aborts without touching the store.
type EdgeMutation func(current *FriendEdge) (EdgeChange, error)

type RequestDirection string

const (
	DirectionIncoming RequestDirection = "incoming"
	DirectionOutgoing RequestDirection = "outgoing"
)

// EdgeFilter narrows ListEdges. Direction only applies to pending edges.
type EdgeFilter struct {
	Status    EdgeStatus
	Direction RequestDirection
}

// RelationshipStore is the durable record of friend edges.
type RelationshipStore interface {
	// MutateEdge runs fn and applies its change atomically with respect to
	// every other MutateEdge call on the same pair. It returns the edge as
	// stored afterwards, nil when the pair has none.
	MutateEdge(ctx context.Context, a, b uuid.UUID, fn EdgeMutation) (*FriendEdge, error)
	GetEdge(ctx context.Context, a, b uuid.UUID) (*FriendEdge, error)
	ListEdges(ctx context.Context, userID uuid.UUID, filter EdgeFilter, limit, offset int) ([]*FriendEdge, error)
}
