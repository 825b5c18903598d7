package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventFriendRequestSent      EventType = "friend_request_sent"
	EventFriendRequestAccepted  EventType = "friend_request_accepted"
	EventFriendRequestCancelled EventType = "friend_request_cancelled"
	EventFriendRequestRejected  EventType = "friend_request_rejected"
	EventFriendRemoved          EventType = "friend_removed"
	EventMembershipRequested    EventType = "membership_requested"
	EventMembershipApproved     EventType = "membership_approved"
	EventMembershipRejected     EventType = "membership_rejected"
	EventMemberPromoted         EventType = "member_promoted"
	EventMemberDemoted          EventType = "member_demoted"
	EventMemberRemoved          EventType = "member_removed"
	EventMemberLeft             EventType = "member_left"
)

// NotificationEvent is addressed to exactly one recipient. A transition that
// concerns several users produces one event per recipient.
type NotificationEvent struct {
	ID          uuid.UUID  `json:"id"`
	Type        EventType  `json:"type"`
	RecipientID uuid.UUID  `json:"recipient_id"`
	ActorID     uuid.UUID  `json:"actor_id"`
	UserID      uuid.UUID  `json:"user_id"`
	GroupID     *uuid.UUID `json:"group_id,omitempty"`
	Role        Role       `json:"role,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Transition describes a committed state change and who must hear about it.
type Transition struct {
	Type       EventType
	ActorID    uuid.UUID
	UserID     uuid.UUID
	GroupID    *uuid.UUID
	Role       Role
	Recipients []uuid.UUID
	At         time.Time
}

// Fanout turns a transition into one event per distinct recipient, keeping
// the order recipients were listed in.
func Fanout(t Transition) []NotificationEvent {
	seen := make(map[uuid.UUID]struct{}, len(t.Recipients))
	events := make([]NotificationEvent, 0, len(t.Recipients))
	for _, recipient := range t.Recipients {
		if recipient == uuid.Nil {
			continue
		}
		if _, dup := seen[recipient]; dup {
			continue
		}
		seen[recipient] = struct{}{}
		events = append(events, NotificationEvent{
			ID:          uuid.New(),
			Type:        t.Type,
			RecipientID: recipient,
			ActorID:     t.ActorID,
			UserID:      t.UserID,
			GroupID:     t.GroupID,
			Role:        t.Role,
			CreatedAt:   t.At,
		})
	}
	return events
}

// ChannelName is the per-user delivery channel. It is a pure function of the
// user id so every process addressing the same user agrees on it.
func ChannelName(userID uuid.UUID) string {
	return "user_" + userID.String()
}

// Publisher accepts events for asynchronous delivery. Publish must not block
// on delivery.
type Publisher interface {
	Publish(events ...NotificationEvent)
}
