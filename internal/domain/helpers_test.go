package domain_test

import (
	"sync"

	"github.com/google/uuid"

	"github.com/locolive/socialgraph/internal/domain"
)

// recorder is a Publisher that keeps every event it is handed.
type recorder struct {
	mu     sync.Mutex
	events []domain.NotificationEvent
}

func (r *recorder) Publish(events ...domain.NotificationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recorder) all() []domain.NotificationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.NotificationEvent(nil), r.events...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// to returns the events addressed to recipient, in publish order.
func (r *recorder) to(recipient uuid.UUID) []domain.NotificationEvent {
	var out []domain.NotificationEvent
	for _, e := range r.all() {
		if e.RecipientID == recipient {
			out = append(out, e)
		}
	}
	return out
}

func types(events []domain.NotificationEvent) []domain.EventType {
	out := make([]domain.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}
