package domain

import "sync"

// Sequencer hands events to a Publisher in ticket order. State machines take
// a ticket inside the store transaction, once the rows they touch are locked,
// so transitions that conflict hold tickets in the order they commit. A
// ticket's events are held back until every earlier ticket is released,
// which keeps each recipient's events in commit order even when the
// transitions ran under different pair or group locks.
type Sequencer struct {
	out Publisher

	mu      sync.Mutex
	next    uint64
	head    uint64
	pending map[uint64][]NotificationEvent
}

func NewSequencer(out Publisher) *Sequencer {
	return &Sequencer{out: out, pending: make(map[uint64][]NotificationEvent)}
}

// Ticket is one reserved slot. It must be released exactly once, with no
// events when the transition did not commit.
type Ticket struct {
	seq      *Sequencer
	n        uint64
	released bool
}

// Take reserves the next slot.
func (s *Sequencer) Take() *Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &Ticket{seq: s, n: s.next}
	s.next++
	return t
}

// Release publishes events once every earlier ticket is released. Later
// calls on the same ticket, and calls on a nil ticket, do nothing.
func (t *Ticket) Release(events ...NotificationEvent) {
	if t == nil || t.released {
		return
	}
	t.released = true
	t.seq.release(t.n, events)
}

func (s *Sequencer) release(n uint64, events []NotificationEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending[n] = events
	for {
		batch, ok := s.pending[s.head]
		if !ok {
			return
		}
		delete(s.pending, s.head)
		s.head++
		if len(batch) > 0 {
			s.out.Publish(batch...)
		}
	}
}

// Publish implements Publisher for events with no transaction behind them.
func (s *Sequencer) Publish(events ...NotificationEvent) {
	s.Take().Release(events...)
}

// sequencerFor reuses publisher when it already orders events, so services
// sharing one Sequencer order their events against each other.
func sequencerFor(publisher Publisher) *Sequencer {
	if seq, ok := publisher.(*Sequencer); ok {
		return seq
	}
	return NewSequencer(publisher)
}
