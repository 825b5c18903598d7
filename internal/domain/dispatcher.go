package domain

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/locolive/socialgraph/internal/metrics"
)

// Deliverer pushes an event to the recipient's live connections and reports
// how many received it.
type Deliverer interface {
	Deliver(event NotificationEvent) int
}

// PushNotifier is an optional best-effort channel for recipients with no live
// connection. It is not a queue: a failed push is logged and forgotten.
type PushNotifier interface {
	Push(ctx context.Context, event NotificationEvent) error
}

const pushTimeout = 10 * time.Second

// MaxInFlightPushes bounds concurrent pushes.
const MaxInFlightPushes = 8

// Dispatcher decouples state transitions from delivery. Publish appends to an
// in-memory queue and returns immediately; Run delivers the queue in order,
// so events for one recipient arrive in the order they were published.
type Dispatcher struct {
	deliverer Deliverer
	push      PushNotifier
	pushes    *errgroup.Group
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu    sync.Mutex
	queue []NotificationEvent
	wake  chan struct{}
}

func NewDispatcher(deliverer Deliverer, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		deliverer: deliverer,
		metrics:   m,
		logger:    logger,
		wake:      make(chan struct{}, 1),
	}
}

// WithPush enables best-effort push for offline recipients. An event that
// finds MaxInFlightPushes pushes already running is dropped.
func (d *Dispatcher) WithPush(push PushNotifier) *Dispatcher {
	d.push = push
	d.pushes = new(errgroup.Group)
	d.pushes.SetLimit(MaxInFlightPushes)
	return d
}

// Publish implements Publisher.
func (d *Dispatcher) Publish(events ...NotificationEvent) {
	if len(events) == 0 {
		return
	}

	d.mu.Lock()
	d.queue = append(d.queue, events...)
	depth := len(d.queue)
	d.mu.Unlock()

	for _, e := range events {
		d.metrics.EventPublished(string(e.Type))
	}
	d.metrics.QueueDepth(depth)

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run delivers queued events until ctx is done, then waits for in-flight
// pushes.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if d.pushes != nil {
				_ = d.pushes.Wait()
			}
			return nil
		case <-d.wake:
		}

		for {
			batch := d.drain()
			if len(batch) == 0 {
				break
			}
			for _, event := range batch {
				d.deliver(ctx, event)
			}
		}
	}
}

func (d *Dispatcher) drain() []NotificationEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	batch := d.queue
	d.queue = nil
	d.metrics.QueueDepth(0)
	return batch
}

func (d *Dispatcher) deliver(ctx context.Context, event NotificationEvent) {
	if n := d.deliverer.Deliver(event); n > 0 {
		return
	}

	if d.push == nil {
		d.logger.Debug("recipient offline, event dropped",
			zap.String("event", string(event.Type)),
			zap.String("recipient", event.RecipientID.String()),
		)
		return
	}

	started := d.pushes.TryGo(func() error {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
		defer cancel()
		if err := d.push.Push(pushCtx, event); err != nil {
			d.logger.Warn("push notification failed",
				zap.String("event", string(event.Type)),
				zap.String("recipient", event.RecipientID.String()),
				zap.Error(err),
			)
			return nil
		}
		d.metrics.Delivery(metrics.ResultPushed, 1)
		return nil
	})
	if !started {
		d.logger.Warn("push workers busy, event dropped",
			zap.String("event", string(event.Type)),
			zap.String("recipient", event.RecipientID.String()),
		)
		d.metrics.Delivery(metrics.ResultDropped, 1)
	}
}
