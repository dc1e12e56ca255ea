// Package relay forwards persisted session events to the message broker off the
// realtime path.
package relay

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"mentorsync/pkg/types"
)

const publishTimeout = 5 * time.Second

// Publisher is the broker side of the relay.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, body any) error
}

// Relay queues session events and publishes them from one goroutine. Publish
// never blocks: a full queue drops the event and reports ErrRelayQueueFull.
type Relay struct {
	events    chan *types.SessionEvent
	shutdown  chan struct{}
	publisher Publisher
	log       *zap.Logger

	running bool
	mu      sync.RWMutex
	wg      sync.WaitGroup
}

func NewRelay(publisher Publisher, log *zap.Logger, queueSize int) *Relay {
	return &Relay{
		events:    make(chan *types.SessionEvent, queueSize),
		shutdown:  make(chan struct{}),
		publisher: publisher,
		log:       log,
	}
}

func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrRelayAlreadyRunning
	}
	r.running = true

	r.wg.Add(1)
	go r.run(ctx)
	return nil
}

// Stop publishes whatever is already queued, then returns.
func (r *Relay) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrRelayNotRunning
	}
	r.running = false
	close(r.shutdown)
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}

func (r *Relay) Publish(evt *types.SessionEvent) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.running {
		return ErrRelayNotRunning
	}

	select {
	case r.events <- evt:
		return nil
	default:
		r.log.Warn("relay queue full, dropping event",
			zap.String("kind", evt.Kind),
			zap.String("session_id", evt.SessionID))
		return ErrRelayQueueFull
	}
}

func (r *Relay) run(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case evt := <-r.events:
			r.publish(ctx, evt)
		case <-r.shutdown:
			r.drain(context.WithoutCancel(ctx))
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Relay) drain(ctx context.Context) {
	for {
		select {
		case evt := <-r.events:
			r.publish(ctx, evt)
		default:
			return
		}
	}
}

func (r *Relay) publish(ctx context.Context, evt *types.SessionEvent) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := r.publisher.PublishJSON(ctx, RoutingKey(evt), evt); err != nil {
		r.log.Error("relay publish failed",
			zap.String("kind", evt.Kind),
			zap.String("session_id", evt.SessionID),
			zap.String("record_id", evt.RecordID),
			zap.Error(err))
	}
}

// RoutingKey is "session.<kind>", e.g. session.chat.
func RoutingKey(evt *types.SessionEvent) string {
	return "session." + evt.Kind
}

// Discard is the sink used when no broker is configured.
type Discard struct{}

func (Discard) Publish(*types.SessionEvent) error { return nil }
