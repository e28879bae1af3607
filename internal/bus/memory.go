package bus

import (
	"context"
	"sync"
	"time"

	"github.com/ricesearch/rank-tree/internal/pkg/errors"
	"github.com/ricesearch/rank-tree/internal/pkg/logger"
)

// DefaultDrainTimeout bounds how long MemoryBus.Close waits for handlers.
const DefaultDrainTimeout = 10 * time.Second

var errBusClosed = errors.New(errors.CodeUnavailable, "bus is closed")

// registry holds topic subscriptions for both bus implementations.
type registry struct {
	mu     sync.RWMutex
	topics map[string][]Handler
	closed bool
}

func newRegistry() registry {
	return registry{topics: make(map[string][]Handler)}
}

func (r *registry) add(topic string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errBusClosed
	}
	r.topics[topic] = append(r.topics[topic], h)
	return nil
}

// handlers returns a snapshot of the handlers for topic.
func (r *registry) handlers(topic string) ([]Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, errBusClosed
	}
	return append([]Handler(nil), r.topics[topic]...), nil
}

// shut marks the registry closed. It reports false if it already was.
func (r *registry) shut() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.closed = true
	return true
}

func (r *registry) clear() {
	r.mu.Lock()
	r.topics = nil
	r.mu.Unlock()
}

// deliver runs h and logs a failure against the run that produced event.
func deliver(ctx context.Context, log *logger.Logger, topic string, h Handler, event Event) {
	if err := h(ctx, event); err != nil {
		log.WithError(err).Warn("event handler failed",
			"topic", topic, "event_id", event.ID, "correlation_id", event.CorrelationID)
	}
}

// MemoryBus delivers events in process. Each handler call gets its own
// goroutine and runs detached from the publisher's context.
type MemoryBus struct {
	registry
	log     *logger.Logger
	pending sync.WaitGroup

	// DrainTimeout bounds Close. Zero means DefaultDrainTimeout.
	DrainTimeout time.Duration
}

// NewMemoryBus creates a new in-memory event bus. log may be nil.
func NewMemoryBus(log *logger.Logger) *MemoryBus {
	if log == nil {
		log = logger.Discard()
	}
	return &MemoryBus{registry: newRegistry(), log: log}
}

// Publish hands event to every subscriber of topic. A topic without
// subscribers drops the event.
func (b *MemoryBus) Publish(ctx context.Context, topic string, event Event) error {
	// hold the read lock so Close cannot start draining before Add
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errBusClosed
	}

	hctx := context.WithoutCancel(ctx)
	for _, h := range b.topics[topic] {
		b.pending.Add(1)
		go func(h Handler) {
			defer b.pending.Done()
			deliver(hctx, b.log, topic, h, event)
		}(h)
	}
	return nil
}

// Subscribe registers a handler for events on a topic.
func (b *MemoryBus) Subscribe(_ context.Context, topic string, handler Handler) error {
	return b.add(topic, handler)
}

// Close stops accepting events and waits up to DrainTimeout for running
// handlers. Closing twice is a no-op.
func (b *MemoryBus) Close() error {
	if !b.shut() {
		return nil
	}

	timeout := b.DrainTimeout
	if timeout <= 0 {
		timeout = DefaultDrainTimeout
	}
	if !b.Drain(timeout) {
		b.log.Warn("handlers still running after drain timeout", "timeout", timeout.String())
	}
	b.clear()
	return nil
}

// Drain waits for running handlers, reporting whether they finished
// within timeout.
func (b *MemoryBus) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		b.pending.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
