// Package events fans analytics events out to in-process subscribers and,
// optionally, to a RabbitMQ topic exchange.
package events

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/quotagate/internal/domain/event"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 256

// Bus is a non-blocking publish/subscribe bus. A slow subscriber loses
// events rather than stalling the request path.
type Bus struct {
	buffer    int
	published *prometheus.CounterVec
	logger    *zap.Logger

	mu     sync.RWMutex
	subs   map[int]chan event.Event
	nextID int
	closed bool
}

// NewBus creates a bus. published (labels: type, result) may be nil.
func NewBus(buffer int, published *prometheus.CounterVec, logger *zap.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		buffer:    buffer,
		published: published,
		logger:    logger,
		subs:      make(map[int]chan event.Event),
	}
}

// Subscribe returns a channel of future events and a cancel func that
// unsubscribes and closes the channel.
func (b *Bus) Subscribe() (<-chan event.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan event.Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers e to every subscriber without blocking.
func (b *Bus) Publish(e event.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
			b.inc(e.Type, "delivered")
		default:
			b.inc(e.Type, "dropped")
			b.logger.Warn("event dropped, subscriber full",
				zap.String("type", string(e.Type)),
				zap.String("correlation_id", e.CorrelationID),
			)
		}
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *Bus) inc(t event.Type, result string) {
	if b.published != nil {
		b.published.WithLabelValues(string(t), result).Inc()
	}
}
