package transport

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/signalsfoundry/framebridge/internal/logging"
	"github.com/signalsfoundry/framebridge/model"
)

// DefaultWatchBuffer is the per-subscriber batch buffer used when none is
// configured.
const DefaultWatchBuffer = 16

// Batch is the set of edges broadcast for one stamp.
type Batch struct {
	Stamp time.Time
	Edges []model.TransformEdge
}

// HubMetrics receives subscriber counts and drops.
type HubMetrics interface {
	SetWatchSubscribers(n int)
	RecordWatchDropped()
}

// Hub fans broadcast batches out to watch subscribers. It implements
// bridge.Sink. Publishing never blocks: a subscriber whose buffer is full
// misses the batch.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
	closed bool

	log     logging.Logger
	metrics HubMetrics
}

// Subscription receives batches on C until it is cancelled or the hub
// closes.
type Subscription struct {
	C <-chan Batch

	id          uint64
	c           chan Batch
	childPrefix string
}

// HubOption customises Hub construction.
type HubOption func(*Hub)

// WithHubLogger sets the hub logger.
func WithHubLogger(l logging.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// WithHubMetrics attaches a metrics recorder.
func WithHubMetrics(m HubMetrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// NewHub returns a hub buffering up to buffer batches per subscriber.
func NewHub(buffer int, opts ...HubOption) *Hub {
	if buffer <= 0 {
		buffer = DefaultWatchBuffer
	}
	h := &Hub{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
		log:    logging.Noop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a subscriber receiving edges whose child frame
// starts with childPrefix ("" for all). The returned function cancels the
// subscription and is safe to call more than once.
func (h *Hub) Subscribe(childPrefix string) (*Subscription, func()) {
	c := make(chan Batch, h.buffer)
	sub := &Subscription{C: c, c: c, childPrefix: childPrefix}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(c)
		return sub, func() {}
	}
	h.nextID++
	sub.id = h.nextID
	h.subs[sub.id] = sub
	n := len(h.subs)
	h.mu.Unlock()
	h.reportSubscribers(n)

	var once sync.Once
	return sub, func() {
		once.Do(func() { h.unsubscribe(sub.id) })
	}
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(sub.c)
	}
	n := len(h.subs)
	h.mu.Unlock()
	if ok {
		h.reportSubscribers(n)
	}
}

// Publish implements bridge.Sink.
func (h *Hub) Publish(ctx context.Context, stamp time.Time, edges []model.TransformEdge) error {
	shared := append([]model.TransformEdge(nil), edges...)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		batch := Batch{Stamp: stamp, Edges: filterEdges(shared, sub.childPrefix)}
		if len(batch.Edges) == 0 {
			continue
		}
		select {
		case sub.c <- batch:
		default:
			if h.metrics != nil {
				h.metrics.RecordWatchDropped()
			}
			h.log.Debug(ctx, "watch subscriber behind; dropping batch", logging.Int("subscriber", int(sub.id)))
		}
	}
	return nil
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription; later subscriptions are closed at once.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.c)
		delete(h.subs, id)
	}
	h.mu.Unlock()
	h.reportSubscribers(0)
}

func (h *Hub) reportSubscribers(n int) {
	if h.metrics != nil {
		h.metrics.SetWatchSubscribers(n)
	}
}

func filterEdges(edges []model.TransformEdge, childPrefix string) []model.TransformEdge {
	if childPrefix == "" {
		return edges
	}
	var out []model.TransformEdge
	for _, e := range edges {
		if strings.HasPrefix(e.Child, childPrefix) {
			out = append(out, e)
		}
	}
	return out
}
