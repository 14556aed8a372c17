// Package feed fans committed game events out to live subscribers.
package feed

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"tradepost/internal/game"
	"tradepost/internal/metrics"
)

const defaultBuffer = 64

type subscriber struct {
	owner string
	out   chan []byte
}

// Hub is a game.EventSink. Publish never blocks: a subscriber whose buffer
// is full misses the event.
type Hub struct {
	log    *slog.Logger
	buffer int

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscriber
	closed bool
}

func NewHub(logger *slog.Logger, buffer int) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{log: logger, buffer: buffer, subs: map[uint64]*subscriber{}}
}

var _ game.EventSink = (*Hub)(nil)

// Subscribe registers owner for market-wide events plus its own. The
// returned cancel func is idempotent and closes the channel.
func (h *Hub) Subscribe(owner string) (<-chan []byte, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan []byte, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = &subscriber{owner: owner, out: ch}
	metrics.FeedSubscribers.Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() { h.remove(id) })
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(sub.out)
	metrics.FeedSubscribers.Dec()
}

func (h *Hub) Publish(ev game.Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("encode feed event", "kind", ev.Kind, "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if !visible(ev, sub.owner) {
			continue
		}
		select {
		case sub.out <- b:
		default:
			metrics.FeedDropped.Inc()
		}
	}
}

// Len reports the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber. Later subscriptions get a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.out)
		metrics.FeedSubscribers.Dec()
	}
}

// visible: listing events are market-wide, everything else is private.
func visible(ev game.Event, owner string) bool {
	if strings.HasPrefix(ev.Kind, "listing.") {
		return true
	}
	if owner == "" {
		return false
	}
	if ev.OwnerID == owner {
		return true
	}
	if p, ok := ev.Data["payee"].(string); ok && p == owner {
		return true
	}
	return false
}
