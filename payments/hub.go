package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"storefront/mq"
)

// watcher is one status stream waiting on a transaction.
type watcher struct {
	Send chan Event
	Room string
}

// Hub fans payment events out to the status streams watching each
// transaction.
type Hub struct {
	rooms      map[string]map[*watcher]bool
	register   chan *watcher
	unregister chan *watcher
	broadcast  chan Event
	quit       chan struct{}
	stopOnce   sync.Once
	mu         sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*watcher]bool),
		register:   make(chan *watcher),
		unregister: make(chan *watcher),
		broadcast:  make(chan Event),
		quit:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case w := <-h.register:
			h.mu.Lock()
			if h.rooms[w.Room] == nil {
				h.rooms[w.Room] = make(map[*watcher]bool)
			}
			h.rooms[w.Room][w] = true
			h.mu.Unlock()

		case w := <-h.unregister:
			h.mu.Lock()
			if conns := h.rooms[w.Room]; conns != nil && conns[w] {
				delete(conns, w)
				close(w.Send)
				if len(conns) == 0 {
					delete(h.rooms, w.Room)
				}
			}
			h.mu.Unlock()

		case ev := <-h.broadcast:
			h.mu.Lock()
			for w := range h.rooms[ev.TransactionID] {
				select {
				case w.Send <- ev:
				default:
					// slow reader; it reconnects and reloads
					close(w.Send)
					delete(h.rooms[ev.TransactionID], w)
				}
			}
			h.mu.Unlock()

		case <-h.quit:
			h.mu.Lock()
			for room, conns := range h.rooms {
				for w := range conns {
					close(w.Send)
				}
				delete(h.rooms, room)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop ends Run and closes every watcher.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

func (h *Hub) watch(txnID string) (*watcher, bool) {
	w := &watcher{Send: make(chan Event, 8), Room: txnID}
	select {
	case h.register <- w:
		return w, true
	case <-h.quit:
		return nil, false
	}
}

func (h *Hub) forget(w *watcher) {
	select {
	case h.unregister <- w:
	case <-h.quit:
	}
}

// Broadcast delivers ev to the transaction's watchers.
func (h *Hub) Broadcast(ev Event) {
	select {
	case h.broadcast <- ev:
	case <-h.quit:
	}
}

// Handler consumes mq.PaymentEventsChannel so every instance's watchers see
// events published by any instance.
func (h *Hub) Handler() mq.Handler {
	return func(_ context.Context, payload []byte) error {
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("payments: decode event: %w", err)
		}
		h.Broadcast(ev)
		return nil
	}
}

// Relay returns a publisher that broadcasts payment events to local
// watchers before passing everything on to next. It is for single-instance
// setups without Redis pub/sub.
func (h *Hub) Relay(next mq.Publisher) mq.Publisher {
	return relay{hub: h, next: next}
}

type relay struct {
	hub  *Hub
	next mq.Publisher
}

func (r relay) Publish(ctx context.Context, channel string, v any) error {
	if ev, ok := v.(Event); ok && channel == mq.PaymentEventsChannel {
		r.hub.Broadcast(ev)
	}
	return r.next.Publish(ctx, channel, v)
}
