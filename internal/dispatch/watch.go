package dispatch

import (
	"sync"

	"pharmacyDispatch/models"
)

// Hub is the in-process change-notification channel for broadcast rows.
// SQLite has no change-data-capture, so the engine and arbiter publish a
// snapshot after every committed write. Subscribers must not depend on the
// hub for correctness: slow subscribers have events dropped, and the
// observer's poll loop covers any gap.
type Hub struct {
	mu      sync.Mutex
	nextSub int64
	subs    map[int64]map[int64]chan models.BroadcastRecord // broadcastID -> subID -> ch
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int64]map[int64]chan models.BroadcastRecord)}
}

// Subscribe registers interest in one broadcast. The returned cancel func
// must be called on teardown; it closes the channel.
func (h *Hub) Subscribe(broadcastID int64) (<-chan models.BroadcastRecord, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSub++
	id := h.nextSub
	ch := make(chan models.BroadcastRecord, 8)
	if h.subs[broadcastID] == nil {
		h.subs[broadcastID] = make(map[int64]chan models.BroadcastRecord)
	}
	h.subs[broadcastID][id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if m, ok := h.subs[broadcastID]; ok {
			if c, ok := m[id]; ok {
				delete(m, id)
				close(c)
			}
			if len(m) == 0 {
				delete(h.subs, broadcastID)
			}
		}
	}
	return ch, cancel
}

// Publish fans a snapshot out to all subscribers of the record's broadcast.
// Never blocks: a full subscriber buffer drops the event.
func (h *Hub) Publish(rec models.BroadcastRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[rec.ID] {
		select {
		case ch <- rec:
		default:
		}
	}
}
