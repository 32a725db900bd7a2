package streaming

import (
	"context"
	"sync"
	"sync/atomic"

	"newton/shared"
)

const defaultChannelBuffer = 64

type subscriber struct {
	ch     chan shared.Event
	filter EventFilter
}

// MemoryHub is the in-process EventHub.
type MemoryHub struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[uint64]*subscriber)}
}

// Publish delivers event to every matching subscriber. A subscriber whose
// buffer is full misses the event.
func (h *MemoryHub) Publish(ctx context.Context, event shared.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.filter.match(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a subscriber. The channel is closed by the returned
// cancel func or when ctx ends, whichever comes first.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan shared.Event, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	id := h.seq.Add(1)
	ch := make(chan shared.Event, defaultChannelBuffer)

	h.mu.Lock()
	h.subs[id] = &subscriber{ch: ch, filter: filter}
	h.mu.Unlock()

	var once sync.Once
	done := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return ch, cancel, nil
}

// Subscribers reports the number of live subscriptions.
func (h *MemoryHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many deliveries were skipped for full buffers.
func (h *MemoryHub) Dropped() uint64 { return h.dropped.Load() }
