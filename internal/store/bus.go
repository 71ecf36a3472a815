package store

import (
	"sync"

	"github.com/iudanet/hearthsync/internal/models"
)

// Bus is a publish/subscribe channel of committed store writes. Any
// number of independent listeners may subscribe, optionally filtered by
// entity type. Publishing never blocks: a subscriber that does not keep
// up loses events rather than stalling writers.
type Bus struct {
	subs   map[int]*subscription
	nextID int
	mu     sync.RWMutex
}

type subscription struct {
	ch         chan models.ChangeEvent
	entityType string // "" matches all types
}

// NewBus creates an empty change bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Subscribe registers a listener for committed writes of the given type;
// an empty type receives all writes. The returned cancel function removes
// the subscription and closes the channel.
func (b *Bus) Subscribe(entityType string, buffer int) (<-chan models.ChangeEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan models.ChangeEvent, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscription{entityType: entityType, ch: ch}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every matching subscriber without
// blocking. Events to full subscriber buffers are dropped.
func (b *Bus) Publish(ev models.ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.entityType != "" && sub.entityType != ev.Entity.Type {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}
