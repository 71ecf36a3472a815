package engine

import (
	"fmt"
	"sync"
)

// echoRegistry remembers (entity, version) pairs this device pushed so
// the realtime listener can drop its own changes when they bounce back
// over the push channel, instead of reprocessing them as conflicts.
// Bounded FIFO; old entries fall out once the notification window has
// safely passed.
type echoRegistry struct {
	keys  map[string]struct{}
	order []string
	max   int
	mu    sync.Mutex
}

func newEchoRegistry(max int) *echoRegistry {
	if max <= 0 {
		max = 512
	}
	return &echoRegistry{
		keys: make(map[string]struct{}, max),
		max:  max,
	}
}

func echoKey(id string, version int64) string {
	return fmt.Sprintf("%s@%d", id, version)
}

func (r *echoRegistry) remember(id string, version int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := echoKey(id, version)
	if _, ok := r.keys[key]; ok {
		return
	}
	r.keys[key] = struct{}{}
	r.order = append(r.order, key)
	for len(r.order) > r.max {
		delete(r.keys, r.order[0])
		r.order = r.order[1:]
	}
}

func (r *echoRegistry) contains(id string, version int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.keys[echoKey(id, version)]
	return ok
}
