package events

import "sync"

// registry keeps the listeners of an event and, optionally, the last value notified.
// L is the listener type (a channel or a callback).
type registry[T any, L any] struct {
	mu                    sync.RWMutex
	listeners             map[uint64]L
	nextID                uint64
	sendLastEventOnListen bool
	lastEvent             *T
}

func newRegistry[T any, L any](sendLastEventOnListen bool) *registry[T, L] {
	return &registry[T, L]{
		listeners:             make(map[uint64]L),
		sendLastEventOnListen: sendLastEventOnListen,
	}
}

// add registers l and returns its id plus a copy of the last event, if one must be replayed
func (r *registry[T, L]) add(l L) (uint64, *T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = l
	if !r.sendLastEventOnListen || r.lastEvent == nil {
		return id, nil
	}
	last := *r.lastEvent
	return id, &last
}

func (r *registry[T, L]) remove(id uint64) {
	r.mu.Lock()
	delete(r.listeners, id)
	r.mu.Unlock()
}

// record stores value as the last event when required and returns the
// listeners to deliver it to. Delivery happens outside the lock.
func (r *registry[T, L]) record(value T) []L {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendLastEventOnListen {
		v := value
		r.lastEvent = &v
	}
	out := make([]L, 0, len(r.listeners))
	for _, l := range r.listeners {
		out = append(out, l)
	}
	return out
}

func (r *registry[T, L]) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}
