package command

import "sync"

// inflightRegistry serialises commands per (target, property) key.
// Acquisition is non-blocking: a busy key rejects instead of queueing.
type inflightRegistry struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newInflightRegistry() *inflightRegistry {
	return &inflightRegistry{keys: make(map[string]struct{})}
}

func (r *inflightRegistry) tryAcquire(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.keys[key]; busy {
		return false
	}
	r.keys[key] = struct{}{}
	return true
}

func (r *inflightRegistry) release(key string) {
	r.mu.Lock()
	delete(r.keys, key)
	r.mu.Unlock()
}
