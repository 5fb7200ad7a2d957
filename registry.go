package respwatch

import "sync"

// resolver is the single-use completion channel for one pending wait.
// Buffered with capacity 1 so the delivering path never blocks on a waiter.
type resolver chan *Response

// claim is the outcome of a timer-expiry claim on a registry entry.
type claim int

const (
	// claimWon means the waiter's own entry was still registered and is now
	// cleared: the timer won the race and the wait resolves with the fallback.
	claimWon claim = iota

	// claimDelivered means the waiter's resolver was already completed by
	// the delivery path; the result is buffered and ready to receive.
	claimDelivered

	// claimDisplaced means a later registration took over the correlation id
	// (last-writer-wins) and nothing will ever complete this waiter's
	// resolver; the wait resolves with the fallback.
	claimDisplaced
)

// registry is the in-memory mapping from correlation id to resolver.
// It is the only mutable state shared between the delivery path and the
// timer-expiry path; resolve and expire are its two atomic claim
// operations and the sole arbiters of their race.
type registry struct {
	mu      sync.Mutex
	pending map[string]resolver
}

func newRegistry() *registry {
	return &registry{pending: make(map[string]resolver)}
}

// register inserts or overwrites the resolver for id. A second registration
// with the same id displaces the first (last-writer-wins); callers must not
// reuse ids for concurrent waits.
func (r *registry) register(id string, res resolver) {
	r.mu.Lock()
	r.pending[id] = res
	r.mu.Unlock()
}

// resolve atomically looks up, removes, and completes the resolver for id.
// Exactly one resolve succeeds per registered entry. The completion send
// happens under the lock, so once any claim observes the entry gone, a
// delivered result is already buffered on its resolver - expire relies on
// this to tell delivery apart from displacement.
func (r *registry) resolve(id string, resp *Response) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.pending[id]
	if !ok {
		return false
	}
	delete(r.pending, id)
	// Buffered and sent at most once per resolver, so this never blocks.
	res <- resp
	return true
}

// expire is the timer path's identity-aware claim: it clears the entry for
// id only when that entry is still this waiter's own resolver. When it is
// not, the buffered resolver tells the two remaining cases apart - a result
// is already waiting (claimDelivered), or a later registration displaced
// this waiter and its resolver will never complete (claimDisplaced).
func (r *registry) expire(id string, res resolver) claim {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.pending[id]; ok && cur == res {
		delete(r.pending, id)
		return claimWon
	}
	// len is stable here: the only sender is resolve, which holds this lock.
	if len(res) > 0 {
		return claimDelivered
	}
	return claimDisplaced
}

// size returns the number of outstanding pending waits.
func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
