// internal/dynamics/ring.go
package dynamics

// historyCapacity - fixed bound on the per-engine update history. Oldest
// entries are evicted silently past capacity.
const historyCapacity = 1000

// updateRing - fixed-capacity FIFO over WeightUpdates. Unsynchronized: the
// owning engine is single-owner by contract.
type updateRing struct {
	buf   []*WeightUpdate
	head  int
	count int
}

func newUpdateRing(capacity int) *updateRing {
	return &updateRing{buf: make([]*WeightUpdate, capacity)}
}

func (r *updateRing) push(u *WeightUpdate) {
	tail := (r.head + r.count) % len(r.buf)
	r.buf[tail] = u
	if r.count == len(r.buf) {
		r.head = (r.head + 1) % len(r.buf) // evict oldest
	} else {
		r.count++
	}
}

func (r *updateRing) len() int { return r.count }

// snapshot - oldest-to-newest copy of the retained updates.
func (r *updateRing) snapshot() []*WeightUpdate {
	out := make([]*WeightUpdate, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}
