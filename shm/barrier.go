package shm

import (
	"runtime"
	"sync/atomic"
)

// Barrier is the startup rendezvous. Each non-leader calls Arrive once it
// is pinned and ready to enter its loop; the leader calls Wait and only
// then takes its start snapshot. There is no timeout: a worker that never
// arrives keeps the leader waiting.
type Barrier struct {
	arrived *uint32
	parties uint32
}

// Parties returns how many arrivals Wait needs.
func (b *Barrier) Parties() int { return int(b.parties) }

// Arrived returns how many workers have arrived so far.
func (b *Barrier) Arrived() int { return int(atomic.LoadUint32(b.arrived)) }

// Arrive signals that the calling worker is loop-ready.
func (b *Barrier) Arrive() {
	atomic.AddUint32(b.arrived, 1)
}

// Ready reports whether all parties have arrived.
func (b *Barrier) Ready() bool {
	return atomic.LoadUint32(b.arrived) >= b.parties
}

// Wait spins until every party has arrived. It returns at once when the
// barrier has no parties.
func (b *Barrier) Wait() {
	for !b.Ready() {
		pause()
	}
}

// pause is the spin hint. Workers burn their core while waiting so that
// they see a state change without a wakeup.
func pause() {
	runtime.Gosched()
}
