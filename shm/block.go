// Package shm implements the shared measurement block: one memory region
// mapped MAP_SHARED into the leader and every worker. It holds the run
// state, the startup barrier, a count of workers that have left their loop
// and one cache-line padded counter per worker.
//
// Counter slots are not locked. Slot i is written only by worker i and the
// other workers only read it once the run state has left Running. The
// leader's harvest reads slots while they may still be advancing; each slot
// is a single aligned 64-bit word so such reads are never torn. Nothing in
// the type system enforces the ownership rule.
package shm

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// CacheLine is the padding unit for every independently written word.
const CacheLine = 64

const (
	stateOff    = 0
	barrierOff  = CacheLine
	exitedOff   = 2 * CacheLine
	countersOff = 3 * CacheLine
)

// State is the run state shared by all workers.
type State uint32

const (
	Init State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// Block is a handle on the shared region. The leader creates it with New
// before any worker exists; workers in other processes attach to the
// inherited file with Attach. After that no process owns the region.
type Block struct {
	mem    []byte
	file   *os.File
	nprocs int
}

// Size returns the mapping size needed for nprocs workers.
func Size(nprocs int) int {
	return countersOff + nprocs*CacheLine
}

// New allocates a zeroed block for nprocs workers with the run state Init.
func New(nprocs int) (*Block, error) {
	if nprocs < 1 {
		return nil, fmt.Errorf("nprocs must be at least 1, got %d", nprocs)
	}

	f, err := createFile(Size(nprocs))
	if err != nil {
		return nil, err
	}

	b, err := mapFile(f, nprocs)
	if err != nil {
		f.Close()
		return nil, err
	}

	clear(b.mem)

	return b, nil
}

// Attach maps a block created by New in another process.
func Attach(f *os.File, nprocs int) (*Block, error) {
	if nprocs < 1 {
		return nil, fmt.Errorf("nprocs must be at least 1, got %d", nprocs)
	}

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat shared block: %w", err)
	}

	if fi.Size() < int64(Size(nprocs)) {
		return nil, fmt.Errorf(
			"shared block is %d bytes, need %d for %d workers",
			fi.Size(), Size(nprocs), nprocs,
		)
	}

	return mapFile(f, nprocs)
}

func mapFile(f *os.File, nprocs int) (*Block, error) {
	mem, err := unix.Mmap(
		int(f.Fd()), 0, Size(nprocs),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED,
	)
	if err != nil {
		return nil, fmt.Errorf("mmap shared block: %w", err)
	}

	return &Block{mem: mem, file: f, nprocs: nprocs}, nil
}

// NProcs returns the number of counter slots.
func (b *Block) NProcs() int { return b.nprocs }

// File returns the descriptor backing the mapping, for handing to workers.
func (b *Block) File() *os.File { return b.file }

func (b *Block) word(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&b.mem[off]))
}

func (b *Block) slot(i int) *uint64 {
	return (*uint64)(unsafe.Pointer(&b.mem[countersOff+i*CacheLine]))
}

// State returns the current run state.
func (b *Block) State() State {
	return State(atomic.LoadUint32(b.word(stateOff)))
}

// Running reports whether workers should keep looping.
func (b *Block) Running() bool {
	return b.State() == Running
}

// Start moves the block from Init to Running. It reports false if the run
// was already started.
func (b *Block) Start() bool {
	return atomic.CompareAndSwapUint32(
		b.word(stateOff), uint32(Init), uint32(Running),
	)
}

// Stop moves the block from Running to Stopped. Only the first call
// succeeds; the transition happens once per block.
func (b *Block) Stop() bool {
	return atomic.CompareAndSwapUint32(
		b.word(stateOff), uint32(Running), uint32(Stopped),
	)
}

// Abort moves a block that never started straight to Stopped so that
// workers parked in WaitStart return.
func (b *Block) Abort() bool {
	return atomic.CompareAndSwapUint32(
		b.word(stateOff), uint32(Init), uint32(Stopped),
	)
}

// WaitStart spins until the run leaves Init and returns the state seen.
func (b *Block) WaitStart() State {
	for {
		if s := b.State(); s != Init {
			return s
		}
		pause()
	}
}

// Inc bumps worker i's counter. Only worker i may call it.
func (b *Block) Inc(i int) {
	p := b.slot(i)
	// single writer: load and store need not be one atomic step
	atomic.StoreUint64(p, atomic.LoadUint64(p)+1)
}

// Count returns worker i's counter.
func (b *Block) Count(i int) uint64 {
	return atomic.LoadUint64(b.slot(i))
}

// Sum returns the total across all counters.
func (b *Block) Sum() uint64 {
	var tot uint64
	for i := 0; i < b.nprocs; i++ {
		tot += b.Count(i)
	}
	return tot
}

// Counts appends every worker's counter to dst[:0] and returns it.
func (b *Block) Counts(dst []uint64) []uint64 {
	dst = dst[:0]
	for i := 0; i < b.nprocs; i++ {
		dst = append(dst, b.Count(i))
	}
	return dst
}

// Exit records that the calling worker has left its loop for good. Each
// worker calls it exactly once.
func (b *Block) Exit() {
	atomic.AddUint32(b.word(exitedOff), 1)
}

// Exited returns how many workers have called Exit.
func (b *Block) Exited() int {
	return int(atomic.LoadUint32(b.word(exitedOff)))
}

// Barrier returns the startup rendezvous stored in the block.
func (b *Block) Barrier() *Barrier {
	return &Barrier{
		arrived: b.word(barrierOff),
		parties: uint32(b.nprocs - 1),
	}
}

// Close unmaps the region and closes the backing file.
func (b *Block) Close() error {
	var errs []error
	if b.mem != nil {
		if err := unix.Munmap(b.mem); err != nil {
			errs = append(errs, fmt.Errorf("munmap shared block: %w", err))
		}
		b.mem = nil
	}
	if err := b.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close shared block: %w", err))
	}
	return errors.Join(errs...)
}
