// Package pmc provides the performance-counter collaborator. The harness
// only needs a monotonically increasing 64-bit value per counter index;
// how that value is obtained is up to the Reader.
package pmc

// Reader returns the current value of counter i, 0 <= i < Len().
type Reader interface {
	Len() int
	Name(i int) string
	Read(i int) uint64
	Close() error
}

// Nop is a Reader with no counters.
type Nop struct{}

func (Nop) Len() int { return 0 }
func (Nop) Name(int) string { return "" }
func (Nop) Read(int) uint64 { return 0 }
func (Nop) Close() error { return nil }

// Snapshot reads every counter of r into dst, which must have room for
// r.Len() values. It does not allocate.
func Snapshot(r Reader, dst []uint64) {
	for i := range dst {
		dst[i] = r.Read(i)
	}
}
