//go:build linux

package pmc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"unsafe"

	"golang.org/x/sys/unix"
)

type event struct {
	typ    uint32
	config uint64
}

var events = map[string]event{
	"cycles":           {unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CPU_CYCLES},
	"instructions":     {unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_INSTRUCTIONS},
	"cache-references": {unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CACHE_REFERENCES},
	"cache-misses":     {unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CACHE_MISSES},
	"branch-misses":    {unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_BRANCH_MISSES},
	"page-faults":      {unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_PAGE_FAULTS},
	"context-switches": {unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_CONTEXT_SWITCHES},
}

// Events lists the event names Open accepts.
func Events() []string {
	names := make([]string, 0, len(events))
	for n := range events {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Perf counts events system-wide on a set of cores with perf_event_open.
// Counter i is the sum of event i over all cores. System-wide counting
// needs CAP_PERFMON or a permissive kernel.perf_event_paranoid.
type Perf struct {
	names []string
	fds   [][]int
	buf   [8]byte
}

// Open starts one counter per (event, core) pair.
func Open(names []string, cores []int) (*Perf, error) {
	p := &Perf{names: names, fds: make([][]int, len(names))}

	for i, name := range names {
		ev, ok := events[name]
		if !ok {
			p.Close()
			return nil, fmt.Errorf("unknown perf event %q", name)
		}

		for _, core := range cores {
			attr := unix.PerfEventAttr{
				Type:   ev.typ,
				Config: ev.config,
				Size:   uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
			}

			fd, err := unix.PerfEventOpen(
				&attr, -1, core, -1, unix.PERF_FLAG_FD_CLOEXEC,
			)
			if err != nil {
				p.Close()
				return nil, fmt.Errorf(
					"perf_event_open %s on core %d: %w", name, core, err,
				)
			}

			p.fds[i] = append(p.fds[i], fd)
		}
	}

	return p, nil
}

func (p *Perf) Len() int { return len(p.names) }

func (p *Perf) Name(i int) string { return p.names[i] }

// Read sums event i over its cores. A failed read contributes nothing.
func (p *Perf) Read(i int) uint64 {
	var tot uint64
	for _, fd := range p.fds[i] {
		n, err := unix.Read(fd, p.buf[:])
		if err != nil || n != len(p.buf) {
			continue
		}
		tot += binary.NativeEndian.Uint64(p.buf[:])
	}
	return tot
}

func (p *Perf) Close() error {
	var errs []error
	for _, fds := range p.fds {
		for _, fd := range fds {
			if err := unix.Close(fd); err != nil {
				errs = append(errs, err)
			}
		}
	}
	p.fds = nil
	return errors.Join(errs...)
}
