// Package workload defines the benchmarked operations. An operation is a
// short syscall-bound action that a worker repeats in a tight loop against
// its private workspace directory. Operations are looked up by name so a
// worker process can build the same operation as its leader.
package workload

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sys/unix"
)

// Default is the operation run when none is named.
const Default = "creat"

// Operation performs one unit of measured work inside workspace. Any error
// is fatal to the run.
type Operation interface {
	Perform(workspace string) error
}

// Options carries the run-wide knobs an operation may consult.
type Options struct {
	// CloseFD is the optional trailing positional flag. It is passed
	// through to every operation; the built-in ones ignore it.
	CloseFD bool
}

// Factory builds a fresh Operation for one worker.
type Factory func(opts Options) Operation

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

func init() {
	Register("creat", func(Options) Operation { return &creat{} })
	Register("mkdir", func(Options) Operation { return &mkdir{} })
}

// Register makes an operation available under name. Registering a name
// twice panics.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("workload: operation %q registered twice", name))
	}
	registry[name] = f
}

// New builds the named operation.
func New(name string, opts Options) (Operation, error) {
	mu.RLock()
	f, ok := registry[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown operation %q (have %v)", name, Names())
	}

	return f(opts), nil
}

// Names returns the registered operation names in order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)

	return names
}

// target caches the path of the per-workspace file so the loop does not
// rebuild it on every call.
type target struct {
	ws   string
	path string
}

func (t *target) in(ws string) string {
	if ws != t.ws || t.path == "" {
		t.ws = ws
		t.path = filepath.Join(ws, "x")
	}
	return t.path
}

// creat creates <workspace>/x exclusively, closes it and unlinks it.
type creat struct {
	target
}

func (c *creat) Perform(ws string) error {
	p := c.in(ws)

	fd, err := unix.Open(p, unix.O_CREAT|unix.O_EXCL|unix.O_WRONLY|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return &os.PathError{Op: "creat", Path: p, Err: err}
	}

	if err := unix.Close(fd); err != nil {
		return &os.PathError{Op: "close", Path: p, Err: err}
	}

	if err := unix.Unlink(p); err != nil {
		return &os.PathError{Op: "unlink", Path: p, Err: err}
	}

	return nil
}

// mkdir creates and removes the directory <workspace>/x.
type mkdir struct {
	target
}

func (m *mkdir) Perform(ws string) error {
	p := m.in(ws)

	if err := unix.Mkdir(p, 0o700); err != nil {
		return &os.PathError{Op: "mkdir", Path: p, Err: err}
	}

	if err := unix.Rmdir(p); err != nil {
		return &os.PathError{Op: "rmdir", Path: p, Err: err}
	}

	return nil
}
