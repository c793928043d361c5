package harness

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/weiihann/creato/shm"
	"github.com/weiihann/creato/workload"
)

// Spawner starts one non-leader worker attached to block.
type Spawner interface {
	Spawn(ctx context.Context, spec WorkerSpec, block *shm.Block) (Process, error)
}

// Process is a started worker.
type Process interface {
	Wait() error
}

// ExecSpawner starts each worker as a fresh process running Binary, by
// default the current executable. The worker finds its spec in the
// environment and the block on descriptor 3; the binary must call
// WorkerMain when IsWorker reports true.
type ExecSpawner struct {
	Binary string
	Args   []string
	Env    []string
}

// ResolveBinary returns the program workers are started from.
func (s *ExecSpawner) ResolveBinary() (string, error) {
	if s.Binary != "" {
		return s.Binary, nil
	}

	bin, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	return bin, nil
}

func (s *ExecSpawner) Spawn(_ context.Context, spec WorkerSpec, block *shm.Block) (Process, error) {
	bin, err := s.ResolveBinary()
	if err != nil {
		return nil, err
	}

	env, err := spec.Environ()
	if err != nil {
		return nil, err
	}

	// Not CommandContext: a run is only ever stopped by its alarm.
	cmd := exec.Command(bin, s.Args...)
	cmd.Env = append(append(os.Environ(), s.Env...), env)
	cmd.ExtraFiles = []*os.File{block.File()}
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = workerSysProcAttr()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", bin, err)
	}

	return cmd, nil
}

// GoroutineSpawner runs workers as goroutines of the leader process, each
// on its own locked OS thread. The block's atomics carry the same
// guarantees between threads as between processes.
type GoroutineSpawner struct {
	// New builds the worker's operation. Defaults to workload.New.
	New func(spec WorkerSpec) (workload.Operation, error)
}

type goroutineProcess struct {
	done chan error
}

func (p *goroutineProcess) Wait() error {
	return <-p.done
}

func (s *GoroutineSpawner) Spawn(_ context.Context, spec WorkerSpec, block *shm.Block) (Process, error) {
	newOp := s.New
	if newOp == nil {
		newOp = func(spec WorkerSpec) (workload.Operation, error) {
			return workload.New(spec.Op, workload.Options{CloseFD: spec.CloseFD})
		}
	}

	op, err := newOp(spec)
	if err != nil {
		return nil, err
	}

	p := &goroutineProcess{done: make(chan error, 1)}
	go func() {
		p.done <- RunWorker(spec, block, op)
	}()

	return p, nil
}
