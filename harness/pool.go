package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/weiihann/creato/affinity"
	"github.com/weiihann/creato/shm"
)

// WorkspacePath returns worker index's private directory.
func WorkspacePath(prefix string, index int) string {
	return fmt.Sprintf("%s.%d", prefix, index)
}

// Specs lays out the workers of a run. Worker 0 is the leader. With
// ncores < 1 no worker is pinned.
func Specs(cfg Config, ncores int) []WorkerSpec {
	specs := make([]WorkerSpec, max(cfg.NProcs, 0))
	for i := range specs {
		core := -1
		if ncores > 0 {
			core = affinity.CoreFor(i, ncores)
		}

		specs[i] = WorkerSpec{
			Index:     i,
			NProcs:    cfg.NProcs,
			Core:      core,
			Workspace: WorkspacePath(cfg.Prefix, i),
			Op:        cfg.Op,
			CloseFD:   cfg.CloseFD,
		}
	}
	return specs
}

// PrepareWorkspaces removes and recreates every worker's directory, so it
// yields one empty directory per worker whatever was there before. When pin
// is set, the calling goroutine is moved to each worker's core before its
// directory is created.
func PrepareWorkspaces(specs []WorkerSpec, pin func(core int) error) error {
	for _, s := range specs {
		if pin != nil {
			if err := pin(s.Core); err != nil {
				return err
			}
		}

		if err := os.RemoveAll(s.Workspace); err != nil {
			return fmt.Errorf("clean workspace %s: %w", s.Workspace, err)
		}

		if err := os.Mkdir(s.Workspace, 0o700); err != nil {
			return fmt.Errorf("create workspace %s: %w", s.Workspace, err)
		}
	}

	return nil
}

// Pool starts the non-leader workers and watches them. A worker that
// fails is fatal to the harness; a worker killed by a signal is only
// logged, and a leader still waiting for it keeps waiting.
type Pool struct {
	spawner Spawner
	logger  *slog.Logger
	fatal   func(error)
	wg      sync.WaitGroup
}

// NewPool returns a Pool using spawner. fatal is called, from a watcher
// goroutine, with the first error of any failed worker.
func NewPool(spawner Spawner, logger *slog.Logger, fatal func(error)) *Pool {
	return &Pool{spawner: spawner, logger: logger, fatal: fatal}
}

// Start spawns one worker per spec.
func (p *Pool) Start(ctx context.Context, specs []WorkerSpec, block *shm.Block) error {
	for _, spec := range specs {
		proc, err := p.spawner.Spawn(ctx, spec, block)
		if err != nil {
			return fmt.Errorf("spawn worker %d: %w", spec.Index, err)
		}

		p.logger.DebugContext(ctx, "worker started",
			slog.Int("worker", spec.Index),
			slog.Int("core", spec.Core),
		)

		p.wg.Add(1)
		go p.watch(spec, proc)
	}

	return nil
}

func (p *Pool) watch(spec WorkerSpec, proc Process) {
	defer p.wg.Done()

	err := proc.Wait()
	if err == nil {
		return
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == -1 {
		p.logger.Warn("worker killed",
			slog.Int("worker", spec.Index),
			slog.String("status", exitErr.String()),
		)
		return
	}

	p.fatal(fmt.Errorf("worker %d: %w", spec.Index, err))
}

// Wait blocks until every started worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}
