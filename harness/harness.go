package harness

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/weiihann/creato/affinity"
	"github.com/weiihann/creato/pmc"
	"github.com/weiihann/creato/shm"
	"github.com/weiihann/creato/telemetry"
	"github.com/weiihann/creato/workload"
)

// Config holds parameters for a single run.
type Config struct {
	Duration time.Duration
	NProcs   int
	Prefix   string
	Op       string
	CloseFD  bool
}

// Harness runs the measurement protocol as worker 0.
type Harness struct {
	cfg      Config
	logger   *slog.Logger
	spawner  Spawner
	counters pmc.Reader
	sink     telemetry.Sink
	emit     func(*Result)
	fatal    func(error)
	ncores   int
}

// Option customises a Harness.
type Option func(*Harness)

// WithSpawner sets how non-leader workers are started.
func WithSpawner(s Spawner) Option {
	return func(h *Harness) { h.spawner = s }
}

// WithCounters sets the performance counters snapshotted around the run.
func WithCounters(r pmc.Reader) Option {
	return func(h *Harness) { h.counters = r }
}

// WithSink sets the tracing and telemetry sink.
func WithSink(s telemetry.Sink) Option {
	return func(h *Harness) { h.sink = s }
}

// WithEmit sets the function the alarm hands the result to.
func WithEmit(fn func(*Result)) Option {
	return func(h *Harness) { h.emit = fn }
}

// WithFatal replaces the handler for worker failures, which by default
// logs and exits the process.
func WithFatal(fn func(error)) Option {
	return func(h *Harness) { h.fatal = fn }
}

// WithCores sets the core count workers are mapped onto. Zero disables
// pinning.
func WithCores(n int) Option {
	return func(h *Harness) { h.ncores = n }
}

// New creates a Harness for cfg.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Harness {
	if cfg.Op == "" {
		cfg.Op = workload.Default
	}

	h := &Harness{
		cfg:      cfg,
		logger:   logger.With(slog.String("op", cfg.Op)),
		spawner:  &ExecSpawner{},
		counters: pmc.Nop{},
		sink:     telemetry.Nop{},
		ncores:   affinity.NCores(),
	}
	h.fatal = func(err error) {
		h.logger.Error("fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}

	for _, o := range opts {
		o(h)
	}

	return h
}

// Specs returns the worker layout of the run.
func (h *Harness) Specs() []WorkerSpec {
	return Specs(h.cfg, h.ncores)
}

// Run executes one measurement and returns its result. Any error is fatal
// to the measurement; workers still running are the caller's to reap,
// which the CLI does by exiting.
func (h *Harness) Run(ctx context.Context) (*Result, error) {
	op, err := workload.New(h.cfg.Op, workload.Options{CloseFD: h.cfg.CloseFD})
	if err != nil {
		return nil, err
	}

	block, err := shm.New(h.cfg.NProcs)
	if err != nil {
		return nil, err
	}
	defer block.Close()

	specs := h.Specs()

	// Preparing pins the thread to each worker's core in turn; do it on a
	// throwaway thread.
	if err := onThread(func() error {
		return PrepareWorkspaces(specs, pinCore)
	}); err != nil {
		return nil, err
	}

	h.logger.InfoContext(ctx, "starting run",
		slog.Int("nprocs", h.cfg.NProcs),
		slog.Int("cores", h.ncores),
		slog.Duration("duration", h.cfg.Duration),
		slog.String("prefix", h.cfg.Prefix),
		slog.Bool("close_fd", h.cfg.CloseFD),
	)

	var res *Result
	err = onThread(func() error {
		// Workers must be spawned from a thread that lives until they
		// exit, and before this thread is pinned so they inherit an
		// unrestricted mask.
		runtime.LockOSThread()

		pool := NewPool(h.spawner, h.logger, h.fatal)
		if err := pool.Start(ctx, specs[1:], block); err != nil {
			block.Abort()
			pool.Wait()
			return err
		}

		r, err := h.lead(ctx, specs[0], block, op)
		if err != nil {
			block.Abort()
			pool.Wait()
			return err
		}

		pool.Wait()
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.logger.InfoContext(ctx, "run finished",
		slog.Uint64("ops", res.TotalOps),
		slog.Float64("rate", res.Rate),
	)

	return res, nil
}

func (h *Harness) lead(
	ctx context.Context,
	spec WorkerSpec,
	block *shm.Block,
	op workload.Operation,
) (*Result, error) {
	if err := pinCore(spec.Core); err != nil {
		return nil, err
	}

	h.logger.DebugContext(ctx, "waiting for workers",
		slog.Int("workers", block.Barrier().Parties()),
	)
	block.Barrier().Wait()

	alarm := NewAlarm(block, h.counters, h.sink, Result{
		RunID:     uuid.NewString(),
		Operation: h.cfg.Op,
		NProcs:    h.cfg.NProcs,
	}, h.emit)
	alarm.Arm(h.cfg.Duration)

	err := RunLoop(block, spec.Index, op, spec.Workspace)
	block.Exit()
	if err != nil {
		alarm.Abandon()
		<-alarm.Done()
		return nil, err
	}

	return alarm.Wait(), nil
}

// onThread runs fn on a goroutine of its own so that a thread it locks
// is discarded when fn returns.
func onThread(fn func() error) error {
	errc := make(chan error, 1)
	go func() {
		errc <- fn()
	}()
	return <-errc
}

// pinCore pins the calling goroutine unless core is negative, which marks
// an unpinned run.
func pinCore(core int) error {
	if core < 0 {
		return nil
	}
	return affinity.Pin(core)
}
