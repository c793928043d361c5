package harness

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/weiihann/creato/shm"
	"github.com/weiihann/creato/workload"
)

const (
	workerEnv = "CREATO_WORKER"
	// shmFD is where ExtraFiles places the block in a worker process.
	shmFD = 3
)

// WorkerSpec tells a worker who it is.
type WorkerSpec struct {
	Index     int    `json:"index"`
	NProcs    int    `json:"nprocs"`
	Core      int    `json:"core"`
	Workspace string `json:"workspace"`
	Op        string `json:"op"`
	CloseFD   bool   `json:"close_fd"`
}

// Leader reports whether the spec is worker 0.
func (s WorkerSpec) Leader() bool { return s.Index == 0 }

// Environ returns the environment entry that hands the spec to a child.
func (s WorkerSpec) Environ() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode worker spec: %w", err)
	}
	return workerEnv + "=" + string(b), nil
}

func parseWorkerSpec(r io.Reader) (*WorkerSpec, error) {
	var spec WorkerSpec
	if err := json.NewDecoder(r).Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}

	if spec.Index < 1 || spec.Index >= spec.NProcs {
		return nil, fmt.Errorf(
			"worker index %d out of range for %d workers",
			spec.Index, spec.NProcs,
		)
	}

	if spec.Op == "" {
		spec.Op = workload.Default
	}

	return &spec, nil
}

// IsWorker reports whether this process was started as a worker.
func IsWorker() bool {
	_, ok := os.LookupEnv(workerEnv)
	return ok
}

// WorkerMain is the entry point of a worker process: it attaches to the
// inherited block and runs the worker protocol.
func WorkerMain(logger *slog.Logger) error {
	spec, err := parseWorkerSpec(strings.NewReader(os.Getenv(workerEnv)))
	if err != nil {
		return fmt.Errorf("worker spec: %w", err)
	}

	logger = logger.With(slog.Int("worker", spec.Index))

	block, err := shm.Attach(os.NewFile(shmFD, "creato-shm"), spec.NProcs)
	if err != nil {
		return err
	}
	defer block.Close()

	op, err := workload.New(spec.Op, workload.Options{CloseFD: spec.CloseFD})
	if err != nil {
		return err
	}

	logger.Debug("worker attached",
		slog.Int("core", spec.Core),
		slog.String("workspace", spec.Workspace),
	)

	return RunWorker(*spec, block, op)
}

// RunWorker is the non-leader protocol: pin, arrive at the barrier, spin
// until the leader starts the run, then loop until it stops.
func RunWorker(spec WorkerSpec, block *shm.Block, op workload.Operation) error {
	defer block.Exit()

	if err := pinCore(spec.Core); err != nil {
		return err
	}

	block.Barrier().Arrive()

	if block.WaitStart() != shm.Running {
		return nil
	}

	return RunLoop(block, spec.Index, op, spec.Workspace)
}

// RunLoop repeats op in workspace while the run lasts, counting each
// completed operation in slot index. It returns the first error.
func RunLoop(block *shm.Block, index int, op workload.Operation, workspace string) error {
	for block.Running() {
		if err := op.Perform(workspace); err != nil {
			return fmt.Errorf("worker %d: %w", index, err)
		}
		block.Inc(index)
	}
	return nil
}
