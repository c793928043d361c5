// Package harness runs the measurement protocol: it prepares per-worker
// workspaces, starts pinned workers around a shared block, releases them
// together and harvests the counters when the alarm fires.
package harness

// Result holds one run's measurement. The leader computes it once, after
// the run has stopped.
type Result struct {
	RunID       string          `json:"run_id"`
	Operation   string          `json:"operation"`
	NProcs      int             `json:"nprocs"`
	ElapsedUsec int64           `json:"elapsed_usec"`
	TotalOps    uint64          `json:"total_ops"`
	WorkerOps   []uint64        `json:"worker_ops"`
	Rate        float64         `json:"rate_per_sec"`
	LatencyUsec float64         `json:"latency_usec"`
	Counters    []CounterResult `json:"counters,omitempty"`
}

// CounterResult is one performance counter's window.
type CounterResult struct {
	Index int     `json:"index"`
	Name  string  `json:"name"`
	Start uint64  `json:"start"`
	Stop  uint64  `json:"stop"`
	PerOp float64 `json:"per_op"`
}

// compute fills the derived fields from the raw window. A zero elapsed
// time or operation count yields zero rather than an infinity.
func (r *Result) compute() {
	sec := float64(r.ElapsedUsec) / 1e6

	r.Rate = ratio(float64(r.TotalOps), sec)
	r.LatencyUsec = ratio(float64(r.ElapsedUsec), float64(r.TotalOps))

	for i := range r.Counters {
		c := &r.Counters[i]
		c.PerOp = ratio(float64(c.Stop-c.Start), float64(r.TotalOps))
	}
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
