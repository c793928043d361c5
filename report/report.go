// Package report formats benchmark results as the classic text lines or
// as comparison tables.
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/montanaflynn/stats"

	"github.com/weiihann/creato/harness"
)

// WriteText writes the three line shapes of a single run: rate, latency
// and one line per performance counter.
func WriteText(w io.Writer, r *harness.Result) error {
	if _, err := fmt.Fprintf(w, "rate: %f per sec\n", r.Rate); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "lat: %f usec\n", r.LatencyUsec); err != nil {
		return err
	}

	for _, c := range r.Counters {
		if _, err := fmt.Fprintf(w, "pmc(%d): %f per op\n", c.Index, c.PerOp); err != nil {
			return err
		}
	}

	return nil
}

// Generate writes a markdown comparison table for the given results.
func Generate(w io.Writer, results []harness.Result) error {
	if len(results) == 0 {
		return fmt.Errorf("no results to report")
	}

	fastest := findFastest(results)

	fmt.Fprintln(w, "## Benchmark Results")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "| Operation | Procs | Elapsed | Ops | Rate/s "+
		"| Latency | Worker Rate/s | Speedup |")
	fmt.Fprintln(w, "|-----------|-------|---------|-----|--------"+
		"|---------|---------------|---------|")

	for _, r := range results {
		speedup := 1.0
		if fastest > 0 && r.Rate > 0 {
			speedup = fastest / r.Rate
		}

		fmt.Fprintf(w, "| %s | %d | %s | %s | %s | %s | %s | %.2fx |\n",
			r.Operation,
			r.NProcs,
			formatUsec(r.ElapsedUsec),
			humanize.Comma(int64(r.TotalOps)),
			humanize.CommafWithDigits(r.Rate, 1),
			formatUsec(int64(r.LatencyUsec)),
			humanize.CommafWithDigits(workerRate(r), 1),
			speedup,
		)
	}

	if !hasCounters(results) {
		return nil
	}

	fmt.Fprintln(w)

	fmt.Fprintln(w, "| Operation | Counter | Start | Stop | Per Op |")
	fmt.Fprintln(w, "|-----------|---------|-------|------|--------|")

	for _, r := range results {
		for _, c := range r.Counters {
			fmt.Fprintf(w, "| %s | %s | %s | %s | %.3f |\n",
				r.Operation,
				counterName(c),
				humanize.Comma(int64(c.Start)),
				humanize.Comma(int64(c.Stop)),
				c.PerOp,
			)
		}
	}

	return nil
}

// GenerateJSON writes results as JSON to w.
func GenerateJSON(w io.Writer, results []harness.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(results)
}

// workerRate is the mean rate of a single worker over the window.
func workerRate(r harness.Result) float64 {
	if r.ElapsedUsec <= 0 || len(r.WorkerOps) == 0 {
		return 0
	}

	sec := float64(r.ElapsedUsec) / 1e6
	rates := make(stats.Float64Data, len(r.WorkerOps))
	for i, n := range r.WorkerOps {
		rates[i] = float64(n) / sec
	}

	mean, err := stats.Mean(rates)
	if err != nil {
		return 0
	}

	return mean
}

func findFastest(results []harness.Result) float64 {
	var fastest float64
	for _, r := range results {
		if r.Rate > fastest {
			fastest = r.Rate
		}
	}

	return fastest
}

func hasCounters(results []harness.Result) bool {
	for _, r := range results {
		if len(r.Counters) > 0 {
			return true
		}
	}

	return false
}

func counterName(c harness.CounterResult) string {
	if c.Name == "" {
		return fmt.Sprintf("pmc(%d)", c.Index)
	}

	return c.Name
}

func formatUsec(us int64) string {
	switch {
	case us < 1000:
		return fmt.Sprintf("%dus", us)
	case us < 1_000_000:
		return fmt.Sprintf("%.2fms", float64(us)/1000)
	default:
		return fmt.Sprintf("%.2fs", float64(us)/1e6)
	}
}
