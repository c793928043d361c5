// Package main provides the CLI entry point for creato, a multi-core
// create/unlink throughput micro-benchmark.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/weiihann/creato/affinity"
	"github.com/weiihann/creato/config"
	"github.com/weiihann/creato/harness"
	"github.com/weiihann/creato/pmc"
	"github.com/weiihann/creato/report"
	"github.com/weiihann/creato/telemetry"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	// Workers are this binary re-executed by the leader.
	if harness.IsWorker() {
		if err := harness.WorkerMain(logger); err != nil {
			logger.Error("worker failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		os.Exit(0)
	}

	root := newRootCmd(logger, level)
	if err := root.Execute(); err != nil {
		logger.Error("creato failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	root := &cobra.Command{
		Use:   "creato",
		Short: "Multi-core file create/unlink throughput benchmark",
		Long: `Creato measures how many create-then-remove operations per second a
set of workers pinned to distinct cores sustains, each in its own
directory, started together and stopped together by a timer.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd(logger, level))

	return root
}

func newRunCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	var (
		configPath string
		ops        []string
		counters   []string
		format     string
		traceFile  string
		mode       string
		noPin      bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "run <duration_seconds> <nprocs> <path_prefix> [close_fd]",
		Short: "Run the benchmark",
		Long: `Prepare <path_prefix>.<i> for each of <nprocs> workers, run every
worker's operation for <duration_seconds> and print the aggregate rate,
the mean latency and each performance counter per operation.

Numbers are read like atoi: leading digits count and anything else is 0.
An nprocs that reads as less than 1 is rejected before any work starts.`,
		Args: cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				level.Set(slog.LevelDebug)
			}

			cfg := config.Default()
			if configPath != "" {
				var err error
				if cfg, err = config.Load(configPath); err != nil {
					return err
				}
			}

			if err := cfg.ApplyArgs(args); err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("ops") {
				cfg.Operations = ops
			}
			if flags.Changed("counters") {
				cfg.Counters = counters
			}
			if flags.Changed("format") {
				cfg.Format = format
			}
			if flags.Changed("trace-file") {
				cfg.TraceFile = traceFile
			}
			if flags.Changed("mode") {
				cfg.Mode = mode
			}
			if noPin {
				cfg.Pin = false
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			return runBenchmark(cmd.Context(), logger, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "",
		"YAML profile read before arguments and flags")
	flags.StringSliceVar(&ops, "ops", nil,
		"Operations to run in turn (e.g. creat,mkdir)")
	flags.StringSliceVar(&counters, "counters", nil,
		fmt.Sprintf("Performance counters to sample (%v)", pmc.Events()))
	flags.StringVar(&format, "format", config.FormatText,
		"Output format: text, table, json")
	flags.StringVar(&traceFile, "trace-file", "",
		"Write spans and the ops gauge of each run to this file")
	flags.StringVar(&mode, "mode", config.ModeProc,
		"Worker mode: proc (one process per worker) or thread")
	flags.BoolVar(&noPin, "no-pin", false,
		"Do not pin workers to cores")
	flags.BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")

	return cmd
}

func runBenchmark(
	ctx context.Context,
	logger *slog.Logger,
	cfg config.Config,
) error {
	ncores := 0
	if cfg.Pin {
		ncores = affinity.NCores()
	}

	session := uuid.NewString()

	logger.InfoContext(ctx, "starting benchmark",
		slog.String("session", session),
		slog.Duration("duration", cfg.Duration),
		slog.Int("nprocs", cfg.NProcs),
		slog.String("prefix", cfg.Prefix),
		slog.Any("operations", cfg.Operations),
		slog.Any("counters", cfg.Counters),
		slog.Int("cores", ncores),
		slog.String("mode", cfg.Mode),
	)

	var sink telemetry.Sink = telemetry.Nop{}
	if cfg.TraceFile != "" {
		traceSink, closeTrace, err := openTrace(cfg.TraceFile, session, cfg.NProcs)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeTrace(context.WithoutCancel(ctx)); err != nil {
				logger.WarnContext(ctx, "flush trace", slog.String("error", err.Error()))
			}
		}()
		sink = traceSink
	}

	results := make([]harness.Result, 0, len(cfg.Operations))

	for _, op := range cfg.Operations {
		hcfg := harness.Config{
			Duration: cfg.Duration,
			NProcs:   cfg.NProcs,
			Prefix:   cfg.Prefix,
			Op:       op,
			CloseFD:  cfg.CloseFD,
		}

		result, err := runOne(ctx, logger, cfg, hcfg, ncores, sink)
		if err != nil {
			return fmt.Errorf("run %s: %w", op, err)
		}

		results = append(results, *result)
	}

	switch cfg.Format {
	case config.FormatJSON:
		if err := report.GenerateJSON(os.Stdout, results); err != nil {
			return fmt.Errorf("generate JSON report: %w", err)
		}
	case config.FormatTable:
		if err := report.Generate(os.Stdout, results); err != nil {
			return fmt.Errorf("generate report: %w", err)
		}
	}

	logger.InfoContext(ctx, "benchmark complete")

	return nil
}

func runOne(
	ctx context.Context,
	logger *slog.Logger,
	cfg config.Config,
	hcfg harness.Config,
	ncores int,
	sink telemetry.Sink,
) (*harness.Result, error) {
	opts := []harness.Option{
		harness.WithCores(ncores),
		harness.WithSink(sink),
	}

	if cfg.Mode == config.ModeThread {
		opts = append(opts, harness.WithSpawner(&harness.GoroutineSpawner{}))
	}

	if cfg.Format == config.FormatText {
		opts = append(opts, harness.WithEmit(func(r *harness.Result) {
			if err := report.WriteText(os.Stdout, r); err != nil {
				logger.Error("write result", slog.String("error", err.Error()))
			}
		}))
	}

	if len(cfg.Counters) > 0 {
		cores, err := countedCores(harness.Specs(hcfg, ncores))
		if err != nil {
			return nil, err
		}

		perf, err := pmc.Open(cfg.Counters, cores)
		if err != nil {
			return nil, fmt.Errorf("open counters: %w", err)
		}
		defer perf.Close()

		opts = append(opts, harness.WithCounters(perf))
	}

	return harness.New(hcfg, logger, opts...).Run(ctx)
}

// countedCores returns the cores the workers run on. Unpinned workers may
// run anywhere the process is allowed to.
func countedCores(specs []harness.WorkerSpec) ([]int, error) {
	var cores []int
	for _, s := range specs {
		if s.Core < 0 {
			return affinity.Allowed()
		}
		if !slices.Contains(cores, s.Core) {
			cores = append(cores, s.Core)
		}
	}

	slices.Sort(cores)

	return cores, nil
}

func openTrace(
	path, session string,
	nprocs int,
) (*telemetry.OTel, func(context.Context) error, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create trace file: %w", err)
	}

	sink, err := telemetry.NewOTel(f,
		attribute.String("creato.session", session),
		attribute.Int("creato.nprocs", nprocs),
	)
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	closeFn := func(ctx context.Context) error {
		return errors.Join(sink.Shutdown(ctx), f.Close())
	}

	return sink, closeFn, nil
}
