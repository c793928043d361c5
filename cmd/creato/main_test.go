package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/weiihann/creato/harness"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCountedCores(t *testing.T) {
	specs := []harness.WorkerSpec{{Core: 2}, {Core: 0}, {Core: 2}, {Core: 1}}

	cores, err := countedCores(specs)
	if err != nil {
		t.Fatalf("countedCores failed: %v", err)
	}

	if !slices.Equal(cores, []int{0, 1, 2}) {
		t.Errorf("cores = %v, want [0 1 2]", cores)
	}
}

func TestCountedCoresUnpinned(t *testing.T) {
	cores, err := countedCores([]harness.WorkerSpec{{Core: -1}})
	if err != nil {
		t.Fatalf("countedCores failed: %v", err)
	}

	if len(cores) == 0 {
		t.Error("expected the allowed cores for unpinned workers")
	}
}

func TestRunCmdRejectsArgs(t *testing.T) {
	tests := [][]string{
		{"run"},
		{"run", "1", "2"},
		{"run", "1", "2", "p", "0", "extra"},
		{"run", "1", "0", "p"},
		{"run", "1", "many", "p"},
		{"run", "1", "1", "p", "--format", "xml"},
		{"run", "1", "1", "p", "--ops", "rename"},
	}

	for _, args := range tests {
		root := newRootCmd(discardLogger(), new(slog.LevelVar))
		root.SetArgs(args)
		root.SetOut(&strings.Builder{})
		root.SetErr(&strings.Builder{})

		if err := root.Execute(); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}

func TestOpenTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.json")

	sink, closeFn, err := openTrace(path, "session-1", 2)
	if err != nil {
		t.Fatalf("openTrace failed: %v", err)
	}

	sink.Enable(true, "creato/creat")
	sink.Register(7)
	sink.Enable(false, "creato/creat")

	if err := closeFn(t.Context()); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"creato/creat", "session-1", "creato.ops"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("trace lacks %q", want)
		}
	}
}
