package harness

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSpecs(t *testing.T) {
	specs := Specs(Config{NProcs: 5, Prefix: "/tmp/b", Op: "creat", CloseFD: true}, 2)
	if len(specs) != 5 {
		t.Fatalf("got %d specs, want 5", len(specs))
	}

	for i, s := range specs {
		if s.Index != i {
			t.Errorf("spec %d: index = %d", i, s.Index)
		}
		if s.NProcs != 5 {
			t.Errorf("spec %d: nprocs = %d, want 5", i, s.NProcs)
		}
		if s.Core != i%2 {
			t.Errorf("spec %d: core = %d, want %d", i, s.Core, i%2)
		}
		if s.Workspace != WorkspacePath("/tmp/b", i) {
			t.Errorf("spec %d: workspace = %q", i, s.Workspace)
		}
		if !s.CloseFD {
			t.Errorf("spec %d: close_fd not carried", i)
		}
	}

	if !specs[0].Leader() || specs[1].Leader() {
		t.Error("only worker 0 should lead")
	}
	if specs[3].Workspace != "/tmp/b.3" {
		t.Errorf("workspace = %q, want /tmp/b.3", specs[3].Workspace)
	}
}

func TestSpecsUnpinned(t *testing.T) {
	for _, s := range Specs(Config{NProcs: 3}, 0) {
		if s.Core != -1 {
			t.Errorf("worker %d: core = %d, want -1", s.Index, s.Core)
		}
	}

	if n := len(Specs(Config{NProcs: 0}, 4)); n != 0 {
		t.Errorf("got %d specs for nprocs 0", n)
	}
}

func assertEmptyWorkspaces(t *testing.T, specs []WorkerSpec) {
	t.Helper()

	for _, s := range specs {
		entries, err := os.ReadDir(s.Workspace)
		if err != nil {
			t.Fatalf("read %s: %v", s.Workspace, err)
		}
		if len(entries) != 0 {
			t.Errorf("workspace %s has %d entries", s.Workspace, len(entries))
		}
	}
}

func TestPrepareWorkspacesIdempotent(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "ws")
	specs := Specs(Config{NProcs: 3, Prefix: prefix}, 0)

	if err := PrepareWorkspaces(specs, nil); err != nil {
		t.Fatalf("PrepareWorkspaces failed: %v", err)
	}
	assertEmptyWorkspaces(t, specs)

	// Leave debris, including a nested directory, then prepare again.
	if err := os.WriteFile(filepath.Join(specs[0].Workspace, "x"), []byte("stale"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(specs[2].Workspace, "a", "b"), 0o700); err != nil {
		t.Fatal(err)
	}

	for range 2 {
		if err := PrepareWorkspaces(specs, nil); err != nil {
			t.Fatalf("PrepareWorkspaces failed: %v", err)
		}
		assertEmptyWorkspaces(t, specs)
	}
}

func TestPrepareWorkspacesReplacesFile(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "ws")
	specs := Specs(Config{NProcs: 1, Prefix: prefix}, 0)

	if err := os.WriteFile(specs[0].Workspace, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := PrepareWorkspaces(specs, nil); err != nil {
		t.Fatalf("PrepareWorkspaces failed: %v", err)
	}

	fi, err := os.Stat(specs[0].Workspace)
	if err != nil {
		t.Fatal(err)
	}
	if !fi.IsDir() {
		t.Errorf("%s is not a directory", specs[0].Workspace)
	}
}

func TestPrepareWorkspacesMissingParent(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "no", "such", "dir", "ws")
	if err := PrepareWorkspaces(Specs(Config{NProcs: 1, Prefix: prefix}, 0), nil); err == nil {
		t.Error("expected error for missing parent directory")
	}
}

func TestPrepareWorkspacesPinsEachCore(t *testing.T) {
	specs := Specs(Config{NProcs: 4, Prefix: filepath.Join(t.TempDir(), "ws")}, 3)

	var cores []int
	pin := func(core int) error {
		cores = append(cores, core)
		return nil
	}

	if err := PrepareWorkspaces(specs, pin); err != nil {
		t.Fatalf("PrepareWorkspaces failed: %v", err)
	}
	if want := []int{0, 1, 2, 0}; !slices.Equal(cores, want) {
		t.Errorf("pinned cores = %v, want %v", cores, want)
	}
}
