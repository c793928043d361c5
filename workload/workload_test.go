package workload

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestBuiltinsLeaveWorkspaceEmpty(t *testing.T) {
	for _, name := range []string{"creat", "mkdir"} {
		t.Run(name, func(t *testing.T) {
			ws := t.TempDir()

			op, err := New(name, Options{})
			if err != nil {
				t.Fatalf("New(%q) failed: %v", name, err)
			}

			for i := 0; i < 100; i++ {
				if err := op.Perform(ws); err != nil {
					t.Fatalf("perform %d failed: %v", i, err)
				}
			}

			entries, err := os.ReadDir(ws)
			if err != nil {
				t.Fatalf("read workspace: %v", err)
			}
			if len(entries) != 0 {
				t.Errorf("workspace has %d entries, want 0", len(entries))
			}
		})
	}
}

func TestCreatIsExclusive(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "x"), nil, 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	op, err := New("creat", Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	err = op.Perform(ws)
	if !errors.Is(err, fs.ErrExist) {
		t.Errorf("err = %v, want file exists", err)
	}

	var pe *os.PathError
	if !errors.As(err, &pe) || pe.Op != "creat" {
		t.Errorf("err = %#v, want creat PathError", err)
	}
}

func TestPerformMissingWorkspace(t *testing.T) {
	ws := filepath.Join(t.TempDir(), "gone")

	for _, name := range []string{"creat", "mkdir"} {
		op, err := New(name, Options{CloseFD: true})
		if err != nil {
			t.Fatalf("New(%q) failed: %v", name, err)
		}
		if err := op.Perform(ws); err == nil {
			t.Errorf("%s: expected error for missing workspace", name)
		}
	}
}

func TestTargetFollowsWorkspace(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()

	op, err := New("creat", Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := op.Perform(a); err != nil {
		t.Fatalf("perform in a: %v", err)
	}
	if err := op.Perform(b); err != nil {
		t.Fatalf("perform in b: %v", err)
	}

	c := op.(*creat)
	if c.ws != b {
		t.Errorf("cached workspace = %q, want %q", c.ws, b)
	}
}

func TestNewUnknown(t *testing.T) {
	if _, err := New("no-such-op", Options{}); err == nil {
		t.Error("expected error for unknown operation")
	}
}

var counted int

type countOp struct{}

func (countOp) Perform(string) error {
	counted++
	return nil
}

func init() {
	Register("test-count", func(Options) Operation { return countOp{} })
}

func TestRegister(t *testing.T) {
	counted = 0

	op, err := New("test-count", Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_ = op.Perform("")
	_ = op.Perform("")

	if counted != 2 {
		t.Errorf("counted = %d, want 2", counted)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	Register("test-count", func(Options) Operation { return countOp{} })
}

func TestNamesSorted(t *testing.T) {
	names := Names()
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Errorf("names not sorted: %v", names)
		}
	}
	if Default != "creat" {
		t.Errorf("Default = %q, want creat", Default)
	}
}
