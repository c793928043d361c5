package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestAtoi(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"5", 5},
		{"  12", 12},
		{"3abc", 3},
		{"abc", 0},
		{"", 0},
		{"-4", -4},
		{"+7", 7},
		{"1.5", 1},
	}

	for _, tt := range tests {
		if got := Atoi(tt.input); got != tt.want {
			t.Errorf("Atoi(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestApplyArgs(t *testing.T) {
	cfg := Default()
	if err := cfg.ApplyArgs([]string{"5", "4", "/tmp/x"}); err != nil {
		t.Fatalf("ApplyArgs failed: %v", err)
	}

	if cfg.Duration != 5*time.Second {
		t.Errorf("duration = %v, want 5s", cfg.Duration)
	}
	if cfg.NProcs != 4 {
		t.Errorf("nprocs = %d, want 4", cfg.NProcs)
	}
	if cfg.Prefix != "/tmp/x" {
		t.Errorf("prefix = %q, want /tmp/x", cfg.Prefix)
	}
	if cfg.CloseFD {
		t.Error("close_fd = true without the argument")
	}
}

func TestApplyArgsCloseFD(t *testing.T) {
	tests := []struct {
		arg  string
		want bool
	}{
		{"1", true},
		{"0", false},
		{"yes", false},
	}

	for _, tt := range tests {
		cfg := Default()
		if err := cfg.ApplyArgs([]string{"1", "1", "p", tt.arg}); err != nil {
			t.Fatalf("ApplyArgs failed: %v", err)
		}
		if cfg.CloseFD != tt.want {
			t.Errorf("close_fd for %q = %v, want %v", tt.arg, cfg.CloseFD, tt.want)
		}
	}
}

func TestApplyArgsNonNumeric(t *testing.T) {
	cfg := Default()
	if err := cfg.ApplyArgs([]string{"soon", "many", "p"}); err != nil {
		t.Fatalf("ApplyArgs failed: %v", err)
	}

	if cfg.Duration != 0 || cfg.NProcs != 0 {
		t.Errorf("got duration %v nprocs %d, want zeros", cfg.Duration, cfg.NProcs)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for nprocs 0")
	}
}

func TestApplyArgsTooFew(t *testing.T) {
	cfg := Default()
	if err := cfg.ApplyArgs([]string{"1", "2"}); err == nil {
		t.Error("expected error for missing prefix")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	profile := `
duration: 3s
nprocs: 8
operations: [creat, mkdir]
counters: [cycles]
format: table
`
	if err := os.WriteFile(path, []byte(profile), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Duration != 3*time.Second {
		t.Errorf("duration = %v, want 3s", cfg.Duration)
	}
	if cfg.NProcs != 8 {
		t.Errorf("nprocs = %d, want 8", cfg.NProcs)
	}
	if !slices.Equal(cfg.Operations, []string{"creat", "mkdir"}) {
		t.Errorf("operations = %v", cfg.Operations)
	}
	if cfg.Format != FormatTable {
		t.Errorf("format = %q, want table", cfg.Format)
	}
	// Untouched keys keep defaults.
	if cfg.Mode != ModeProc || !cfg.Pin {
		t.Errorf("mode = %q pin = %v, want defaults", cfg.Mode, cfg.Pin)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("nprocs: [1, 2"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"nprocs", func(c *Config) { c.NProcs = 0 }},
		{"prefix", func(c *Config) { c.Prefix = "" }},
		{"no ops", func(c *Config) { c.Operations = nil }},
		{"unknown op", func(c *Config) { c.Operations = []string{"rename"} }},
		{"format", func(c *Config) { c.Format = "xml" }},
		{"mode", func(c *Config) { c.Mode = "fiber" }},
	}

	for _, tt := range tests {
		cfg := Default()
		tt.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}
