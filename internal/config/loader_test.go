package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.Agent.MaxIterations != 24 {
		t.Errorf("MaxIterations = %d, want 24", cfg.Agent.MaxIterations)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "conductor.yaml", `
agent:
  model: test-model
  max_iterations: 8
  approval_mode: yolo
context:
  compression_trigger: 0.5
storage:
  backend: memory
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Model != "test-model" {
		t.Errorf("Model = %q, want %q", cfg.Agent.Model, "test-model")
	}
	if cfg.Agent.MaxIterations != 8 {
		t.Errorf("MaxIterations = %d, want 8", cfg.Agent.MaxIterations)
	}
	if cfg.Context.CompressionTrigger != 0.5 {
		t.Errorf("CompressionTrigger = %v, want 0.5", cfg.Context.CompressionTrigger)
	}
	// Unset sections still get defaults.
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Retry.MaxAttempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("Storage.Backend = %q, want %q", cfg.Storage.Backend, "memory")
	}
}

func TestLoadJSON5(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "conductor.json5", `{
  // comments are allowed
  agent: { model: "j5-model", max_tokens: 2048 },
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Model != "j5-model" {
		t.Errorf("Model = %q, want %q", cfg.Agent.Model, "j5-model")
	}
	if cfg.Agent.MaxTokens != 2048 {
		t.Errorf("MaxTokens = %d, want 2048", cfg.Agent.MaxTokens)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
agent:
  model: base-model
  max_iterations: 4
logging:
  level: debug
`)
	path := writeFile(t, dir, "conductor.yaml", `
$include: base.yaml
agent:
  model: override-model
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// The including file wins on conflicts, included values survive
	// where not overridden.
	if cfg.Agent.Model != "override-model" {
		t.Errorf("Model = %q, want %q", cfg.Agent.Model, "override-model")
	}
	if cfg.Agent.MaxIterations != 4 {
		t.Errorf("MaxIterations = %d, want 4", cfg.Agent.MaxIterations)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "$include: b.yaml\n")
	path := writeFile(t, dir, "b.yaml", "$include: a.yaml\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load with cyclic includes = nil error, want cycle error")
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Errorf("error = %q, want mention of cycle", err)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("CONDUCTOR_TEST_MODEL", "env-model")
	dir := t.TempDir()
	path := writeFile(t, dir, "conductor.yaml", `
agent:
  model: ${CONDUCTOR_TEST_MODEL}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Model != "env-model" {
		t.Errorf("Model = %q, want %q", cfg.Agent.Model, "env-model")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "conductor.yaml", "banana: true\n")
	if _, err := Load(path); err == nil {
		t.Error("Load with unknown key = nil, want error")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "conductor.yaml", `
agent:
  approval_mode: sometimes
`)
	if _, err := Load(path); err == nil {
		t.Error("Load with bad approval_mode = nil, want error")
	}
}
