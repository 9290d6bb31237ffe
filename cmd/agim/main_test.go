package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "prog.agims")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestRunToolsModeNeedsNoProgram(t *testing.T) {
	if err := run(runOpts{tools: true}, nil); err != nil {
		t.Fatalf("tools mode should not error, got %v", err)
	}
}

func TestRunVersionModeNeedsNoProgram(t *testing.T) {
	if err := run(runOpts{showVersion: true}, nil); err != nil {
		t.Fatalf("version mode should not error, got %v", err)
	}
}

func TestRunRequiresProgramPath(t *testing.T) {
	if err := run(runOpts{}, nil); err == nil {
		t.Fatalf("expected an error when no program path and no -t/-v flag is given")
	}
}

func TestRunMissingFileErrors(t *testing.T) {
	if err := run(runOpts{}, []string{"/nonexistent/path.agims"}); err == nil {
		t.Fatalf("expected an error for a missing program file")
	}
}

func TestRunDisasmDoesNotDriveScheduler(t *testing.T) {
	path := writeScript(t, "module demo 1\nhalt\n")
	if err := run(runOpts{disasm: true}, []string{path}); err != nil {
		t.Fatalf("disasm run: %v", err)
	}
}

func TestRunDrivesProgramToCompletion(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, "module demo 1\nexit 0 normal\n")
	err := run(runOpts{
		configPath:    filepath.Join(dir, "missing.toml"),
		checkpointDir: filepath.Join(dir, "checkpoints"),
	}, []string{path})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunListensForPeersWhenNodeConfigured(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, "module demo 1\nexit 0 normal\n")
	cfgPath := filepath.Join(dir, "agim.toml")
	if err := os.WriteFile(cfgPath, []byte("[node]\nname = \"t\"\nhost = \"127.0.0.1\"\nport = 0\ncookie = 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	err := run(runOpts{
		configPath:    cfgPath,
		checkpointDir: filepath.Join(dir, "checkpoints"),
	}, []string{path})
	if err != nil {
		t.Fatalf("run with [node] configured: %v", err)
	}
}

func TestRunReportsNonNormalExit(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, "module demo 1\nexit 1 boom\n")
	err := run(runOpts{
		configPath:    filepath.Join(dir, "missing.toml"),
		checkpointDir: filepath.Join(dir, "checkpoints"),
	}, []string{path})
	if err == nil {
		t.Fatalf("expected an error for a non-normal exit reason")
	}
}
