package main

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MasslessAI/push-claude-plugin/internal/config"
	"github.com/MasslessAI/push-claude-plugin/internal/version"
)

func TestRunSupportsVersionFlag(t *testing.T) {
	original := version.Version
	version.Version = "daemon-test-version"
	t.Cleanup(func() { version.Version = original })

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	code := run([]string{"--version"}, out, errOut)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if strings.TrimSpace(out.String()) != "push-daemon daemon-test-version" {
		t.Fatalf("unexpected version output: %q", out.String())
	}
}

func TestRunNoArgsPrintsUsage(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	code := run(nil, out, errOut)
	if code != 0 {
		t.Fatalf("expected exit code 0 even with no args, got %d", code)
	}
	if !strings.Contains(errOut.String(), "usage") {
		t.Fatalf("expected usage message, got %q", errOut.String())
	}
}

func TestRunUnknownSubcommandDoesNotFail(t *testing.T) {
	t.Setenv("PUSH_HOME", t.TempDir())
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	code := run([]string{"frobnicate"}, out, errOut)
	if code != 0 {
		t.Fatalf("expected exit code 0 (exit codes are always 0), got %d", code)
	}
	if !strings.Contains(errOut.String(), "unknown subcommand") {
		t.Fatalf("expected unknown-subcommand message, got %q", errOut.String())
	}
}

func TestRunStopWithNoPIDFileReportsNotRunning(t *testing.T) {
	t.Setenv("PUSH_HOME", t.TempDir())
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	code := run([]string{"stop"}, out, errOut)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(out.String(), "not running") {
		t.Fatalf("expected not-running message, got %q", out.String())
	}
}

func TestRunStatusWithNoSnapshotReportsError(t *testing.T) {
	t.Setenv("PUSH_HOME", t.TempDir())
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	code := run([]string{"status"}, out, errOut)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(errOut.String(), "reading status") {
		t.Fatalf("expected a reading-status error, got %q", errOut.String())
	}
}

func TestRunStopReapsStalePIDFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PUSH_HOME", dir)

	// A PID that will never belong to a live process in the test sandbox.
	if err := os.WriteFile(filepath.Join(dir, "daemon.pid"), []byte("999999999\n"), 0o644); err != nil {
		t.Fatalf("seeding stale pid file: %v", err)
	}

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	code := run([]string{"stop"}, out, errOut)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(out.String(), "stale pid file") {
		t.Fatalf("expected stale-pid message, got %q", out.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "daemon.pid")); !os.IsNotExist(err) {
		t.Fatalf("expected stale pid file to be removed, stat err=%v", err)
	}
}

func TestBaseDirHonorsPushHomeOverride(t *testing.T) {
	custom := filepath.Join(t.TempDir(), "custom-state")
	t.Setenv("PUSH_HOME", custom)

	dir, err := baseDir()
	if err != nil {
		t.Fatalf("baseDir: %v", err)
	}
	if dir != custom {
		t.Fatalf("expected %q, got %q", custom, dir)
	}
}

func TestRunRegisterNonGitDirReportsError(t *testing.T) {
	t.Setenv("PUSH_HOME", t.TempDir())
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	code := run([]string{"register", "-path", t.TempDir()}, out, errOut)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(errOut.String(), "origin remote") {
		t.Fatalf("expected origin-remote error, got %q", errOut.String())
	}
}

func TestRunRegisterNormalizesRemoteAndPersists(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	home := t.TempDir()
	t.Setenv("PUSH_HOME", home)

	repo := t.TempDir()
	for _, args := range [][]string{
		{"init", "--quiet"},
		{"remote", "add", "origin", "git@github.com:u/r.git"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = repo
		if output, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, output)
		}
	}

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	code := run([]string{"register", "-path", repo}, out, errOut)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d (stderr: %s)", code, errOut.String())
	}
	if !strings.Contains(out.String(), "github.com/u/r") {
		t.Fatalf("expected normalized repo url in output, got %q", out.String())
	}

	registry, err := config.LoadRegistry(home)
	if err != nil {
		t.Fatalf("reload registry: %v", err)
	}
	entry, ok := registry.Lookup("github.com/u/r")
	if !ok {
		t.Fatal("expected github.com/u/r registered")
	}
	if entry.LocalPath == "" {
		t.Fatal("expected a local path recorded")
	}
}
