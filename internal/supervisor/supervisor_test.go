package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MasslessAI/push-claude-plugin/internal/contracts"
)

func writeAgentScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-agent.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func newRecord() *contracts.RunningTask {
	return contracts.NewRunningTask("t1", 1, "summary", "/tmp", "/tmp/repo", time.Now())
}

func TestSpawnCapturesSessionIDOnSuccess(t *testing.T) {
	script := writeAgentScript(t, `echo "working..."
echo '{"session_id":"S-1"}'
exit 0
`)
	record := newRecord()
	sup, err := Spawn(context.Background(), Request{AgentPath: script, WorktreePath: t.TempDir(), TaskID: "t1", DisplayNumber: 1, Prompt: "do it"}, record)
	require.NoError(t, err)

	result := sup.Wait()
	require.Equal(t, ExitSuccess, result.Outcome)
	require.Equal(t, "S-1", result.SessionID)
	require.Equal(t, 0, result.ExitCode)
}

func TestSpawnCapturesStderrTailOnFailure(t *testing.T) {
	script := writeAgentScript(t, `echo "boom" 1>&2
exit 7
`)
	record := newRecord()
	sup, err := Spawn(context.Background(), Request{AgentPath: script, WorktreePath: t.TempDir(), TaskID: "t1", DisplayNumber: 1, Prompt: "do it"}, record)
	require.NoError(t, err)

	result := sup.Wait()
	require.Equal(t, ExitFailure, result.Outcome)
	require.Equal(t, 7, result.ExitCode)
	require.Contains(t, result.StderrTail, "boom")
}

func TestSpawnDetectsStuckPhrase(t *testing.T) {
	script := writeAgentScript(t, `echo "about to run"
echo "Waiting for permission to proceed (y/n)"
sleep 5
`)
	record := newRecord()
	sup, err := Spawn(context.Background(), Request{AgentPath: script, WorktreePath: t.TempDir(), TaskID: "t1", DisplayNumber: 1, Prompt: "do it"}, record)
	require.NoError(t, err)
	defer func() {
		sup.Terminate(ExitShutdown)
		sup.Wait()
	}()

	require.Eventually(t, func() bool {
		phase, _ := record.Phase()
		return phase == contracts.PhaseStuck
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTerminateSendsSigtermThenSigkill(t *testing.T) {
	script := writeAgentScript(t, `trap '' TERM
sleep 30
`)
	record := newRecord()
	sup, err := Spawn(context.Background(), Request{AgentPath: script, WorktreePath: t.TempDir(), TaskID: "t1", DisplayNumber: 1, Prompt: "do it"}, record)
	require.NoError(t, err)

	start := time.Now()
	sup.Terminate(ExitTimeout)
	result := sup.Wait()
	elapsed := time.Since(start)

	require.Equal(t, ExitTimeout, result.Outcome)
	require.GreaterOrEqual(t, elapsed, sigtermGrace)
	require.Less(t, elapsed, sigtermGrace+3*time.Second)
}

func TestTerminateGracefulExitSkipsSigkill(t *testing.T) {
	script := writeAgentScript(t, `trap 'exit 0' TERM
sleep 30
`)
	record := newRecord()
	sup, err := Spawn(context.Background(), Request{AgentPath: script, WorktreePath: t.TempDir(), TaskID: "t1", DisplayNumber: 1, Prompt: "do it"}, record)
	require.NoError(t, err)

	start := time.Now()
	sup.Terminate(ExitShutdown)
	result := sup.Wait()
	elapsed := time.Since(start)

	require.Equal(t, ExitShutdown, result.Outcome)
	require.Less(t, elapsed, sigtermGrace)
}

func TestTerminateIsIdempotentAndSafeConcurrentWithWait(t *testing.T) {
	script := writeAgentScript(t, `trap 'exit 0' TERM
sleep 30
`)
	record := newRecord()
	sup, err := Spawn(context.Background(), Request{AgentPath: script, WorktreePath: t.TempDir(), TaskID: "t1", DisplayNumber: 1, Prompt: "do it"}, record)
	require.NoError(t, err)

	resultCh := make(chan Result, 1)
	go func() { resultCh <- sup.Wait() }()

	time.Sleep(20 * time.Millisecond)
	sup.Terminate(ExitShutdown)
	sup.Terminate(ExitShutdown) // second call must not block or panic

	result := <-resultCh
	require.Equal(t, ExitShutdown, result.Outcome)
}

func TestBuildArgsFixedShape(t *testing.T) {
	req := Request{Prompt: "hello", AllowedTools: []string{"bash", "edit"}, OutputFormat: "json"}
	args := req.buildArgs()
	require.Equal(t, []string{
		"--print", "--dangerously-skip-permissions", "-p", "hello",
		"--allowed-tools", "bash,edit",
		"--output-format", "json",
	}, args)
}

func TestSpawnInvokesOnStuckOnce(t *testing.T) {
	script := writeAgentScript(t, `echo "confirm: overwrite files?"
echo "still confirm: overwrite files?"
trap 'exit 0' TERM
sleep 30
`)
	record := newRecord()

	var mu sync.Mutex
	var hits []string
	sup, err := Spawn(context.Background(), Request{
		AgentPath: script, WorktreePath: t.TempDir(), TaskID: "t1", DisplayNumber: 1, Prompt: "do it",
		OnStuck: func(phrase, line string) {
			mu.Lock()
			defer mu.Unlock()
			hits = append(hits, phrase)
		},
	}, record)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(hits) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	sup.Terminate(ExitShutdown)
	sup.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"confirm:"}, hits, "second matching line must be de-duplicated")
}
