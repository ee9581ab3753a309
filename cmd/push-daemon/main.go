// Command push-daemon is the task execution daemon: it polls
// the backend for tasks queued against this machine, supervises a coding
// agent per task in an isolated git worktree, and reports lifecycle state
// back to the backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	osexec "os/exec"
	"path/filepath"
	"time"

	"github.com/MasslessAI/push-claude-plugin/internal/backendclient"
	"github.com/MasslessAI/push-claude-plugin/internal/certainty"
	"github.com/MasslessAI/push-claude-plugin/internal/config"
	"github.com/MasslessAI/push-claude-plugin/internal/contracts"
	"github.com/MasslessAI/push-claude-plugin/internal/decrypt"
	"github.com/MasslessAI/push-claude-plugin/internal/lifecycle"
	"github.com/MasslessAI/push-claude-plugin/internal/logging"
	"github.com/MasslessAI/push-claude-plugin/internal/prhook"
	"github.com/MasslessAI/push-claude-plugin/internal/runner"
	"github.com/MasslessAI/push-claude-plugin/internal/scheduler"
	"github.com/MasslessAI/push-claude-plugin/internal/statusfile"
	"github.com/MasslessAI/push-claude-plugin/internal/statusview"
	"github.com/MasslessAI/push-claude-plugin/internal/version"
	"github.com/MasslessAI/push-claude-plugin/internal/worktree"
)

const binaryName = "push-daemon"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run is the testable entrypoint body; main only wires it to the real
// process args/streams and exit code; the daemon always exits 0, the
// status file and log being the observability surface.
func run(args []string, stdout, stderr io.Writer) int {
	if version.IsVersionRequest(args) {
		version.Print(stdout, binaryName)
		return 0
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: push-daemon <start|stop|status|register>")
		return 0
	}

	dir, err := baseDir()
	if err != nil {
		fmt.Fprintf(stderr, "push-daemon: %v\n", err)
		return 0
	}

	switch args[0] {
	case "start":
		fs := flag.NewFlagSet("start", flag.ContinueOnError)
		interval := fs.Duration("interval", scheduler.DefaultInterval, "scheduler tick interval")
		maxConcurrent := fs.Int("max-concurrent", 5, "maximum concurrently supervised tasks")
		agentPath := fs.String("agent", "agent", "coding agent binary to invoke")
		backendURL := fs.String("backend-url", envOr("PUSH_BACKEND_URL", "https://api.push.dev"), "backend base URL")
		if err := fs.Parse(args[1:]); err != nil {
			return 0
		}
		startDaemon(dir, *interval, *maxConcurrent, *agentPath, *backendURL, stdout, stderr)
		return 0
	case "stop":
		stopDaemon(dir, stdout, stderr)
		return 0
	case "status":
		fs := flag.NewFlagSet("status", flag.ContinueOnError)
		watch := fs.Bool("watch", false, "live-refresh the status view")
		asJSON := fs.Bool("json", false, "print the raw status snapshot as JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return 0
		}
		statusCommand(dir, *watch, *asJSON, stdout, stderr)
		return 0
	case "register":
		fs := flag.NewFlagSet("register", flag.ContinueOnError)
		path := fs.String("path", ".", "checkout to register for task execution")
		if err := fs.Parse(args[1:]); err != nil {
			return 0
		}
		registerCommand(dir, *path, stdout, stderr)
		return 0
	default:
		fmt.Fprintf(stderr, "push-daemon: unknown subcommand %q\n", args[0])
		return 0
	}
}

// baseDir resolves the per-user directory that holds both the config store
// and the state surface, rooted in the current user's home. A single
// directory serves both roles for this daemon.
func baseDir() (string, error) {
	if dir := os.Getenv("PUSH_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".push"), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// startDaemon wires every component and runs the daemon until a signal
// arrives: write PID file, write version file,
// initialize status file, immediate poll, then tick on interval.
func startDaemon(dir string, interval time.Duration, maxConcurrent int, agentPath, backendURL string, stdout, stderr io.Writer) {
	// Version-mismatch self-restart: if an older daemon recorded a
	// different version, stop it before this one takes over.
	recorded, _ := lifecycle.RecordedVersion(dir)
	if restarted, err := lifecycle.EnsureRunning(dir, version.Version); err != nil {
		fmt.Fprintf(stderr, "push-daemon: version check: %v\n", err)
	} else if restarted {
		if version.Newer(version.Version, recorded) {
			fmt.Fprintf(stdout, "push-daemon: updated %s -> %s, replacing daemon\n", recorded, version.Version)
		} else {
			fmt.Fprintf(stdout, "push-daemon: version changed %s -> %s, replacing daemon\n", recorded, version.Version)
		}
	}
	if err := statusfile.ReapStalePID(dir); err != nil {
		fmt.Fprintf(stderr, "push-daemon: reaping stale pid: %v\n", err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		fmt.Fprintf(stderr, "push-daemon: loading config: %v\n", err)
		return
	}
	identity, err := config.LoadOrCreateMachineIdentity(dir, hostname())
	if err != nil {
		fmt.Fprintf(stderr, "push-daemon: loading machine identity: %v\n", err)
		return
	}
	registry, err := config.LoadRegistry(dir)
	if err != nil {
		fmt.Fprintf(stderr, "push-daemon: loading registry: %v\n", err)
		return
	}

	logFile, err := logging.NewRotatingFile(filepath.Join(dir, "daemon.log"))
	if err != nil {
		fmt.Fprintf(stderr, "push-daemon: opening log file: %v\n", err)
		return
	}
	defer logFile.Close()
	daemonLog := logging.NewDaemonLog(logFile, envOr("PUSH_LOG_LEVEL", "info"), identity.MachineName)
	logf := func(format string, args ...interface{}) {
		daemonLog.Infof("daemon", format, args...)
	}

	daemonLog.Infof("daemon", "push-daemon started: pid=%d interval=%s max_concurrent=%d state=%s", os.Getpid(), interval, maxConcurrent, dir)
	if cfg.APIKey == "" {
		daemonLog.Warnf("daemon", "no API key configured; run connect first")
	}

	backend := backendclient.New(backendURL, cfg.APIKey, &http.Client{})

	var sink contracts.EventSink
	if redisURL := os.Getenv("PUSH_EVENTS_REDIS_URL"); redisURL != "" {
		if redisSink, err := backendclient.NewRedisEventSink(redisURL); err == nil {
			sink = redisSink
		} else {
			logf("connecting redis event sink: %v", err)
		}
	} else if natsURL := os.Getenv("PUSH_EVENTS_NATS_URL"); natsURL != "" {
		if natsSink, err := backendclient.NewNATSEventSink(natsURL); err == nil {
			sink = natsSink
		} else {
			logf("connecting nats event sink: %v", err)
		}
	}

	worktrees := worktree.New(worktree.GitRunner{})
	commandLog := logging.NewCommandLog(dir)
	prHook := &prhook.Hook{
		Git:        worktree.GitRunner{},
		GH:         ghRunner{},
		CommandLog: commandLog,
	}

	var keyProvider decrypt.KeyProvider
	if helperPath := os.Getenv("PUSH_KEYCHAIN_HELPER"); helperPath != "" {
		helper := decrypt.NewKeychainHelper(helperPath)
		if helper.Available() {
			keyProvider = helper
		}
	}
	decryptor := decrypt.New(keyProvider)

	running := runner.NewRunningSet()
	completed := statusfile.NewCompletedLog(10)

	writer := statusfile.NewWriter(dir, identity.MachineName, identity.Suffix, version.Version, maxConcurrent)
	if err := writer.WritePID(); err != nil {
		fmt.Fprintf(stderr, "push-daemon: writing pid file: %v\n", err)
		return
	}
	if err := lifecycle.WriteDaemonVersion(dir, version.Version); err != nil {
		logf("writing daemon version: %v", err)
	}

	stuckLogPath := filepath.Join(dir, "stuck_events.jsonl")

	taskRunner := &runner.Runner{
		Backend:       backend,
		Worktrees:     worktrees,
		Registry:      registry,
		Running:       running,
		Completed:     completed,
		PRHook:        prHook,
		Overlays:      config.OverlayLoaderFunc(config.LoadOverlay),
		Certainty:     certainty.NewAnalyzer(),
		Events:        sink,
		MachineID:     identity.MachineID,
		MachineName:   identity.MachineName,
		MachineSuffix: identity.Suffix,
		AgentPath:     agentPath,
		OutputFormat:  "json",
		MaxConcurrent: maxConcurrent,
		AutoMerge:     cfg.AutoMerge,
		Logf:          logf,
		OnStateChanged: func() {
			writeSnapshot(writer, running, completed, maxConcurrent, logf)
		},
		OnStuck: func(task contracts.Task, phrase, line string) {
			_ = logging.AppendStuckEvent(stuckLogPath, logging.StuckEventEntry{
				TaskID:        task.TaskID,
				DisplayNumber: task.DisplayNumber,
				Kind:          "stuck",
				Phrase:        phrase,
				Line:          line,
			})
		},
	}

	sched := &scheduler.Scheduler{
		Backend:       backend,
		Registry:      registry,
		Runner:        taskRunner,
		Running:       running,
		Decryptor:     decryptor,
		MachineID:     identity.MachineID,
		MachineName:   identity.MachineName,
		MaxConcurrent: maxConcurrent,
		Logf:          logf,
		OnIdleDeclared: func(displayNumber int, idleFor time.Duration) {
			_ = logging.AppendStuckEvent(stuckLogPath, logging.StuckEventEntry{
				DisplayNumber: displayNumber,
				Kind:          "idle",
				IdleSeconds:   int(idleFor.Seconds()),
			})
		},
		OnPollSucceeded: writer.SetLastPollAt,
		OnTickComplete: func() {
			writeSnapshot(writer, running, completed, maxConcurrent, logf)
		},
	}

	daemon := &lifecycle.Daemon{
		Running:       running,
		Backend:       backend,
		Worktrees:     worktrees,
		Status:        writer,
		MachineName:   identity.MachineName,
		ShutdownGrace: supervisorGrace,
		Logf:          logf,
	}

	writeSnapshot(writer, running, completed, maxConcurrent, logf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sched.Run(ctx, interval)

	fmt.Fprintf(stdout, "push-daemon started: machine=%s pid=%d state=%s\n", identity.MachineID, writer.PID, dir)
	daemon.RunUntilSignal(ctx)
	cancel()
}

// supervisorGrace mirrors the supervisor's own SIGTERM->SIGKILL window
// so the stop sequence's best-effort wait lines up with it.
const supervisorGrace = 5 * time.Second

func writeSnapshot(writer *statusfile.Writer, running *runner.RunningSet, completed *statusfile.CompletedLog, maxConcurrent int, logf func(string, ...interface{})) {
	if err := writer.Write(running.Snapshot(), nil, completed.Snapshot()); err != nil {
		logf("writing status snapshot: %v", err)
	}
}

// stopDaemon sends os.Interrupt (SIGINT) to the recorded PID; the running daemon's own
// RunUntilSignal performs the actual drain.
func stopDaemon(dir string, stdout, stderr io.Writer) {
	pid, ok := statusfile.ReadPID(dir)
	if !ok {
		fmt.Fprintln(stdout, "push-daemon: not running")
		return
	}
	if !statusfile.ProcessAlive(pid) {
		fmt.Fprintln(stdout, "push-daemon: stale pid file, removing")
		_ = os.Remove(filepath.Join(dir, "daemon.pid"))
		return
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintf(stderr, "push-daemon: %v\n", err)
		return
	}
	if err := process.Signal(os.Interrupt); err != nil {
		fmt.Fprintf(stderr, "push-daemon: signaling pid %d: %v\n", pid, err)
		return
	}
	fmt.Fprintf(stdout, "push-daemon: sent stop signal to pid %d\n", pid)
}

// statusCommand prints (or watches) the local status surface. asJSON emits
// the raw snapshot for scripting instead of the human summary.
func statusCommand(dir string, watch, asJSON bool, stdout, stderr io.Writer) {
	if watch {
		if err := statusview.Watch(dir, time.Second, stdout); err != nil {
			fmt.Fprintf(stderr, "push-daemon: %v\n", err)
		}
		return
	}

	if asJSON {
		content, err := os.ReadFile(filepath.Join(dir, "daemon_status.json"))
		if err != nil {
			fmt.Fprintf(stderr, "push-daemon: reading status: %v\n", err)
			return
		}
		_, _ = stdout.Write(content)
		return
	}

	snapshot, err := statusfile.Read(dir)
	if err != nil {
		fmt.Fprintf(stderr, "push-daemon: reading status: %v\n", err)
		return
	}
	fmt.Fprintf(stdout, "running=%t pid=%d machine=%s active=%d completedToday=%d updated=%s\n",
		snapshot.Running, snapshot.Daemon.PID, snapshot.Daemon.MachineName,
		snapshot.Stats.Running, snapshot.Stats.CompletedToday, snapshot.UpdatedAt.Format(time.RFC3339))
	for _, task := range snapshot.ActiveTasks {
		fmt.Fprintf(stdout, "  #%d %s %s (%0.fs)\n", task.DisplayNumber, task.Phase, task.Summary, task.ElapsedSeconds)
	}
}

// registerCommand maps the checkout at path into the project registry under
// its normalized origin remote, so polls advertise it and queued tasks for
// that repo can run here.
func registerCommand(dir, path string, stdout, stderr io.Writer) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		fmt.Fprintf(stderr, "push-daemon: resolving %s: %v\n", path, err)
		return
	}

	remote, err := originRemote(absPath)
	if err != nil {
		fmt.Fprintf(stderr, "push-daemon: %s has no origin remote: %v\n", absPath, err)
		return
	}
	repoURL := config.NormalizeRepoURL(remote)
	if repoURL == "" {
		fmt.Fprintf(stderr, "push-daemon: could not normalize remote %q\n", remote)
		return
	}

	registry, err := config.LoadRegistry(dir)
	if err != nil {
		fmt.Fprintf(stderr, "push-daemon: loading registry: %v\n", err)
		return
	}
	if err := registry.Register(repoURL, absPath, time.Now()); err != nil {
		fmt.Fprintf(stderr, "push-daemon: registering %s: %v\n", repoURL, err)
		return
	}
	fmt.Fprintf(stdout, "push-daemon: registered %s -> %s\n", repoURL, absPath)
}

// originRemote reads the origin remote URL of the checkout at dir.
func originRemote(dir string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := osexec.CommandContext(ctx, "git", "remote", "get-url", "origin")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "unknown-host"
	}
	return name
}

// ghRunner shells out to the gh CLI, mirroring worktree.GitRunner's exec
// seam but targeting a different binary.
type ghRunner struct{}

func (ghRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := osexec.CommandContext(ctx, "gh", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("gh %v: %w: %s", args, err, string(out))
	}
	return string(out), nil
}
