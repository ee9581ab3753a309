// Package runner implements the per-task execution pipeline: gate, claim,
// prepare, dispatch, finalize. It owns the in-memory RunningSet that
// gives the daemon its fast-path "is this already running?" check, the
// backend's atomic claim being the actual linearization point.
package runner

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/MasslessAI/push-claude-plugin/internal/certainty"
	"github.com/MasslessAI/push-claude-plugin/internal/config"
	"github.com/MasslessAI/push-claude-plugin/internal/contracts"
	"github.com/MasslessAI/push-claude-plugin/internal/supervisor"
)

const promptTrailer = "\n\nBefore you finish: check for and follow any in-repo convention file (e.g. AGENTS.md or CONTRIBUTING.md), commit all changes, then exit cleanly."

// spawnSupervisor is a package var so tests can substitute a fake without a
// real agent binary, mirroring backendclient's sleepBetweenRetries hook.
var spawnSupervisor = supervisor.Spawn

// ProjectResolver is the execute-path project lookup: it must update
// lastUsed and persist, per the open-question resolution recorded in
// DESIGN.md (read-only for status, update for execute). Satisfied by
// *config.Registry.
type ProjectResolver interface {
	Resolve(repoURL string, now time.Time) (config.ProjectEntry, bool, error)
}

// PRHook opens a pull request for a finished task's branch, best-effort.
// Returns the PR URL, or "" if none was created or opening failed.
type PRHook interface {
	Run(ctx context.Context, repoPath, branch string, task contracts.Task) string
}

// CompletedSink receives one record per task that leaves the running set,
// for the "completed today" status list.
type CompletedSink interface {
	Append(record contracts.CompletedRecord)
}

// OverlayResolver loads the optional per-repo push.yaml overlay.
// Satisfied by config.OverlayLoaderFunc(config.LoadOverlay);
// a nil Runner.Overlays disables overlay lookup entirely, equivalent to every
// repo having none.
type OverlayResolver interface {
	Load(repoPath string) (*config.Overlay, error)
}

// DefaultTimeout is the agent wall-clock budget used when a
// task's repo carries no push.yaml runner_timeout override.
const DefaultTimeout = time.Hour

// Runner wires together the backend, worktree manager, project registry,
// and agent supervisor to execute one task end to end.
type Runner struct {
	Backend   contracts.BackendClient
	Worktrees contracts.WorktreeManager
	Registry  ProjectResolver
	Running   *RunningSet
	Completed CompletedSink
	PRHook    PRHook // optional; nil disables post-run PR creation
	// Overlays resolves the optional per-repo push.yaml overlay; nil means
	// every task uses the daemon-wide AllowedTools/AutoMerge/DefaultTimeout.
	Overlays OverlayResolver
	// Events optionally fans a copy of every lifecycle event out to a bus
	// (Redis/NATS) beyond the backend call itself; nil disables fan-out
	// entirely.
	Events contracts.EventSink
	// Certainty optionally scores task content before claiming. A task
	// below certainty.ExecuteThreshold is reported needs_clarification,
	// with the analyzer's top question as the summary, and skipped; it
	// leaves the queue until its owner answers. nil runs every queued
	// task unchecked.
	Certainty *certainty.Analyzer

	MachineID     string
	MachineName   string
	MachineSuffix string

	AgentPath     string
	AllowedTools  []string
	OutputFormat  string
	MaxConcurrent int
	// AutoMerge is the daemon-wide default for whether a finished task's
	// branch gets a pull request opened; a task's push.yaml
	// overlay may override it per repo.
	AutoMerge bool

	// Now is overridable for deterministic tests; defaults to time.Now.
	Now func() time.Time
	// Logf receives one-line diagnostics for conditions that are logged
	// but otherwise silent (registry miss, claim loss, best-effort
	// failures). Defaults to a no-op.
	Logf func(format string, args ...interface{})
	// OnStateChanged is invoked after any state transition that should be
	// reflected in the status file. Optional.
	OnStateChanged func()
	// OnStuck is invoked once per run when the supervisor first detects a
	// stuck phrase in the agent's output. Optional; cmd/push-daemon
	// wires it to the per-task stuck-event log.
	OnStuck func(task contracts.Task, phrase, line string)
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) logf(format string, args ...interface{}) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}

func (r *Runner) notifyStateChanged() {
	if r.OnStateChanged != nil {
		r.OnStateChanged()
	}
}

// publishEvent fans a lifecycle event out to the optional bus, best-effort:
// a fan-out failure is logged, never escalated, since the backend call
// carrying the same event is the authoritative report.
func (r *Runner) publishEvent(ctx context.Context, event *contracts.LifecycleEvent) {
	if r.Events == nil || event == nil {
		return
	}
	if err := r.Events.Publish(ctx, *event); err != nil {
		r.logf("publishing lifecycle event %s: %v", event.Type, err)
	}
}

// Dispatch runs the full gate->claim->prepare->dispatch pipeline for one
// candidate task. It returns promptly once the child is spawned (or once
// the task was gated/dropped/failed before spawn); finalize happens later
// in a background goroutine.
func (r *Runner) Dispatch(ctx context.Context, task contracts.Task) {
	entry, ok := r.gate(ctx, task)
	if !ok {
		return
	}

	claimed, err := r.Backend.Claim(ctx, task.DisplayNumber, r.MachineID, r.MachineName)
	if err != nil {
		r.logf("claim request failed for #%d: %v", task.DisplayNumber, err)
		return
	}
	if !claimed.Claimed {
		// Another machine won the race; drop silently.
		r.logf("task #%d claimed by %s, dropping", task.DisplayNumber, claimed.ClaimedBy)
		return
	}

	timeout, allowedTools, autoMerge := r.resolveOverlay(entry.LocalPath)

	worktreePath, branch, err := r.Worktrees.Create(ctx, entry.LocalPath, task.DisplayNumber, r.MachineSuffix)
	if err != nil {
		r.reportFailed(ctx, task, fmt.Sprintf("creating worktree: %v", err))
		return
	}

	record := contracts.NewRunningTask(task.TaskID, task.DisplayNumber, task.Summary, worktreePath, entry.LocalPath, r.now())
	active := &ActiveTask{Record: record, RepoPath: entry.LocalPath, WorktreePath: worktreePath, Branch: branch, StartedAt: r.now(), Timeout: timeout, AutoMerge: autoMerge}
	if !r.Running.TryAdd(task.DisplayNumber, active) {
		// Gate already checked this; a concurrent Dispatch for the same
		// display number lost the race for the set. Release the worktree
		// we just created and bail rather than double-run.
		_ = r.Worktrees.Remove(ctx, entry.LocalPath, worktreePath)
		return
	}

	req := supervisor.Request{
		AgentPath:     r.AgentPath,
		WorktreePath:  worktreePath,
		TaskID:        task.TaskID,
		DisplayNumber: task.DisplayNumber,
		Prompt:        buildPrompt(task),
		AllowedTools:  allowedTools,
		OutputFormat:  r.OutputFormat,
	}
	if r.OnStuck != nil {
		req.OnStuck = func(phrase, line string) { r.OnStuck(task, phrase, line) }
	}
	sup, err := spawnSupervisor(ctx, req, record)
	if err != nil {
		r.Running.Remove(task.DisplayNumber)
		_ = r.Worktrees.Remove(ctx, entry.LocalPath, worktreePath)
		r.reportFailed(ctx, task, fmt.Sprintf("starting agent: %v", err))
		return
	}
	active.TerminateFunc = sup.Terminate

	startedEvent := &contracts.LifecycleEvent{Type: contracts.EventStarted, Timestamp: r.now(), MachineName: r.MachineName}
	if err := r.Backend.UpdateStatus(ctx, contracts.StatusUpdate{
		DisplayNumber: task.DisplayNumber,
		Status:        contracts.StatusRunning,
		Event:         startedEvent,
	}); err != nil {
		r.logf("reporting running for #%d: %v", task.DisplayNumber, err)
	}
	r.publishEvent(ctx, startedEvent)
	r.notifyStateChanged()

	go r.finalize(ctx, task, active, sup)
}

// resolveOverlay merges the repo's optional push.yaml overlay over the
// daemon-wide defaults. An unreadable overlay is logged and ignored: the
// task still runs, just without per-repo overrides.
func (r *Runner) resolveOverlay(repoPath string) (timeout time.Duration, allowedTools []string, autoMerge bool) {
	timeout = DefaultTimeout
	allowedTools = r.AllowedTools
	autoMerge = r.AutoMerge

	if r.Overlays == nil {
		return timeout, allowedTools, autoMerge
	}
	overlay, err := r.Overlays.Load(repoPath)
	if err != nil {
		r.logf("loading overlay for %s: %v", repoPath, err)
		return timeout, allowedTools, autoMerge
	}
	if overlay == nil {
		return timeout, allowedTools, autoMerge
	}
	if overlay.RunnerTimeout > 0 {
		timeout = overlay.RunnerTimeout
	}
	if len(overlay.AllowedTools) > 0 {
		allowedTools = overlay.AllowedTools
	}
	if overlay.AutoMerge != nil {
		autoMerge = *overlay.AutoMerge
	}
	return timeout, allowedTools, autoMerge
}

// gate applies the pre-claim checks: already-running, concurrency cap, no registered
// path, and path-missing checks. The path-missing case also reports failed
// with a precise reason before returning false.
func (r *Runner) gate(ctx context.Context, task contracts.Task) (config.ProjectEntry, bool) {
	if r.Running.Has(task.DisplayNumber) {
		return config.ProjectEntry{}, false
	}
	if r.MaxConcurrent > 0 && r.Running.Len() >= r.MaxConcurrent {
		return config.ProjectEntry{}, false
	}

	entry, ok, err := r.Registry.Resolve(task.RepoURL, r.now())
	if err != nil {
		r.logf("registry resolve failed for %s: %v", task.RepoURL, err)
		return config.ProjectEntry{}, false
	}
	if !ok {
		// No local path registered: log + skip, task remains queued.
		r.logf("no registered project for repo_url %s, skipping #%d", task.RepoURL, task.DisplayNumber)
		return config.ProjectEntry{}, false
	}

	if info, statErr := os.Stat(entry.LocalPath); statErr != nil || !info.IsDir() {
		r.reportFailed(ctx, task, fmt.Sprintf("registered path %s does not exist", entry.LocalPath))
		return config.ProjectEntry{}, false
	}

	if r.Certainty != nil {
		analysis := r.Certainty.Analyze(task.Content, task.Summary, task.OriginalTranscript)
		if !analysis.Executable() {
			r.reportNeedsClarification(ctx, task, analysis)
			return config.ProjectEntry{}, false
		}
	}

	return entry, true
}

// reportNeedsClarification hands a low-certainty task back to its owner
// instead of claiming it: the status flips to needs_clarification with the
// analyzer's top question, so the task stops coming back on every poll
// until the owner answers.
func (r *Runner) reportNeedsClarification(ctx context.Context, task contracts.Task, analysis certainty.Analysis) {
	r.logf("task #%d certainty %.2f (%s), requesting clarification", task.DisplayNumber, analysis.Score, analysis.Level)
	if err := r.Backend.UpdateStatus(ctx, contracts.StatusUpdate{
		DisplayNumber: task.DisplayNumber,
		Status:        contracts.StatusNeedsClarification,
		Summary:       analysis.TopQuestion(),
	}); err != nil {
		r.logf("reporting needs_clarification for #%d: %v", task.DisplayNumber, err)
	}
	r.notifyStateChanged()
}

// finalize blocks for the child's terminal Result, performs the success or
// failure path, appends a completed-today record, and removes the
// running-task record and worktree.
func (r *Runner) finalize(ctx context.Context, task contracts.Task, active *ActiveTask, sup *supervisor.Supervision) {
	result := sup.Wait()
	completedAt := r.now()
	duration := completedAt.Sub(active.StartedAt)

	switch result.Outcome {
	case supervisor.ExitSuccess:
		r.reportSessionFinished(ctx, task, active, result, completedAt, duration)
	case supervisor.ExitTimeout:
		limit := active.Timeout
		if limit <= 0 {
			limit = DefaultTimeout
		}
		reason := fmt.Sprintf("Task timed out after %ds (limit: %ds)", int(duration.Seconds()), int(limit.Seconds()))
		r.reportOutcome(ctx, task, active, contracts.StatusFailed, reason, nil, completedAt, duration, contracts.OutcomeTimeout)
	case supervisor.ExitShutdown:
		event := &contracts.LifecycleEvent{Type: contracts.EventDaemonShutdown, Timestamp: completedAt, MachineName: r.MachineName}
		r.reportOutcome(ctx, task, active, contracts.StatusFailed, "daemon shutting down", event, completedAt, duration, contracts.OutcomeFailed)
	default: // ExitFailure
		reason := fmt.Sprintf("agent exited with code %d: %s", result.ExitCode, result.StderrTail)
		r.reportOutcome(ctx, task, active, contracts.StatusFailed, reason, nil, completedAt, duration, contracts.OutcomeFailed)
	}

	r.Running.Remove(task.DisplayNumber)
	if err := r.Worktrees.Remove(ctx, active.RepoPath, active.WorktreePath); err != nil {
		r.logf("removing worktree for #%d: %v", task.DisplayNumber, err)
	}
	r.notifyStateChanged()
}

func (r *Runner) reportSessionFinished(ctx context.Context, task contracts.Task, active *ActiveTask, result supervisor.Result, completedAt time.Time, duration time.Duration) {
	prURL := ""
	if r.PRHook != nil && active.AutoMerge {
		prURL = r.PRHook.Run(ctx, active.RepoPath, active.Branch, task)
	}

	summary := fmt.Sprintf("completed in %s on %s", duration.Round(time.Second), r.MachineName)
	event := &contracts.LifecycleEvent{
		Type:        contracts.EventSessionFinished,
		Timestamp:   completedAt,
		MachineName: r.MachineName,
		Summary:     summary,
		SessionID:   result.SessionID,
	}
	if err := r.Backend.UpdateStatus(ctx, contracts.StatusUpdate{
		DisplayNumber: task.DisplayNumber,
		Status:        contracts.StatusSessionFinished,
		Summary:       summary,
		SessionID:     result.SessionID,
		PRURL:         prURL,
		Event:         event,
	}); err != nil {
		r.logf("reporting session_finished for #%d: %v", task.DisplayNumber, err)
	}
	r.publishEvent(ctx, event)

	if r.Completed != nil {
		r.Completed.Append(contracts.CompletedRecord{
			DisplayNumber:   task.DisplayNumber,
			Summary:         task.Summary,
			CompletedAt:     completedAt,
			DurationSeconds: duration.Seconds(),
			Outcome:         contracts.OutcomeSessionFinished,
			SessionID:       result.SessionID,
			PRURL:           prURL,
		})
	}
}

func (r *Runner) reportOutcome(ctx context.Context, task contracts.Task, active *ActiveTask, status contracts.ExecutionStatus, reason string, event *contracts.LifecycleEvent, completedAt time.Time, duration time.Duration, outcome contracts.Outcome) {
	if event == nil {
		event = &contracts.LifecycleEvent{Type: contracts.EventFailed, Timestamp: completedAt, MachineName: r.MachineName, Summary: reason}
	}
	if err := r.Backend.UpdateStatus(ctx, contracts.StatusUpdate{
		DisplayNumber: task.DisplayNumber,
		Status:        status,
		Error:         reason,
		Event:         event,
	}); err != nil {
		r.logf("reporting %s for #%d: %v", status, task.DisplayNumber, err)
	}
	r.publishEvent(ctx, event)

	if r.Completed != nil {
		r.Completed.Append(contracts.CompletedRecord{
			DisplayNumber:   task.DisplayNumber,
			Summary:         task.Summary,
			CompletedAt:     completedAt,
			DurationSeconds: duration.Seconds(),
			Outcome:         outcome,
		})
	}
}

// reportFailed reports a failed status before any supervisor was ever
// spawned (gate and worktree-create failure paths).
func (r *Runner) reportFailed(ctx context.Context, task contracts.Task, reason string) {
	now := r.now()
	event := &contracts.LifecycleEvent{Type: contracts.EventFailed, Timestamp: now, MachineName: r.MachineName, Summary: reason}
	if err := r.Backend.UpdateStatus(ctx, contracts.StatusUpdate{
		DisplayNumber: task.DisplayNumber,
		Status:        contracts.StatusFailed,
		Error:         reason,
		Event:         event,
	}); err != nil {
		r.logf("reporting failed for #%d: %v", task.DisplayNumber, err)
	}
	r.publishEvent(ctx, event)
	if r.Completed != nil {
		r.Completed.Append(contracts.CompletedRecord{
			DisplayNumber: task.DisplayNumber,
			Summary:       task.Summary,
			CompletedAt:   now,
			Outcome:       contracts.OutcomeFailed,
		})
	}
	r.notifyStateChanged()
}

// buildPrompt composes the inline prompt from the task's content plus the
// constant trailer instructing convention-checking, committing, and a clean
// exit.
func buildPrompt(task contracts.Task) string {
	return task.Content + promptTrailer
}
