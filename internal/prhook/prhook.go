// Package prhook implements the post-run pull-request hook: once a
// task finishes successfully, push its branch if it carries commits the
// default branch doesn't have, then ask an external tool to open a pull
// request. Every failure (nothing to push, gh absent, PR already exists)
// is logged and swallowed; PR creation is best-effort and never fails a task.
package prhook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MasslessAI/push-claude-plugin/internal/contracts"
	"github.com/MasslessAI/push-claude-plugin/internal/logging"
	"github.com/MasslessAI/push-claude-plugin/internal/runner"
)

var _ runner.PRHook = (*Hook)(nil)

// Runner executes a git or gh command rooted in dir, returning combined
// output. Satisfied by worktree.GitRunner for git invocations; a separate
// implementation backs `gh`.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

const (
	deadline       = 30 * time.Second
	maxPushRetries = 3
)

// Hook implements runner.PRHook.
type Hook struct {
	Git           Runner
	GH            Runner
	DefaultBranch string // falls back to "main" if empty

	CommandLog *logging.CommandLog // optional command transcript

	Now func() time.Time
}

func (h *Hook) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Hook) defaultBranch() string {
	if h.DefaultBranch != "" {
		return h.DefaultBranch
	}
	return "main"
}

// Run pushes branch (retrying transient failures within the push
// tracker's budget) and, on success, asks gh to open a PR. It always returns
// promptly with either a PR URL or "", never an error: PR creation is
// best-effort.
func (h *Hook) Run(ctx context.Context, repoPath, branch string, task contracts.Task) string {
	if branch == "" {
		return ""
	}

	hasCommits, err := h.hasUnmergedCommits(ctx, repoPath, branch)
	if err != nil || !hasCommits {
		return ""
	}

	if err := h.pushWithRetry(ctx, repoPath, branch); err != nil {
		return ""
	}

	return h.createPR(ctx, repoPath, branch, task)
}

func (h *Hook) hasUnmergedCommits(ctx context.Context, repoPath, branch string) (bool, error) {
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	out, err := h.run(runCtx, "git", h.Git, repoPath, []string{"rev-list", "--count", h.defaultBranch() + ".." + branch})
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "0" && strings.TrimSpace(out) != "", nil
}

func (h *Hook) pushWithRetry(ctx context.Context, repoPath, branch string) error {
	tracker := newPushTracker(branch, maxPushRetries)
	for {
		if err := tracker.nextAttempt(); err != nil {
			return tracker.failure()
		}

		runCtx, cancel := context.WithTimeout(ctx, deadline)
		_, err := h.run(runCtx, "git", h.Git, repoPath, []string{"push", "-u", "origin", branch})
		cancel()
		if err == nil {
			tracker.succeed()
			return nil
		}
		tracker.fail(err, isPermanentPushError(err))
	}
}

func (h *Hook) createPR(ctx context.Context, repoPath, branch string, task contracts.Task) string {
	title, body := buildPRTitleAndBody(task)
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	out, err := h.run(runCtx, "gh", h.GH, repoPath, []string{"pr", "create", "--head", branch, "--title", title, "--body", body})
	if err != nil {
		// Absent binary, already-exists, no-permission: all best-effort.
		return ""
	}
	return firstLine(out)
}

func (h *Hook) run(ctx context.Context, tool string, runner Runner, dir string, args []string) (string, error) {
	if runner == nil {
		return "", fmt.Errorf("no %s runner configured", tool)
	}
	start := h.now()
	out, err := runner.Run(ctx, dir, args...)
	_ = h.CommandLog.Record(tool, args, out, err, start)
	return out, err
}

// buildPRTitleAndBody derives a PR title and body from the task's own
// summary and content.
func buildPRTitleAndBody(task contracts.Task) (string, string) {
	title := task.Summary
	if title == "" {
		title = fmt.Sprintf("Task #%d", task.DisplayNumber)
	}
	body := task.Content
	if body == "" {
		body = title
	}
	return title, body
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func isPermanentPushError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rejected") || strings.Contains(msg, "permission denied") || strings.Contains(msg, "not found")
}
