// Package worktree manages the daemon's git-worktree lifecycle: one
// worktree per task, named by a branch that survives across runs so
// committed work is never lost.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MasslessAI/push-claude-plugin/internal/contracts"
)

const gitDeadline = 30 * time.Second

// Runner executes a git command rooted in dir and returns combined output.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// Manager implements contracts.WorktreeManager by shelling out to `git
// worktree`; no VCS library implements the worktree porcelain, so the git
// binary is the only practical backend.
type Manager struct {
	runner Runner
}

var _ contracts.WorktreeManager = (*Manager)(nil)

func New(runner Runner) *Manager {
	if runner == nil {
		runner = GitRunner{}
	}
	return &Manager{runner: runner}
}

// BranchName returns the per-task branch name.
func BranchName(displayNumber int, suffix string) string {
	return fmt.Sprintf("push-%d-%s", displayNumber, suffix)
}

// WorktreePath returns the sibling-of-repo worktree directory for a branch.
func WorktreePath(repoPath, branch string) string {
	return filepath.Join(filepath.Dir(repoPath), branch)
}

// Create materializes a worktree for the task's branch, reusing an
// existing directory if present. It returns the worktree
// path and the branch name.
func (m *Manager) Create(ctx context.Context, repoPath string, displayNumber int, suffix string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitDeadline)
	defer cancel()

	branch := BranchName(displayNumber, suffix)
	path := WorktreePath(repoPath, branch)

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return path, branch, nil
	}

	_, err := m.runner.Run(ctx, repoPath, "worktree", "add", "-b", branch, path)
	if err == nil {
		return path, branch, nil
	}

	// Branch already exists from a prior run on this machine: retry
	// without -b, attaching the worktree to the existing branch.
	if isBranchExistsError(err) {
		if _, retryErr := m.runner.Run(ctx, repoPath, "worktree", "add", path, branch); retryErr != nil {
			return "", "", fmt.Errorf("creating worktree for existing branch %s: %w", branch, retryErr)
		}
		return path, branch, nil
	}

	return "", "", fmt.Errorf("creating worktree for branch %s: %w", branch, err)
}

// Remove destroys the worktree directory; the branch is left intact so a
// later run on the same task can replay commits through a fresh worktree.
func (m *Manager) Remove(ctx context.Context, repoPath, worktreePath string) error {
	ctx, cancel := context.WithTimeout(ctx, gitDeadline)
	defer cancel()

	if _, err := os.Stat(worktreePath); os.IsNotExist(err) {
		return nil
	}

	_, err := m.runner.Run(ctx, repoPath, "worktree", "remove", worktreePath, "--force")
	if err != nil {
		return fmt.Errorf("removing worktree %s: %w", worktreePath, err)
	}
	return nil
}

func isBranchExistsError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "already used by worktree")
}
