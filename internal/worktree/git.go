package worktree

import (
	"context"
	"fmt"
	"os/exec"
)

// GitRunner is the concrete Runner backed by the git binary on PATH.
type GitRunner struct{}

func (GitRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %v: %w: %s", args, err, string(out))
	}
	return string(out), nil
}
