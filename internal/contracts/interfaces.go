package contracts

import "context"

// ClaimResult is the response to an atomic claim request.
type ClaimResult struct {
	Claimed   bool   `json:"claimed"`
	ClaimedBy string `json:"claimedBy,omitempty"`
}

// StatusUpdate is one write to the backend's status-update endpoint.
type StatusUpdate struct {
	DisplayNumber int
	Status        ExecutionStatus
	Summary       string
	Error         string
	SessionID     string
	PRURL         string
	Event         *LifecycleEvent
}

// BackendClient is the daemon's sole line to the cloud backend.
type BackendClient interface {
	// Poll returns the queued tasks for this machine, carrying heartbeat
	// headers for machine identity and the registered project set.
	Poll(ctx context.Context, machineID, machineName string, repoURLs []string) ([]Task, error)
	// Claim attempts the atomic queued->running transition for one task.
	Claim(ctx context.Context, displayNumber int, machineID, machineName string) (ClaimResult, error)
	// UpdateStatus reports a status transition, optionally with a lifecycle event.
	UpdateStatus(ctx context.Context, update StatusUpdate) error
}

// WorktreeManager creates and removes git worktrees rooted in a repo.
type WorktreeManager interface {
	// Create returns the worktree path and branch name for a task, creating
	// or reusing both as needed.
	Create(ctx context.Context, repoPath string, displayNumber int, suffix string) (worktreePath, branch string, err error)
	// Remove destroys the worktree directory; the branch is left intact.
	Remove(ctx context.Context, repoPath, worktreePath string) error
}

// Decryptor turns an opaque ciphertext field into plaintext, or passes it
// through unchanged on any failure.
type Decryptor interface {
	Decrypt(ciphertextB64 string) (string, bool)
}

// EventSink is an optional fan-out target for lifecycle events, e.g. a
// Redis or NATS bus consumed by other processes watching this machine.
type EventSink interface {
	Publish(ctx context.Context, event LifecycleEvent) error
}
