package statusfile

import (
	"sync"

	"github.com/MasslessAI/push-claude-plugin/internal/contracts"
)

// CompletedLog retains the most recent completed-today records in memory,
// capped the same way contracts.TailRing caps output lines, for the
// "completedToday" status list Writer.Write renders.
type CompletedLog struct {
	mu  sync.Mutex
	cap int
	buf []contracts.CompletedRecord
}

// NewCompletedLog returns a log capped at capacity entries; capacity<=0
// defaults to 10, matching the status file's own cap.
func NewCompletedLog(capacity int) *CompletedLog {
	if capacity <= 0 {
		capacity = 10
	}
	return &CompletedLog{cap: capacity}
}

// Append records one completed task, evicting the oldest entry past cap.
func (l *CompletedLog) Append(record contracts.CompletedRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = append(l.buf, record)
	if len(l.buf) > l.cap {
		l.buf = l.buf[len(l.buf)-l.cap:]
	}
}

// Snapshot returns a copy of the currently retained records, oldest first.
func (l *CompletedLog) Snapshot() []contracts.CompletedRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]contracts.CompletedRecord, len(l.buf))
	copy(out, l.buf)
	return out
}
