package contracts

import "time"

// LifecycleEventType is the type field of a LifecycleEvent sent to the backend.
type LifecycleEventType string

const (
	EventStarted         LifecycleEventType = "started"
	EventSessionFinished LifecycleEventType = "session_finished"
	EventFailed          LifecycleEventType = "failed"
	EventDaemonShutdown  LifecycleEventType = "daemon_shutdown"
)

// LifecycleEvent accompanies a status update sent to the backend.
type LifecycleEvent struct {
	Type        LifecycleEventType `json:"type"`
	Timestamp   time.Time          `json:"timestamp"`
	MachineName string             `json:"machineName"`
	Summary     string             `json:"summary,omitempty"`
	SessionID   string             `json:"sessionId,omitempty"`
}

// Outcome is the terminal classification of a completed-today record.
type Outcome string

const (
	OutcomeSessionFinished Outcome = "session_finished"
	OutcomeFailed          Outcome = "failed"
	OutcomeTimeout         Outcome = "timeout"
)

// CompletedRecord is retained in memory for the "completed today" status list.
type CompletedRecord struct {
	DisplayNumber   int       `json:"displayNumber"`
	Summary         string    `json:"summary"`
	CompletedAt     time.Time `json:"completedAt"`
	DurationSeconds float64   `json:"durationSeconds"`
	Outcome         Outcome   `json:"outcome"`
	SessionID       string    `json:"sessionId,omitempty"`
	PRURL           string    `json:"prUrl,omitempty"`
}
