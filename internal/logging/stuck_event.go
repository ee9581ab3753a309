package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// StuckEventEntry records one stuck-phrase detection or idle declaration
// for a task, appended to a JSONL log so an operator can correlate the
// daemon's local status with what the agent was doing at the time.
type StuckEventEntry struct {
	Timestamp     string `json:"timestamp"`
	Level         string `json:"level"`
	Component     string `json:"component"`
	TaskID        string `json:"task_id,omitempty"`
	DisplayNumber int    `json:"display_number"`
	Kind          string `json:"kind"`
	Phrase        string `json:"phrase,omitempty"`
	Line          string `json:"line,omitempty"`
	IdleSeconds   int    `json:"idle_seconds,omitempty"`
}

// AppendStuckEvent appends one entry to logPath, creating parent
// directories as needed. Timestamp, level, and component default to
// now/warn/supervisor when unset; stuck and idle surfaces are warnings,
// never errors, since neither by itself fails the task.
func AppendStuckEvent(logPath string, entry StuckEventEntry) error {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if entry.Level == "" {
		entry.Level = LevelWarn.String()
	}
	if entry.Component == "" {
		entry.Component = "supervisor"
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return err
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = file.Write(append(payload, '\n'))
	return err
}
