package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAppendStuckEventWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "events", "stuck_events.jsonl")
	if err := AppendStuckEvent(logPath, StuckEventEntry{
		TaskID:        "t-427",
		DisplayNumber: 427,
		Kind:          "stuck",
		Phrase:        "waiting for permission",
		Line:          "Waiting for permission to edit files (y/n)",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := strings.TrimSpace(string(content))
	if err := ValidateLogLine([]byte(line)); err != nil {
		t.Fatalf("stuck event must conform to the log schema: %v", err)
	}

	entry := map[string]interface{}{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if entry["level"] != "warn" {
		t.Fatalf("stuck detections default to warn, got %v", entry["level"])
	}
	if entry["component"] != "supervisor" {
		t.Fatalf("expected supervisor component default, got %v", entry["component"])
	}
	if content[len(content)-1] != '\n' {
		t.Fatal("expected newline-terminated jsonl")
	}
}

func TestAppendStuckEventIncludesIdleDetails(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "stuck_events.jsonl")
	if err := AppendStuckEvent(logPath, StuckEventEntry{
		DisplayNumber: 427,
		Kind:          "idle",
		IdleSeconds:   720,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	entry := map[string]interface{}{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(content))), &entry); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if entry["kind"] != "idle" {
		t.Fatalf("expected kind=idle, got %v", entry["kind"])
	}
	if entry["idle_seconds"].(float64) != 720 {
		t.Fatalf("expected idle_seconds=720, got %v", entry["idle_seconds"])
	}
}

func TestAppendStuckEventAppendsAcrossCalls(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "stuck_events.jsonl")
	for i := 0; i < 3; i++ {
		if err := AppendStuckEvent(logPath, StuckEventEntry{DisplayNumber: i, Kind: "stuck"}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 appended lines, got %d", len(lines))
	}
}
