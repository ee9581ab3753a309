package supervisor

import (
	"encoding/json"
	"strings"
)

// extractSessionID scans line for a JSON object carrying a session_id
// string; such a line is recognized anywhere in stdout. Returns "" if line is not a
// JSON object or has no session_id field.
func extractSessionID(line string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || trimmed[0] != '{' {
		return ""
	}
	var payload struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return ""
	}
	return payload.SessionID
}
