package logging

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// requiredLineFields are the identity fields every daemon log line carries,
// whichever file it lands in.
var requiredLineFields = []string{"timestamp", "level", "component"}

var knownLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ValidateLogLine checks that line is a single JSON object carrying the
// daemon's identity fields: an RFC3339 timestamp, a known level, and a
// non-empty component. Consumers tailing the log files rely on this shape.
func ValidateLogLine(line []byte) error {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return fmt.Errorf("log line is empty")
	}

	entry := map[string]interface{}{}
	if err := json.Unmarshal([]byte(trimmed), &entry); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}

	for _, field := range requiredLineFields {
		value, ok := entry[field]
		if !ok {
			return fmt.Errorf("missing required field %q", field)
		}
		raw, ok := value.(string)
		if !ok || strings.TrimSpace(raw) == "" {
			return fmt.Errorf("required field %q must be a non-empty string", field)
		}
	}

	ts := entry["timestamp"].(string)
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", ts, err)
	}
	if !knownLevels[entry["level"].(string)] {
		return fmt.Errorf("unknown level %q", entry["level"])
	}

	return nil
}
