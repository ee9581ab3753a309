package supervisor

import "strings"

// stuckPhrases is the fixed set of case-insensitive phrases indicating the
// agent is waiting on interactive input. The first match wins;
// subsequent matches on the same run are de-duplicated by the caller,
// which acts only on the first detection of a run.
var stuckPhrases = []string{
	"waiting for permission",
	"y/n",
	"press enter",
	"plan ready for approval",
	"confirm:",
}

// detectStuckPhrase returns the first matching phrase in line, or "" if none
// match.
func detectStuckPhrase(line string) string {
	lower := strings.ToLower(line)
	for _, phrase := range stuckPhrases {
		if strings.Contains(lower, phrase) {
			return phrase
		}
	}
	return ""
}
