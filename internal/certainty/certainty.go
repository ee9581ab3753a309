// Package certainty scores how actionable a task's content is before the
// daemon commits to executing it. The scoring is deterministic and
// heuristic: signal counting over the task text, no model calls. Tasks
// that score below the execute threshold are pushed back to their owner
// as needs_clarification with a concrete question to answer instead of
// being claimed and run.
package certainty

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Level buckets a score into the daemon's three dispositions.
type Level string

const (
	// LevelHigh (score >= 0.7): execute immediately.
	LevelHigh Level = "high"
	// LevelMedium (0.4 <= score < 0.7): execute, but worth planning first.
	LevelMedium Level = "medium"
	// LevelLow (score < 0.4): request clarification before execution.
	LevelLow Level = "low"
)

const (
	baseScore       = 0.5
	highThreshold   = 0.7
	mediumThreshold = 0.4

	// ExecuteThreshold is the minimum score at which the daemon will claim
	// and run a task rather than hand it back as needs_clarification.
	ExecuteThreshold = mediumThreshold
)

// Reason is one factor that moved the score.
type Reason struct {
	Factor      string
	Delta       float64
	Explanation string
}

// Question is what the daemon would ask the task's owner to resolve a
// low-certainty task. Higher priority sorts first.
type Question struct {
	Question string
	Options  []string
	Priority int
}

// Analysis is the full certainty assessment for one task.
type Analysis struct {
	Score     float64
	Level     Level
	Reasons   []Reason
	Questions []Question
}

// TopQuestion returns the highest-priority clarification question, or a
// generic fallback when scoring found nothing specific to ask.
func (a Analysis) TopQuestion() string {
	if len(a.Questions) > 0 {
		return a.Questions[0].Question
	}
	return "Can you clarify what specifically should be done?"
}

// Executable reports whether the task scored high enough to run.
func (a Analysis) Executable() bool {
	return a.Score >= ExecuteThreshold
}

// actionVerbs are imperative verbs that signal a concrete instruction.
var actionVerbs = map[string]bool{
	"add": true, "create": true, "implement": true, "fix": true,
	"update": true, "remove": true, "delete": true, "rename": true,
	"refactor": true, "migrate": true, "upgrade": true, "install": true,
	"configure": true, "write": true, "modify": true, "change": true,
	"replace": true, "extract": true, "move": true, "copy": true,
	"integrate": true, "connect": true, "disconnect": true, "enable": true,
	"disable": true, "test": true,
}

// uncertaintyMarkers are phrases that signal the speaker had not decided.
var uncertaintyMarkers = []string{
	"maybe", "possibly", "might", "could", "should consider",
	"think about", "explore", "investigate", "look into",
	"try to", "attempt to", "see if", "check if",
	"or something", "or maybe", "not sure", "unclear",
	"somehow", "whatever", "something like", "kind of",
}

var questionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\?`),
	regexp.MustCompile(`\bwhat\s+(should|would|could)\b`),
	regexp.MustCompile(`\bhow\s+(should|would|could|do)\b`),
	regexp.MustCompile(`\bwhich\s+(one|approach|way|method)\b`),
	regexp.MustCompile(`\bis\s+it\s+(better|possible|ok)\b`),
}

// specificityPatterns match concrete code references: file names, function
// definitions, paths, line numbers, issue handles.
var specificityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b[A-Za-z][A-Za-z0-9_]*\.(swift|ts|tsx|py|js|jsx|go|rs|java|kt)\b`),
	regexp.MustCompile(`\bfunc\s+\w+\b|\bfunction\s+\w+\b|\bdef\s+\w+\b`),
	regexp.MustCompile(`\bclass\s+[A-Z][a-zA-Z]+\b`),
	regexp.MustCompile(`[a-zA-Z]+\.[a-zA-Z]+\(\)`),
	regexp.MustCompile(`/[a-zA-Z][a-zA-Z0-9_/\-.]+`),
	regexp.MustCompile(`\b(line|row)\s+\d+\b`),
	regexp.MustCompile(`#\d+`),
}

var scopePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bin\s+(?:the\s+)?(\w+\.\w+|[\w/]+)\b`),
	regexp.MustCompile(`\bfor\s+(?:the\s+)?(\w+)\s+(component|service|module|class|function)\b`),
	regexp.MustCompile(`\bwhen\s+\w+`),
	regexp.MustCompile(`\bonly\s+(for|in|when)\b`),
}

// broadTerms flag a scope too wide to act on without narrowing.
var broadTerms = []string{
	"everything", "all files", "entire", "whole codebase",
	"the system", "performance", "improve",
}

var alternativePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bor\s+\w+\b.*\bor\s+\w+\b`),
	regexp.MustCompile(`\beither\b.*\bor\b`),
	regexp.MustCompile(`option\s*[a-d1-4]`),
	regexp.MustCompile(`\balternative(ly)?\b`),
	regexp.MustCompile(`\bversus\b|\bvs\.?\b`),
}

// Analyzer scores task text. The zero value is ready to use.
type Analyzer struct{}

func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze combines the task's content, summary, and original transcript
// (any of which may be empty) and returns the certainty assessment.
func (Analyzer) Analyze(content, summary, transcript string) Analysis {
	parts := []string{content}
	if summary != "" {
		parts = append(parts, summary)
	}
	if transcript != "" {
		parts = append(parts, transcript)
	}
	full := strings.Join(parts, " ")
	lower := strings.ToLower(full)

	score := baseScore
	var reasons []Reason
	var questions []Question

	apply := func(delta float64, reason *Reason, question *Question) {
		score += delta
		if reason != nil {
			reasons = append(reasons, *reason)
		}
		if question != nil {
			questions = append(questions, *question)
		}
	}

	d, r := checkActionVerbs(lower)
	apply(d, r, nil)

	d, rs := checkUncertaintyMarkers(lower)
	score += d
	reasons = append(reasons, rs...)

	d, r, q := checkQuestions(lower)
	apply(d, r, q)

	d, r = checkSpecificity(full)
	apply(d, r, nil)

	d, r, q = checkScope(lower)
	apply(d, r, q)

	d, r, q = checkLength(content)
	apply(d, r, q)

	d, r, q = checkAlternatives(lower)
	apply(d, r, q)

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	level := LevelLow
	switch {
	case score >= highThreshold:
		level = LevelHigh
	case score >= mediumThreshold:
		level = LevelMedium
	}

	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].Priority > questions[j].Priority
	})

	return Analysis{Score: score, Level: level, Reasons: reasons, Questions: questions}
}

func checkActionVerbs(text string) (float64, *Reason) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0, nil
	}

	clean := func(w string) string { return strings.Trim(w, ".,!?:;") }

	if actionVerbs[clean(words[0])] {
		return 0.15, &Reason{
			Factor:      "action_verb",
			Delta:       0.15,
			Explanation: fmt.Sprintf("starts with clear action verb %q", clean(words[0])),
		}
	}
	limit := len(words)
	if limit > 5 {
		limit = 5
	}
	for _, w := range words[:limit] {
		if actionVerbs[clean(w)] {
			return 0.08, &Reason{
				Factor:      "action_verb",
				Delta:       0.08,
				Explanation: fmt.Sprintf("contains action verb %q", clean(w)),
			}
		}
	}
	return -0.1, &Reason{
		Factor:      "action_verb",
		Delta:       -0.1,
		Explanation: "no clear action verb found",
	}
}

func checkUncertaintyMarkers(text string) (float64, []Reason) {
	var reasons []Reason
	total := 0.0
	for _, marker := range uncertaintyMarkers {
		if strings.Contains(text, marker) {
			total -= 0.1
			reasons = append(reasons, Reason{
				Factor:      "uncertainty_marker",
				Delta:       -0.1,
				Explanation: fmt.Sprintf("contains uncertainty marker %q", marker),
			})
			if total <= -0.3 {
				break
			}
		}
	}
	return total, reasons
}

func checkQuestions(text string) (float64, *Reason, *Question) {
	for _, pattern := range questionPatterns {
		if pattern.MatchString(text) {
			return -0.15, &Reason{
					Factor:      "question_present",
					Delta:       -0.15,
					Explanation: "task contains questions or uncertainty",
				}, &Question{
					Question: "The task seems to ask a question. Can you clarify what action to take?",
					Options:  []string{"Investigate and recommend", "Make a decision for me", "Skip this task"},
					Priority: 2,
				}
		}
	}
	return 0, nil, nil
}

func checkSpecificity(text string) (float64, *Reason) {
	count := 0
	for _, pattern := range specificityPatterns {
		count += len(pattern.FindAllString(text, -1))
	}
	switch {
	case count >= 3:
		return 0.2, &Reason{
			Factor:      "high_specificity",
			Delta:       0.2,
			Explanation: fmt.Sprintf("multiple specific references found (%d)", count),
		}
	case count >= 1:
		return 0.1, &Reason{
			Factor:      "specificity",
			Delta:       0.1,
			Explanation: fmt.Sprintf("contains %d specific reference(s)", count),
		}
	}
	return -0.05, &Reason{
		Factor:      "low_specificity",
		Delta:       -0.05,
		Explanation: "no specific file or function references found",
	}
}

func checkScope(text string) (float64, *Reason, *Question) {
	hasScope := false
	for _, pattern := range scopePatterns {
		if pattern.MatchString(text) {
			hasScope = true
			break
		}
	}
	hasBroad := false
	for _, term := range broadTerms {
		if strings.Contains(text, term) {
			hasBroad = true
			break
		}
	}

	if hasBroad {
		return -0.15, &Reason{
				Factor:      "broad_scope",
				Delta:       -0.15,
				Explanation: "task scope is very broad",
			}, &Question{
				Question: "The task scope seems broad. Can you narrow it down?",
				Options:  []string{"Focus on most critical area", "Start with a specific file", "Analyze first, then decide"},
				Priority: 3,
			}
	}
	if hasScope {
		return 0.1, &Reason{
			Factor:      "clear_scope",
			Delta:       0.1,
			Explanation: "task has well-defined scope",
		}, nil
	}
	return 0, nil, nil
}

func checkLength(content string) (float64, *Reason, *Question) {
	words := len(strings.Fields(content))
	switch {
	case words < 5:
		return -0.2, &Reason{
				Factor:      "very_short",
				Delta:       -0.2,
				Explanation: fmt.Sprintf("task description very short (%d words)", words),
			}, &Question{
				Question: "Can you provide more detail about what specifically needs to be done?",
				Priority: 4,
			}
	case words < 10:
		return -0.05, &Reason{
			Factor:      "short",
			Delta:       -0.05,
			Explanation: fmt.Sprintf("task description brief (%d words)", words),
		}, nil
	case words > 50:
		return 0.1, &Reason{
			Factor:      "detailed",
			Delta:       0.1,
			Explanation: "task has detailed description",
		}, nil
	}
	return 0, nil, nil
}

func checkAlternatives(text string) (float64, *Reason, *Question) {
	for _, pattern := range alternativePatterns {
		if pattern.MatchString(text) {
			return -0.15, &Reason{
					Factor:      "multiple_alternatives",
					Delta:       -0.15,
					Explanation: "task presents multiple alternatives",
				}, &Question{
					Question: "Which approach should I take?",
					Priority: 5,
				}
		}
	}
	return 0, nil, nil
}
