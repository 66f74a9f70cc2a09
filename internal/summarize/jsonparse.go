package summarize

import (
	"encoding/json"
	"regexp"
	"strings"
)

// The oracle is instructed to answer {"summary": "..."} but its output
// drifts: markdown fences, prose prefixes, trailing commas. Parsing is
// therefore layered — strict, repaired, then a relaxed regex pull —
// and only when all three fail is the summary reported missing.

var (
	fenceRe         = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	summaryFieldRe  = regexp.MustCompile(`(?s)"summary"\s*:\s*("(?:[^"\\]|\\.)*")`)
)

type summaryPayload struct {
	Summary string `json:"summary"`
}

// ParseSummary extracts the summary string from raw oracle output.
// The second return value is false when no summary could be recovered.
func ParseSummary(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	// 1. Strict parse.
	if s, ok := tryUnmarshal(raw); ok {
		return s, true
	}

	// 2. Repair pass: strip fences, cut to the outermost object, drop
	// trailing commas.
	repaired := raw
	if m := fenceRe.FindStringSubmatch(repaired); m != nil {
		repaired = strings.TrimSpace(m[1])
	}
	if start, end := strings.Index(repaired, "{"), strings.LastIndex(repaired, "}"); start >= 0 && end > start {
		repaired = repaired[start : end+1]
	}
	repaired = trailingCommaRe.ReplaceAllString(repaired, "$1")
	if s, ok := tryUnmarshal(repaired); ok {
		return s, true
	}

	// 3. Relaxed: pull the summary field out with a regex and unquote.
	if m := summaryFieldRe.FindStringSubmatch(raw); m != nil {
		var s string
		if err := json.Unmarshal([]byte(m[1]), &s); err == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), true
		}
	}

	return "", false
}

func tryUnmarshal(s string) (string, bool) {
	var payload summaryPayload
	if err := json.Unmarshal([]byte(s), &payload); err != nil {
		// The oracle occasionally wraps the object in a one-element array.
		var list []summaryPayload
		if err := json.Unmarshal([]byte(s), &list); err != nil || len(list) == 0 {
			return "", false
		}
		payload = list[0]
	}
	summary := strings.TrimSpace(payload.Summary)
	return summary, summary != ""
}
