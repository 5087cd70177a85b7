package scorecard

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
)

// parseFailureComment marks salvaged placeholder entries.
const parseFailureComment = "JSON 파싱 실패로 기본값 사용"

var (
	jsonFenceRe    = regexp.MustCompile("(?i)```json\\s*([\\s\\S]*?)\\s*```")
	genericFenceRe = regexp.MustCompile("```\\s*([\\s\\S]*?)\\s*```")
	arrayRe        = regexp.MustCompile(`\[\s*\{[\s\S]*?\}\s*\]`)
	objectRe       = regexp.MustCompile(`\{\s*"hidx"\s*:\s*"([^"]+)"[^}]*\}`)

	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
	bareKeyRe       = regexp.MustCompile(`(\w+):`)
	bareValueRe     = regexp.MustCompile(`:\s*([^",\[\]{}\s][^",\[\]{}]*?)\s*([,}\]])`)
	quotedIntRe     = regexp.MustCompile(`:\s*"(\d+)"`)
	quotedFloatRe   = regexp.MustCompile(`:\s*"(\d+\.\d+)"`)
	singleQuoteRe   = regexp.MustCompile(`:\s*'([^']*?)'`)
)

// Parse extracts a list of scorecards from a batch re-evaluation response.
// The model may fence the JSON, wrap it in prose, emit a bare object, or
// produce slightly broken syntax, so recovery stages run in order: fenced
// block, structural array scan, single-object wrap, syntax repair, and
// finally per-object salvage that keeps the batch alive with placeholder
// entries. The bool reports whether anything usable was recovered.
func Parse(text string) ([]Scorecard, bool) {
	payload := extractArray(text)
	if payload == "" {
		slog.Error("no JSON array found in response")
		return salvageCards(text)
	}

	if cards, ok := decodeCards(payload); ok {
		return cards, true
	}

	if cards, ok := decodeCards(repairArray(payload)); ok {
		slog.Info("parsed response after JSON repair")
		return cards, true
	}

	return salvageCards(text)
}

// extractArray locates the JSON array payload inside a raw model response.
func extractArray(text string) string {
	text = strings.TrimSpace(text)

	if m := jsonFenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}

	if m := genericFenceRe.FindStringSubmatch(text); m != nil {
		inner := strings.TrimSpace(m[1])
		if strings.HasPrefix(inner, "[") && strings.HasSuffix(inner, "]") {
			return inner
		}
	}

	if m := arrayRe.FindString(text); m != "" {
		return strings.TrimSpace(m)
	}

	// A lone object still counts as a batch of one.
	if m := objectRe.FindString(text); m != "" {
		return "[" + strings.TrimSpace(m) + "]"
	}

	return ""
}

func decodeCards(payload string) ([]Scorecard, bool) {
	var decoded any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return nil, false
	}

	switch v := decoded.(type) {
	case []any:
		cards := make([]Scorecard, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				slog.Warn("skipping non-object entry in response array")
				continue
			}
			cards = append(cards, Scorecard(m))
		}
		return cards, true
	case map[string]any:
		return []Scorecard{Scorecard(v)}, true
	default:
		return nil, false
	}
}

// repairArray fixes the JSON mistakes the model makes most often: trailing
// commas, unquoted keys, unquoted string values, and numbers wrapped in
// quotes. It is a best-effort rewrite applied only after a clean parse
// already failed.
func repairArray(s string) string {
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	s = bareKeyRe.ReplaceAllString(s, `"$1":`)
	s = bareValueRe.ReplaceAllString(s, `: "$1"$2`)
	s = quotedIntRe.ReplaceAllString(s, `: $1`)
	s = quotedFloatRe.ReplaceAllString(s, `: $1`)
	return s
}

// salvageCards regex-extracts every object that carries an identifier.
// Objects that still fail to decode become placeholders so reconciliation
// can keep the records alive instead of dropping the whole batch.
func salvageCards(text string) ([]Scorecard, bool) {
	matches := objectRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		slog.Error("response salvage found no scorecard objects")
		return nil, false
	}

	cards := make([]Scorecard, 0, len(matches))
	for _, m := range matches {
		var card Scorecard
		if err := json.Unmarshal([]byte(m[0]), &card); err == nil {
			cards = append(cards, card)
			continue
		}
		cards = append(cards, Scorecard{
			FieldID:         m[1],
			FieldTotalScore: 50,
			FieldComment:    parseFailureComment,
		})
	}

	slog.Warn("salvaged scorecards from malformed response", "count", len(cards))
	return cards, true
}

// ParseObject extracts the single scorecard object from an individual
// analysis response. The model is instructed to answer with a fenced JSON
// block; prose around the braces and light syntax damage are tolerated.
func ParseObject(text string) (Scorecard, bool) {
	payload := extractObject(text)
	if payload == "" {
		return nil, false
	}

	var card Scorecard
	if err := json.Unmarshal([]byte(payload), &card); err == nil {
		return card, true
	}

	if err := json.Unmarshal([]byte(repairObject(payload)), &card); err == nil {
		slog.Info("parsed analysis response after JSON repair")
		return card, true
	}

	return nil, false
}

func extractObject(text string) string {
	s := strings.TrimSpace(text)

	if m := jsonFenceRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	} else if m := genericFenceRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// repairObject mirrors repairArray for single-object responses, additionally
// converting single-quoted values to double quotes.
func repairObject(s string) string {
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	s = bareKeyRe.ReplaceAllString(s, `"$1":`)
	s = singleQuoteRe.ReplaceAllString(s, `: "$1"`)
	return s
}
