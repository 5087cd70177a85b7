package scorecard

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Wire field names shared by prompts, model responses and reports.
const (
	FieldID         = "hidx"
	FieldTotalScore = "total_score"
	FieldComment    = "reanalysis_comment"
)

// Categories lists the scored category objects in report order.
var Categories = []string{
	"location_accessibility",
	"building_quality",
	"living_convenience",
	"price_value",
}

// categoryTotals maps each category object to its subtotal key.
var categoryTotals = map[string]string{
	"location_accessibility": "location_total",
	"building_quality":       "building_total",
	"living_convenience":     "convenience_total",
	"price_value":            "price_total",
}

// TotalKey returns the subtotal key used inside a category object, e.g.
// "location_total" for "location_accessibility". Unknown categories return "".
func TotalKey(category string) string {
	return categoryTotals[category]
}

// Scorecard is one property's AI evaluation, keyed by the wire field names.
// The model is asked to return every value as a string, and it does not
// always comply either way, so values are stored as decoded and numeric
// fields are coerced on read.
type Scorecard map[string]any

// ID returns the property identifier the scorecard claims to describe.
func (s Scorecard) ID() string {
	v, ok := s[FieldID]
	if !ok {
		return ""
	}
	return AsString(v)
}

// TotalScore returns the 0-100 total, or 0 when missing or unreadable.
func (s Scorecard) TotalScore() int {
	n, _ := AsInt(s[FieldTotalScore])
	return n
}

// SetTotalScore overwrites the 0-100 total.
func (s Scorecard) SetTotalScore(n int) {
	s[FieldTotalScore] = n
}

// Category returns the named category object, or nil when absent.
func (s Scorecard) Category(name string) map[string]any {
	m, _ := s[name].(map[string]any)
	return m
}

// CategoryTotal returns the subtotal of the named category, or 0 when the
// category or its total is missing or unreadable.
func (s Scorecard) CategoryTotal(name string) int {
	m := s.Category(name)
	if m == nil {
		return 0
	}
	n, _ := AsInt(m[TotalKey(name)])
	return n
}

// Merge overwrites s with every top-level key from other.
func (s Scorecard) Merge(other Scorecard) {
	for k, v := range other {
		s[k] = v
	}
}

// Clone returns a deep copy of the scorecard.
func (s Scorecard) Clone() Scorecard {
	if s == nil {
		return nil
	}
	out := make(Scorecard, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		l := make([]any, len(t))
		for i, e := range t {
			l[i] = cloneValue(e)
		}
		return l
	case []string:
		return append([]string(nil), t...)
	case []int:
		return append([]int(nil), t...)
	default:
		return v
	}
}

// CoerceScores converts total_score and every score/total value inside the
// category objects to int, tolerating floats and numeric strings. Values
// that cannot be read as numbers are left alone and logged.
func (s Scorecard) CoerceScores() {
	if v, ok := s[FieldTotalScore]; ok {
		if n, ok := AsInt(v); ok {
			s[FieldTotalScore] = n
		} else {
			slog.Warn("score value is not numeric", "field", FieldTotalScore, "value", v)
		}
	}
	for _, category := range Categories {
		m := s.Category(category)
		if m == nil {
			continue
		}
		for key, v := range m {
			if !strings.Contains(key, "score") && !strings.Contains(key, "total") {
				continue
			}
			if n, ok := AsInt(v); ok {
				m[key] = n
			} else {
				slog.Warn("score value is not numeric", "field", category+"."+key, "value", v)
			}
		}
	}
}

// AsInt reads v as an integer, accepting ints, floats and numeric strings.
// Fractional values are truncated.
func AsInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	case string:
		t := strings.TrimSpace(n)
		if t == "" {
			return 0, false
		}
		if i, err := strconv.Atoi(t); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return int(f), true
		}
	}
	return 0, false
}

// AsFloat reads v as a float, accepting ints, floats and numeric strings.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		t := strings.TrimSpace(n)
		if t == "" {
			return 0, false
		}
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// AsString renders v the way the wire format expects identifiers: JSON
// numbers that arrive as integral floats lose the trailing ".0".
func AsString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// Fallback returns the neutral scorecard recorded when individual analysis
// fails, so downstream ranking still has usable numbers. Values are strings
// because the prompt asks the model to quote every value.
func Fallback() Scorecard {
	return Scorecard{
		FieldTotalScore: "50",
		"location_accessibility": map[string]any{
			"gwanghwamun_score": "8", "gwanghwamun_comment": "API 분석 실패",
			"amenities_score": "8", "amenities_comment": "API 분석 실패",
			"transportation_score": "8", "transportation_comment": "API 분석 실패",
			"location_total": "24",
		},
		"building_quality": map[string]any{
			"condition_score": "8", "condition_comment": "API 분석 실패",
			"space_score": "5", "space_comment": "API 분석 실패",
			"floor_score": "3", "floor_comment": "API 분석 실패",
			"building_total": "16",
		},
		"living_convenience": map[string]any{
			"appliances_score": "4", "appliances_comment": "API 분석 실패",
			"furniture_score": "3", "furniture_comment": "API 분석 실패",
			"convenience_total": "7",
		},
		"price_value": map[string]any{
			"market_score": "5", "market_comment": "API 분석 실패",
			"extra_cost_score": "3", "extra_cost_comment": "API 분석 실패",
			"price_total": "8",
		},
		"credibility": map[string]any{
			"fake_possibility": "보통", "credibility_comment": "API 분석 실패",
		},
		"summary": map[string]any{
			"pros": []any{"API 분석 실패"}, "cons": []any{"API 분석 실패"},
			"recommendation": "API 분석 실패",
		},
		FieldComment: "개별 분석 실패로 재평가 정보 없음",
	}
}
