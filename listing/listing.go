package listing

import (
	"strconv"
	"strings"

	"peterpan-analyzer/scorecard"
)

// Merged-view keys for the analysis results a Record carries in typed form.
const (
	keyRank        = "rank"
	keyPercentiles = "percentile_scores"
	keyWeighted    = "weighted_percentile_score"
	keyRounds      = "score_rounds"
	keyVariance    = "score_variance"
	keyConverged   = "is_converged"
	keyError       = "ai_analysis_error"
)

// PercentileProfile holds a property's standing relative to the whole result
// set, one percentile per score series plus the weighted blend.
type PercentileProfile struct {
	Location    float64
	Building    float64
	Convenience float64
	Price       float64
	Total       float64
	Weighted    float64
}

// Record is one property flowing through the pipeline. Vendor API fields and
// scraped detail-page fields live in Fields as a nested map; everything the
// scoring and ranking stages compute on is typed.
type Record struct {
	ID     string
	Fields map[string]any

	Scorecard   scorecard.Scorecard
	Percentiles *PercentileProfile
	Rank        int

	RoundScores   []int
	ScoreVariance float64
	Converged     bool

	AnalysisError  string
	ReanalysisNote string
}

// New creates a Record for the given identifier. A nil fields map is
// replaced with an empty one.
func New(id string, fields map[string]any) *Record {
	if fields == nil {
		fields = map[string]any{}
	}
	return &Record{ID: id, Fields: fields}
}

// TotalScore returns the scorecard total, or 0 when the record has no
// scorecard yet.
func (r *Record) TotalScore() int {
	if r.Scorecard == nil {
		return 0
	}
	return r.Scorecard.TotalScore()
}

// Clone returns a deep copy. Re-evaluation rounds mutate their input, so
// each round works on clones of the original records.
func (r *Record) Clone() *Record {
	out := *r
	out.Fields = copyMap(r.Fields)
	out.Scorecard = r.Scorecard.Clone()
	if r.Percentiles != nil {
		p := *r.Percentiles
		out.Percentiles = &p
	}
	out.RoundScores = append([]int(nil), r.RoundScores...)
	return &out
}

// ApplyScorecard merges card into the record's scorecard. The identifier is
// dropped (the record already carries it) and the reanalysis comment is
// lifted into the typed field. The card is consumed and must not be reused.
func (r *Record) ApplyScorecard(card scorecard.Scorecard) {
	if card == nil {
		return
	}
	if v, ok := card[scorecard.FieldComment]; ok {
		if s := scorecard.AsString(v); s != "" {
			r.ReanalysisNote = s
		}
		delete(card, scorecard.FieldComment)
	}
	delete(card, scorecard.FieldID)
	if r.Scorecard == nil {
		r.Scorecard = scorecard.Scorecard{}
	}
	r.Scorecard.Merge(card)
}

// Merged returns the record as one nested map: vendor and scraped fields,
// scorecard keys at the top level, and the computed analysis fields. This is
// the shape prompts serialize and the report writer reads dot-paths against.
func (r *Record) Merged() map[string]any {
	out := copyMap(r.Fields)
	for k, v := range r.Scorecard {
		out[k] = copyValue(v)
	}
	out[scorecard.FieldID] = r.ID
	if r.Rank > 0 {
		out[keyRank] = r.Rank
	}
	if r.Percentiles != nil {
		out[keyPercentiles] = map[string]any{
			"location_percentile":    r.Percentiles.Location,
			"building_percentile":    r.Percentiles.Building,
			"convenience_percentile": r.Percentiles.Convenience,
			"price_percentile":       r.Percentiles.Price,
			"total_percentile":       r.Percentiles.Total,
		}
		out[keyWeighted] = r.Percentiles.Weighted
	}
	if len(r.RoundScores) > 0 {
		out[keyRounds] = append([]int(nil), r.RoundScores...)
		out[keyVariance] = r.ScoreVariance
		out[keyConverged] = r.Converged
	}
	if r.AnalysisError != "" {
		out[keyError] = r.AnalysisError
	}
	if r.ReanalysisNote != "" {
		out[scorecard.FieldComment] = r.ReanalysisNote
	}
	return out
}

// FromMerged rebuilds a Record from a nested map in the Merged shape,
// pulling the identifier, scorecard keys and computed fields back out of the
// map. It is the inverse the checkpoint loader relies on.
func FromMerged(m map[string]any) *Record {
	fields := copyMap(m)
	rec := &Record{Fields: fields}

	if v, ok := fields[scorecard.FieldID]; ok {
		rec.ID = scorecard.AsString(v)
		delete(fields, scorecard.FieldID)
	}

	card := scorecard.Scorecard{}
	cardKeys := append([]string{scorecard.FieldTotalScore, "credibility", "summary"}, scorecard.Categories...)
	for _, key := range cardKeys {
		if v, ok := fields[key]; ok {
			card[key] = v
			delete(fields, key)
		}
	}
	if len(card) > 0 {
		rec.Scorecard = card
	}

	if v, ok := fields[keyRank]; ok {
		if n, ok := scorecard.AsInt(v); ok {
			rec.Rank = n
		}
		delete(fields, keyRank)
	}

	if v, ok := fields[keyPercentiles]; ok {
		if m, ok := v.(map[string]any); ok {
			p := &PercentileProfile{}
			p.Location, _ = scorecard.AsFloat(m["location_percentile"])
			p.Building, _ = scorecard.AsFloat(m["building_percentile"])
			p.Convenience, _ = scorecard.AsFloat(m["convenience_percentile"])
			p.Price, _ = scorecard.AsFloat(m["price_percentile"])
			p.Total, _ = scorecard.AsFloat(m["total_percentile"])
			rec.Percentiles = p
		}
		delete(fields, keyPercentiles)
	}
	if v, ok := fields[keyWeighted]; ok {
		if f, ok := scorecard.AsFloat(v); ok {
			if rec.Percentiles == nil {
				rec.Percentiles = &PercentileProfile{}
			}
			rec.Percentiles.Weighted = f
		}
		delete(fields, keyWeighted)
	}

	if v, ok := fields[keyRounds]; ok {
		rec.RoundScores = asIntSlice(v)
		delete(fields, keyRounds)
	}
	if v, ok := fields[keyVariance]; ok {
		rec.ScoreVariance, _ = scorecard.AsFloat(v)
		delete(fields, keyVariance)
	}
	if v, ok := fields[keyConverged]; ok {
		rec.Converged = asBool(v)
		delete(fields, keyConverged)
	}

	if v, ok := fields[keyError]; ok {
		rec.AnalysisError = scorecard.AsString(v)
		delete(fields, keyError)
	}
	if v, ok := fields[scorecard.FieldComment]; ok {
		rec.ReanalysisNote = scorecard.AsString(v)
		delete(fields, scorecard.FieldComment)
	}

	return rec
}

// Lookup walks a dot-separated path through nested maps: "price.deposit"
// reads m["price"]["deposit"].
func Lookup(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set writes a value at a dot-separated path, creating intermediate maps as
// needed. Existing non-map values along the path are replaced.
func Set(m map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := m
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

// Nest converts a flat map keyed by dot-separated paths into nested maps.
func Nest(flat map[string]any) map[string]any {
	out := map[string]any{}
	for key, value := range flat {
		Set(out, key, value)
	}
	return out
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		l := make([]any, len(t))
		for i, e := range t {
			l[i] = copyValue(e)
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

// asIntSlice reads round scores whether they come from memory ([]int), JSON
// ([]any) or a report cell ("80, 90").
func asIntSlice(v any) []int {
	switch t := v.(type) {
	case []int:
		return append([]int(nil), t...)
	case int:
		return []int{t}
	case []any:
		out := make([]int, 0, len(t))
		for _, e := range t {
			if n, ok := scorecard.AsInt(e); ok {
				out = append(out, n)
			}
		}
		return out
	case string:
		var out []int
		for _, part := range strings.Split(t, ",") {
			if n, ok := scorecard.AsInt(strings.TrimSpace(part)); ok {
				out = append(out, n)
			}
		}
		return out
	}
	return nil
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(t)))
		return err == nil && b
	}
	return false
}
