package listing

import (
	"testing"

	"peterpan-analyzer/scorecard"
)

func TestMergedLayersScorecardOverFields(t *testing.T) {
	rec := New("h1", map[string]any{
		"price": map[string]any{"deposit": 150000000},
	})
	rec.Scorecard = scorecard.Scorecard{
		scorecard.FieldTotalScore: 85,
		"summary":                 map[string]any{"recommendation": "직장인 추천"},
	}
	rec.Rank = 3
	rec.Percentiles = &PercentileProfile{Total: 91.7, Weighted: 88.25}
	rec.RoundScores = []int{80, 90}
	rec.ScoreVariance = 25.0
	rec.ReanalysisNote = "다중 라운드 재평가 완료 (라운드: 2, 분산: 25.00)"

	m := rec.Merged()

	if m["hidx"] != "h1" {
		t.Errorf("hidx = %v", m["hidx"])
	}
	if m["total_score"] != 85 {
		t.Errorf("total_score = %v", m["total_score"])
	}
	if m["rank"] != 3 {
		t.Errorf("rank = %v", m["rank"])
	}
	if v, ok := Lookup(m, "percentile_scores.total_percentile"); !ok || v != 91.7 {
		t.Errorf("total_percentile = %v, %v", v, ok)
	}
	if m["weighted_percentile_score"] != 88.25 {
		t.Errorf("weighted = %v", m["weighted_percentile_score"])
	}
	if m["is_converged"] != false {
		t.Errorf("is_converged = %v", m["is_converged"])
	}
	if v, ok := Lookup(m, "price.deposit"); !ok || v != 150000000 {
		t.Errorf("deposit = %v, %v", v, ok)
	}
}

func TestMergedOmitsUnsetAnalysisFields(t *testing.T) {
	m := New("h2", nil).Merged()

	for _, key := range []string{"rank", "percentile_scores", "score_rounds", "ai_analysis_error", "reanalysis_comment"} {
		if _, ok := m[key]; ok {
			t.Errorf("unset field %q present in merged view", key)
		}
	}
}

func TestFromMergedInvertsMerged(t *testing.T) {
	rec := New("h3", map[string]any{
		"location": map[string]any{"address": map[string]any{"text": "서울 종로구"}},
	})
	rec.Scorecard = scorecard.Scorecard{
		scorecard.FieldTotalScore: 77,
		"location_accessibility":  map[string]any{"location_total": 30},
	}
	rec.Rank = 1
	rec.Percentiles = &PercentileProfile{Location: 50.0, Weighted: 61.5}
	rec.RoundScores = []int{70, 80, 81}
	rec.ScoreVariance = 24.67
	rec.Converged = false
	rec.AnalysisError = "JSON 파싱 실패"
	rec.ReanalysisNote = "초기 분석 결과, 재평가 대기 중"

	got := FromMerged(rec.Merged())

	if got.ID != "h3" {
		t.Errorf("ID = %q", got.ID)
	}
	if got.TotalScore() != 77 {
		t.Errorf("total = %d", got.TotalScore())
	}
	if got.Scorecard.CategoryTotal("location_accessibility") != 30 {
		t.Errorf("location total = %d", got.Scorecard.CategoryTotal("location_accessibility"))
	}
	if got.Rank != 1 {
		t.Errorf("rank = %d", got.Rank)
	}
	if got.Percentiles == nil || got.Percentiles.Location != 50.0 || got.Percentiles.Weighted != 61.5 {
		t.Errorf("percentiles = %+v", got.Percentiles)
	}
	if len(got.RoundScores) != 3 || got.RoundScores[2] != 81 {
		t.Errorf("round scores = %v", got.RoundScores)
	}
	if got.ScoreVariance != 24.67 {
		t.Errorf("variance = %v", got.ScoreVariance)
	}
	if got.AnalysisError != "JSON 파싱 실패" {
		t.Errorf("analysis error = %q", got.AnalysisError)
	}
	if got.ReanalysisNote != "초기 분석 결과, 재평가 대기 중" {
		t.Errorf("note = %q", got.ReanalysisNote)
	}
	// Typed fields must not linger in the nested map.
	for _, key := range []string{"hidx", "total_score", "rank", "percentile_scores", "score_rounds", "reanalysis_comment"} {
		if _, ok := got.Fields[key]; ok {
			t.Errorf("key %q not extracted from fields", key)
		}
	}
	if _, ok := Lookup(got.Fields, "location.address.text"); !ok {
		t.Error("vendor field lost in round trip")
	}
}

func TestFromMergedCoercesReportStrings(t *testing.T) {
	// Cells read back from a spreadsheet arrive as strings.
	got := FromMerged(map[string]any{
		"hidx":                      "h4",
		"rank":                      "2",
		"score_rounds":              "80, 90",
		"score_variance":            "25.0",
		"is_converged":              "FALSE",
		"weighted_percentile_score": "88.25",
	})

	if got.Rank != 2 {
		t.Errorf("rank = %d", got.Rank)
	}
	if len(got.RoundScores) != 2 || got.RoundScores[0] != 80 || got.RoundScores[1] != 90 {
		t.Errorf("round scores = %v", got.RoundScores)
	}
	if got.ScoreVariance != 25.0 {
		t.Errorf("variance = %v", got.ScoreVariance)
	}
	if got.Converged {
		t.Error("is_converged parsed as true")
	}
	if got.Percentiles == nil || got.Percentiles.Weighted != 88.25 {
		t.Errorf("weighted = %+v", got.Percentiles)
	}
}

func TestApplyScorecardLiftsCommentAndID(t *testing.T) {
	rec := New("h7", nil)
	rec.Scorecard = scorecard.Scorecard{
		scorecard.FieldTotalScore: 70,
		"location_accessibility":  map[string]any{"location_total": 28, "gwanghwamun_comment": "도보권"},
	}

	rec.ApplyScorecard(scorecard.Scorecard{
		scorecard.FieldID:         "h7",
		scorecard.FieldTotalScore: 82,
		scorecard.FieldComment:    "재평가 완료",
		"price_value":             map[string]any{"price_total": 12},
	})

	if rec.TotalScore() != 82 {
		t.Errorf("total = %d", rec.TotalScore())
	}
	if rec.ReanalysisNote != "재평가 완료" {
		t.Errorf("note = %q", rec.ReanalysisNote)
	}
	if _, ok := rec.Scorecard[scorecard.FieldID]; ok {
		t.Error("identifier leaked into scorecard")
	}
	if _, ok := rec.Scorecard[scorecard.FieldComment]; ok {
		t.Error("comment left in scorecard")
	}
	// Categories absent from the update survive.
	if rec.Scorecard.CategoryTotal("location_accessibility") != 28 {
		t.Errorf("location total = %d", rec.Scorecard.CategoryTotal("location_accessibility"))
	}
	if rec.Scorecard.CategoryTotal("price_value") != 12 {
		t.Errorf("price total = %d", rec.Scorecard.CategoryTotal("price_value"))
	}
}

func TestApplyScorecardOnUnscoredRecord(t *testing.T) {
	rec := New("h8", nil)
	rec.ApplyScorecard(scorecard.Scorecard{scorecard.FieldTotalScore: 55})
	if rec.TotalScore() != 55 {
		t.Errorf("total = %d", rec.TotalScore())
	}
}

func TestCloneIsolation(t *testing.T) {
	rec := New("h5", map[string]any{
		"info": map[string]any{"room_count": 2},
	})
	rec.Scorecard = scorecard.Scorecard{scorecard.FieldTotalScore: 60}
	rec.RoundScores = []int{60}

	clone := rec.Clone()
	clone.Fields["info"].(map[string]any)["room_count"] = 9
	clone.Scorecard.SetTotalScore(99)
	clone.RoundScores[0] = 99

	if v, _ := Lookup(rec.Fields, "info.room_count"); v != 2 {
		t.Errorf("field mutated through clone: %v", v)
	}
	if rec.TotalScore() != 60 {
		t.Errorf("scorecard mutated through clone: %d", rec.TotalScore())
	}
	if rec.RoundScores[0] != 60 {
		t.Errorf("round scores mutated through clone: %v", rec.RoundScores)
	}
}

func TestNestAndLookup(t *testing.T) {
	nested := Nest(map[string]any{
		"price.deposit":          150000000,
		"price.maintenance_cost": "확인 불가",
		"info.supplied_size":     46.28,
		"hidx":                   "h6",
	})

	if v, ok := Lookup(nested, "price.deposit"); !ok || v != 150000000 {
		t.Errorf("deposit = %v, %v", v, ok)
	}
	if v, ok := Lookup(nested, "price.maintenance_cost"); !ok || v != "확인 불가" {
		t.Errorf("maintenance = %v, %v", v, ok)
	}
	if v, ok := Lookup(nested, "hidx"); !ok || v != "h6" {
		t.Errorf("hidx = %v, %v", v, ok)
	}
	if _, ok := Lookup(nested, "price.monthly_rent"); ok {
		t.Error("lookup invented a value")
	}
	if _, ok := Lookup(nested, "price.deposit.cents"); ok {
		t.Error("lookup descended through a scalar")
	}
}
