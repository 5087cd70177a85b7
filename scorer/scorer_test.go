package scorer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"peterpan-analyzer/listing"
	"peterpan-analyzer/ratelimit"
	"peterpan-analyzer/retry"
)

func geminiResponseJSON(text string) string {
	payload := map[string]any{
		"candidates": []any{
			map[string]any{
				"content": map[string]any{
					"parts": []any{map[string]any{"text": text}},
				},
			},
		},
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

func testRecord() *listing.Record {
	return listing.New("h100", map[string]any{
		"location": map[string]any{"address": map[string]any{"text": "서울시 종로구 사직로 12"}},
		"price":    map[string]any{"deposit": 150000000, "maintenance_cost": 50000},
		"info": map[string]any{
			"subject":       "광화문 도보권 투룸",
			"supplied_size": 30.0,
			"real_size":     25.0,
			"room_count":    2,
		},
		"type":                  map[string]any{"building_type": []any{"오피스텔"}},
		"parsed_latitude":       37.5704,
		"parsed_longitude":      126.9768,
		"parsed_floor":          "3층",
		"parsed_total_floor":    12,
		"parsed_bathroom_count": 1,
		"parsed_approval_date":  "2020.05.11",
		"parsed_options_string": "에어컨, 냉장고, 세탁기",
		"parsed_agent_name":     "김중개",
		"parsed_agent_office":   "종로공인중개사",
		"parsed_user_type":      "중개사",
	})
}

const scorecardText = "```json\n" + `{
  "total_score": "82",
  "location_accessibility": {
    "gwanghwamun_score": "13", "gwanghwamun_comment": "도보권",
    "amenities_score": "12", "amenities_comment": "편의시설 충분",
    "transportation_score": "9", "transportation_comment": "지하철 인접",
    "location_total": "34"
  },
  "building_quality": {
    "condition_score": "12", "condition_comment": "양호",
    "space_score": "8", "space_comment": "효율적",
    "floor_score": "4", "floor_comment": "중층",
    "building_total": "24"
  },
  "living_convenience": {
    "appliances_score": "7", "appliances_comment": "필수 가전 보유",
    "furniture_score": "6", "furniture_comment": "붙박이장 있음",
    "convenience_total": "13"
  },
  "price_value": {
    "market_score": "7", "market_comment": "시세 적정",
    "extra_cost_score": "4", "extra_cost_comment": "관리비 명시",
    "price_total": "11"
  },
  "credibility": {"fake_possibility": "낮음", "credibility_comment": "정보 일관됨"},
  "summary": {"pros": ["위치", "옵션", "가격"], "cons": ["연식", "주차"], "recommendation": "직장인 추천"}
}` + "\n```"

func zeroGate() *ratelimit.Gate { return ratelimit.New(0, 0) }

func onceRetry() *retry.Policy { return retry.New(1, 0, 0, retry.Quota{}) }

func TestAnalyze_ScoresRecord(t *testing.T) {
	var captured geminiRequest
	var capturedPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path + "?" + r.URL.RawQuery
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Write([]byte(geminiResponseJSON(scorecardText)))
	}))
	defer srv.Close()

	client := newClientWithURL("test-key", "test-model", 0.1, srv.Client(), srv.URL)
	a := NewAnalyzer(client, zeroGate(), onceRetry(), DefaultLandmark)

	rec := testRecord()
	if err := a.Analyze(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(capturedPath, "/test-model:generateContent?key=test-key") {
		t.Errorf("unexpected request path %q", capturedPath)
	}
	if captured.SystemInstruction == nil || len(captured.SystemInstruction.Parts) == 0 {
		t.Fatal("system instruction missing from request")
	}
	if captured.GenerationConfig == nil {
		t.Fatal("generation config missing from request")
	}
	if captured.GenerationConfig.MaxOutputTokens != singleMaxOutputTokens {
		t.Errorf("maxOutputTokens = %d", captured.GenerationConfig.MaxOutputTokens)
	}
	if captured.GenerationConfig.Temperature != 0.1 {
		t.Errorf("temperature = %v", captured.GenerationConfig.Temperature)
	}
	if captured.GenerationConfig.TopP != 0 {
		t.Errorf("single mode should not set topP, got %v", captured.GenerationConfig.TopP)
	}

	prompt := captured.Contents[0].Parts[0].Text
	for _, want := range []string{
		"주소: 서울시 종로구 사직로 12",
		"보증금: 15000만원",
		"관리비: 5만원",
		"건물 유형: 오피스텔",
		"면적: 30㎡(공급) / 25㎡(전용)",
		"층수: 3층/12층",
		"방/욕실 수: 2개/1개",
		"매물 등록인: 김중개 (종로공인중개사) (중개사)",
		"광화문까지 직선거리:",
		"## 분석 항목 (총 100점 만점)",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	if rec.TotalScore() != 82 {
		t.Errorf("total = %d", rec.TotalScore())
	}
	if rec.Scorecard.CategoryTotal("location_accessibility") != 34 {
		t.Errorf("location total = %d", rec.Scorecard.CategoryTotal("location_accessibility"))
	}
	if rec.AnalysisError != "" {
		t.Errorf("analysis error = %q", rec.AnalysisError)
	}
	if rec.ReanalysisNote != "개별 분석 완료. 재평가 대기 중." {
		t.Errorf("note = %q", rec.ReanalysisNote)
	}
}

func TestAnalyze_FallbackAfterRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"internal"}`))
	}))
	defer srv.Close()

	client := newClientWithURL("test-key", "test-model", 0.1, srv.Client(), srv.URL)
	a := NewAnalyzer(client, zeroGate(), retry.New(2, time.Millisecond, 0, retry.Quota{}), DefaultLandmark)

	rec := testRecord()
	if err := a.Analyze(context.Background(), rec); err != nil {
		t.Fatalf("API failure must degrade, not error: %v", err)
	}

	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
	if !strings.HasPrefix(rec.AnalysisError, "Gemini API 호출 실패: ") {
		t.Errorf("analysis error = %q", rec.AnalysisError)
	}
	if rec.TotalScore() != 50 {
		t.Errorf("fallback total = %d", rec.TotalScore())
	}
	if rec.ReanalysisNote != "개별 분석 실패로 재평가 정보 없음" {
		t.Errorf("note = %q", rec.ReanalysisNote)
	}
}

func TestAnalyze_UnparseableResponseFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(geminiResponseJSON("이 매물은 전반적으로 훌륭합니다.")))
	}))
	defer srv.Close()

	client := newClientWithURL("test-key", "test-model", 0.1, srv.Client(), srv.URL)
	a := NewAnalyzer(client, zeroGate(), onceRetry(), DefaultLandmark)

	rec := testRecord()
	if err := a.Analyze(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.AnalysisError != "JSON 파싱 실패" {
		t.Errorf("analysis error = %q", rec.AnalysisError)
	}
	if rec.TotalScore() != 50 {
		t.Errorf("fallback total = %d", rec.TotalScore())
	}
}

func TestAnalyze_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(geminiResponseJSON(scorecardText)))
	}))
	defer srv.Close()

	client := newClientWithURL("test-key", "test-model", 0.1, srv.Client(), srv.URL)
	a := NewAnalyzer(client, zeroGate(), retry.New(3, time.Millisecond, 0, retry.Quota{}), DefaultLandmark)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := testRecord()
	if err := a.Analyze(ctx, rec); err == nil {
		t.Fatal("expected error for canceled context")
	}
	if rec.Scorecard != nil {
		t.Errorf("record scored despite cancellation: %v", rec.Scorecard)
	}
}

func TestGenerate_QuotaErrorCarriesRetryDelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","details":[{"retryDelay":"7s"}]}}`))
	}))
	defer srv.Close()

	client := newClientWithURL("test-key", "test-model", 0.1, srv.Client(), srv.URL)

	_, err := client.generate(context.Background(), client.singleRequest("prompt"))
	var quotaErr *retry.QuotaError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("expected QuotaError, got %v", err)
	}
	if quotaErr.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v", quotaErr.RetryAfter)
	}
}

func TestGenerate_ResourceExhaustedBodyIsQuotaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	client := newClientWithURL("test-key", "test-model", 0.1, srv.Client(), srv.URL)

	_, err := client.generate(context.Background(), client.singleRequest("prompt"))
	var quotaErr *retry.QuotaError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("expected QuotaError, got %v", err)
	}
	if quotaErr.RetryAfter != 0 {
		t.Errorf("RetryAfter = %v, want 0 without server hint", quotaErr.RetryAfter)
	}
}

func TestReevaluateBatch_SendsBatchPromptAndReturnsRawText(t *testing.T) {
	const rawResponse = `[{"hidx": "h1", "total_score": 85}, {"hidx": "h2", "total_score": 70}]`

	var captured geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Write([]byte(geminiResponseJSON(rawResponse)))
	}))
	defer srv.Close()

	client := newClientWithURL("test-key", "test-model", 0.1, srv.Client(), srv.URL)
	r := NewReevaluator(client, zeroGate(), onceRetry())

	recA := listing.New("h1", nil)
	recA.Scorecard = map[string]any{"total_score": 80}
	recB := listing.New("h2", nil)
	recB.Scorecard = map[string]any{"total_score": 75}

	text, err := r.ReevaluateBatch(context.Background(), []*listing.Record{recA, recB})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != rawResponse {
		t.Errorf("raw text = %q", text)
	}

	if captured.SystemInstruction != nil {
		t.Error("batch mode must not send a system instruction")
	}
	if captured.GenerationConfig == nil {
		t.Fatal("generation config missing")
	}
	if captured.GenerationConfig.MaxOutputTokens != batchMaxOutputTokens {
		t.Errorf("maxOutputTokens = %d", captured.GenerationConfig.MaxOutputTokens)
	}
	if captured.GenerationConfig.TopP != batchTopP {
		t.Errorf("topP = %v", captured.GenerationConfig.TopP)
	}

	prompt := captured.Contents[0].Parts[0].Text
	for _, want := range []string{
		"다음 2개 매물을 재평가해주세요",
		"hidx는 절대 변경하지 마세요",
		`"hidx": "h1"`,
		`"total_score": 80`,
		"처리할 hidx 목록: h1, h2",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestReevaluateBatch_RetriesEmptyResponse(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Write([]byte(`{"candidates":[]}`))
			return
		}
		w.Write([]byte(geminiResponseJSON(`[{"hidx": "h1", "total_score": 85}]`)))
	}))
	defer srv.Close()

	client := newClientWithURL("test-key", "test-model", 0.1, srv.Client(), srv.URL)
	r := NewReevaluator(client, zeroGate(), retry.New(2, time.Millisecond, 0, retry.Quota{}))

	text, err := r.ReevaluateBatch(context.Background(), []*listing.Record{listing.New("h1", nil)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(text, `"hidx": "h1"`) {
		t.Errorf("text = %q", text)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestReevaluateBatch_AllAttemptsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newClientWithURL("test-key", "test-model", 0.1, srv.Client(), srv.URL)
	r := NewReevaluator(client, zeroGate(), retry.New(2, time.Millisecond, 0, retry.Quota{}))

	if _, err := r.ReevaluateBatch(context.Background(), []*listing.Record{listing.New("h1", nil)}); err == nil {
		t.Fatal("expected error when every attempt fails")
	}
}

func TestSinglePrompt_MissingFieldFallbacks(t *testing.T) {
	prompt := singlePrompt(listing.New("h1", nil), DefaultLandmark)

	for _, want := range []string{
		"주소: 주소 정보 없음",
		"설명: 상세 설명 없음",
		"보증금: 정보 없음",
		"관리비: 정보 없음",
		"사용승인일: 정보 없음",
		"건물 유형: 정보 없음",
		"면적: 정보 없음",
		"층수: 정보 없음",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, "광화문까지 직선거리") {
		t.Error("distance line present without coordinates")
	}
}

func TestSinglePrompt_OpaqueMaintenanceKeptVerbatim(t *testing.T) {
	rec := listing.New("h1", map[string]any{
		"price": map[string]any{"deposit": 100000000, "maintenance_cost": "확인 불가"},
	})
	prompt := singlePrompt(rec, DefaultLandmark)
	if !strings.Contains(prompt, "관리비: 확인 불가") {
		t.Error("opaque maintenance string not kept")
	}
}

func TestSinglePrompt_CoordinateFallbackPaths(t *testing.T) {
	rec := listing.New("h1", map[string]any{
		"location": map[string]any{"latitude": "37.5759", "longitude": "126.9780"},
	})
	prompt := singlePrompt(rec, DefaultLandmark)
	if !strings.Contains(prompt, "광화문까지 직선거리: 0.00km") {
		t.Error("string coordinates at the landmark should yield 0.00km")
	}
}

func TestHaversineKM(t *testing.T) {
	// Seoul City Hall to Gwanghwamun is roughly one kilometer.
	got := haversineKM(37.5663, 126.9779, 37.5759, 126.9780)
	if got < 0.9 || got > 1.2 {
		t.Errorf("distance = %.3fkm, want about 1.07km", got)
	}

	if d := haversineKM(37.5759, 126.9780, 37.5759, 126.9780); d != 0 {
		t.Errorf("zero distance = %v", d)
	}
}
