package scorecard

import "testing"

func TestParseFencedArray(t *testing.T) {
	text := "재평가 결과입니다.\n```json\n[{\"hidx\": \"a1\", \"total_score\": 85}, {\"hidx\": \"b2\", \"total_score\": 72}]\n```\n이상입니다."

	cards, ok := Parse(text)
	if !ok {
		t.Fatal("Parse() failed on fenced array")
	}
	if len(cards) != 2 {
		t.Fatalf("got %d cards, want 2", len(cards))
	}
	if cards[0].ID() != "a1" || cards[0].TotalScore() != 85 {
		t.Errorf("card 0 = %v", cards[0])
	}
	if cards[1].ID() != "b2" || cards[1].TotalScore() != 72 {
		t.Errorf("card 1 = %v", cards[1])
	}
}

func TestParseGenericFence(t *testing.T) {
	text := "```\n[{\"hidx\": \"a1\", \"total_score\": 60}]\n```"

	cards, ok := Parse(text)
	if !ok || len(cards) != 1 {
		t.Fatalf("Parse() = %v, %v", cards, ok)
	}
	if cards[0].ID() != "a1" {
		t.Errorf("card ID = %q", cards[0].ID())
	}
}

func TestParseBareArrayInProse(t *testing.T) {
	text := `다음과 같이 재평가했습니다: [{"hidx": "x9", "total_score": 77}] 추가 의견 없음.`

	cards, ok := Parse(text)
	if !ok || len(cards) != 1 {
		t.Fatalf("Parse() = %v, %v", cards, ok)
	}
	if cards[0].TotalScore() != 77 {
		t.Errorf("total = %d, want 77", cards[0].TotalScore())
	}
}

func TestParseSingleObjectBecomesBatchOfOne(t *testing.T) {
	text := `{"hidx": "solo", "total_score": 64, "reanalysis_comment": "재평가 완료"}`

	cards, ok := Parse(text)
	if !ok || len(cards) != 1 {
		t.Fatalf("Parse() = %v, %v", cards, ok)
	}
	if cards[0].ID() != "solo" || cards[0].TotalScore() != 64 {
		t.Errorf("card = %v", cards[0])
	}
}

func TestParseRepairsTrailingCommasAndBareKeys(t *testing.T) {
	text := "```json\n[{hidx: \"a1\", total_score: 81,}]\n```"

	cards, ok := Parse(text)
	if !ok || len(cards) != 1 {
		t.Fatalf("Parse() = %v, %v", cards, ok)
	}
	if cards[0].ID() != "a1" {
		t.Errorf("card ID = %q, want a1", cards[0].ID())
	}
	if cards[0].TotalScore() != 81 {
		t.Errorf("total = %d, want 81", cards[0].TotalScore())
	}
}

func TestParseSalvagesPlaceholders(t *testing.T) {
	// The array as a whole is unparseable even after repair, but each object
	// still names its identifier; the second one is too broken to decode on
	// its own.
	text := "```json\n[\n{\"hidx\": \"ok1\", \"total_score\": 70},\n{\"hidx\": \"bad2\", \"total_score\": }\n]\n```"

	cards, ok := Parse(text)
	if !ok {
		t.Fatal("Parse() failed to salvage")
	}
	if len(cards) != 2 {
		t.Fatalf("got %d cards, want 2", len(cards))
	}
	if cards[0].ID() != "ok1" || cards[0].TotalScore() != 70 {
		t.Errorf("salvaged card 0 = %v", cards[0])
	}
	if cards[1].ID() != "bad2" {
		t.Errorf("placeholder ID = %q, want bad2", cards[1].ID())
	}
	if cards[1].TotalScore() != 50 {
		t.Errorf("placeholder total = %d, want 50", cards[1].TotalScore())
	}
	if cards[1][FieldComment] != parseFailureComment {
		t.Errorf("placeholder comment = %v", cards[1][FieldComment])
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if cards, ok := Parse("응답을 생성할 수 없습니다."); ok {
		t.Errorf("Parse() accepted garbage: %v", cards)
	}
}

func TestParseObjectFenced(t *testing.T) {
	text := "```json\n{\"total_score\": \"88\", \"summary\": {\"recommendation\": \"직장인 추천\"}}\n```"

	card, ok := ParseObject(text)
	if !ok {
		t.Fatal("ParseObject() failed")
	}
	if card.TotalScore() != 88 {
		t.Errorf("total = %d, want 88", card.TotalScore())
	}
}

func TestParseObjectBraceSlice(t *testing.T) {
	text := `분석 결과: {"total_score": "42"} 입니다.`

	card, ok := ParseObject(text)
	if !ok || card.TotalScore() != 42 {
		t.Fatalf("ParseObject() = %v, %v", card, ok)
	}
}

func TestParseObjectRepairsSingleQuotes(t *testing.T) {
	text := "```json\n{total_score: '90',}\n```"

	card, ok := ParseObject(text)
	if !ok {
		t.Fatal("ParseObject() failed on repairable input")
	}
	if card.TotalScore() != 90 {
		t.Errorf("total = %d, want 90", card.TotalScore())
	}
}

func TestParseObjectRejectsEmpty(t *testing.T) {
	if card, ok := ParseObject("no json here"); ok {
		t.Errorf("ParseObject() accepted garbage: %v", card)
	}
}
