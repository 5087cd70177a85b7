package scorer

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"peterpan-analyzer/listing"
	"peterpan-analyzer/scorecard"
)

// Landmark is the reference point the prompt's straight-line distance is
// computed against.
type Landmark struct {
	Lat float64
	Lng float64
}

// DefaultLandmark is Gwanghwamun.
var DefaultLandmark = Landmark{Lat: 37.5759, Lng: 126.9780}

// singlePrompt builds the full scoring prompt for one listing: a digest of
// its vendor and scraped fields followed by the scoring rubric.
func singlePrompt(rec *listing.Record, landmark Landmark) string {
	fields := rec.Fields

	var b strings.Builder
	b.WriteString(`당신은 부동산 전문가입니다. 아래 제공된 매물 정보를 바탕으로 상세 분석을 수행하고, 점수를 매겨주세요.
총 100점 만점 기준으로 각 카테고리별 점수와 근거를 구체적으로 설명해주세요.

## 매물 기본 정보
`)
	fmt.Fprintf(&b, "- 주소: %s\n", stringField(fields, "주소 정보 없음",
		"location.address.text", "location_text", "address", "addr"))
	fmt.Fprintf(&b, "- 설명: %s\n", stringField(fields, "상세 설명 없음",
		"parsed_description", "info.subject", "description"))
	fmt.Fprintf(&b, "- 가격: %s\n", priceLine(fields))
	fmt.Fprintf(&b, "- 사용승인일: %s\n", stringField(fields, "정보 없음", "parsed_approval_date"))
	fmt.Fprintf(&b, "- 건물 유형: %s\n", buildingType(fields))
	fmt.Fprintf(&b, "- 방/욕실 수: %s/%s\n",
		countText(fields, "info.room_count"), countText(fields, "parsed_bathroom_count"))
	fmt.Fprintf(&b, "- 면적: %s\n", sizeLine(fields))
	fmt.Fprintf(&b, "- 층수: %s\n", floorLine(fields))
	fmt.Fprintf(&b, "- 옵션: %s\n", stringField(fields, "", "parsed_options_string"))
	fmt.Fprintf(&b, "- 매물 등록인: %s (%s) (%s)\n",
		stringField(fields, "정보 없음", "parsed_agent_name"),
		stringField(fields, "", "parsed_agent_office"),
		userTypeDisplay(fields))
	if km, ok := distanceKM(fields, landmark); ok {
		fmt.Fprintf(&b, "- 광화문까지 직선거리: %.2fkm\n", km)
	}
	b.WriteString(scoringRubric)
	return b.String()
}

const scoringRubric = `
## 분석 항목 (총 100점 만점)

1. 위치 및 접근성 (40점 만점)
   a. 광화문 접근성 (15점): 광화문까지의 직선거리 및 대중교통 이용 편의성
   b. 주변 편의시설 (15점): 마트, 병원, 공원, 상가 등 생활편의시설 접근성
   c. 교통 편의성 (10점): 지하철역, 버스정류장 접근성, 교통 연결성

2. 건물 및 시설 품질 (30점 만점)
   a. 건물 상태 및 연식 (15점): 사용승인일, 리모델링 여부, 건물 관리상태
   b. 공간 효율성 (10점): 구조, 면적 대비 활용도, 수납공간
   c. 층수 및 향 (5점): 저층/고층 여부, 일조량, 조망권

3. 옵션 및 생활 편의성 (15점 만점)
   a. 가전제품 (8점): 냉장고, 세탁기, 에어컨 등 필수 가전 보유 여부
   b. 가구 및 시설 (7점): 붙박이장, 신발장, 인테리어 품질

4. 가격 경쟁력 (15점 만점)
   a. 동일 지역 시세 대비 가격 (10점): 주변 유사 매물 대비 가격 경쟁력
   b. 관리비 및 추가비용 (5점): 관리비, 주차비 등 추가 비용 요소
      ※ 중요: 관리비 정보가 "확인 불가", "정보 없음" 또는 누락된 경우, 이는 투명성 부족으로 간주하여 점수를 낮게 부여하세요 (1-2점).
      관리비가 명확히 제시된 경우에만 적정 점수(3-5점)를 부여하세요.

## 추가 분석
1. 매물 신뢰도 평가
   - 허위매물 가능성: 낮음/보통/높음 중 하나를 선택하고 그 이유 설명
   - 매물 정보의 일관성, 상세함, 사진 제공 여부
   - 중개사/판매자 정보의 투명성

2. 종합 의견
   - 장점 요약 (3가지 이상)
   - 단점 요약 (2가지 이상)
   - 추천 대상 (어떤 사람에게 적합한지)

## 응답 형식
응답은 반드시 아래 JSON 형식으로 제공해주세요:

` + "```json" + `
{
  "total_score": "점수(0-100 숫자)",

  "location_accessibility": {
    "gwanghwamun_score": "점수(0-15 숫자)",
    "gwanghwamun_comment": "광화문 접근성에 대한 평가",
    "amenities_score": "점수(0-15 숫자)",
    "amenities_comment": "주변 편의시설 평가",
    "transportation_score": "점수(0-10 숫자)",
    "transportation_comment": "교통 편의성 평가",
    "location_total": "총합(0-40 숫자)"
  },

  "building_quality": {
    "condition_score": "점수(0-15 숫자)",
    "condition_comment": "건물 상태 평가",
    "space_score": "점수(0-10 숫자)",
    "space_comment": "공간 효율성 평가",
    "floor_score": "점수(0-5 숫자)",
    "floor_comment": "층수 및 향 평가",
    "building_total": "총합(0-30 숫자)"
  },

  "living_convenience": {
    "appliances_score": "점수(0-8 숫자)",
    "appliances_comment": "가전제품 평가",
    "furniture_score": "점수(0-7 숫자)",
    "furniture_comment": "가구 및 시설 평가",
    "convenience_total": "총합(0-15 숫자)"
  },

  "price_value": {
    "market_score": "점수(0-10 숫자)",
    "market_comment": "시세 대비 가격 평가",
    "extra_cost_score": "점수(0-5 숫자)",
    "extra_cost_comment": "관리비 및 추가비용 평가",
    "price_total": "총합(0-15 숫자)"
  },

  "credibility": {
    "fake_possibility": "낮음/보통/높음 중 하나",
    "credibility_comment": "신뢰도 평가 근거"
  },

  "summary": {
    "pros": ["장점1", "장점2", "장점3"],
    "cons": ["단점1", "단점2"],
    "recommendation": "추천 대상 및 종합 의견"
  }
}
` + "```" + `
각 점수는 반드시 배점 범위 내에서 정수로 부여해주세요. 각 카테고리의 총합은 하위 항목들의 합과 일치해야 합니다.
total_score는 모든 카테고리 점수의 합으로, 100점 만점입니다. JSON 내부의 값은 모두 문자열로 반환해주세요. 숫자인 경우에도 따옴표로 감싸주세요.
`

// batchPrompt builds the re-scoring prompt: the full merged records as JSON
// plus the identifier list the response is reconciled against.
func batchPrompt(records []*listing.Record) (string, error) {
	payload := make([]map[string]any, len(records))
	ids := make([]string, len(records))
	for i, rec := range records {
		payload[i] = rec.Merged()
		ids[i] = rec.ID
	}

	data, err := json.MarshalIndent(payload, "", " ")
	if err != nil {
		return "", fmt.Errorf("encoding batch payload: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "다음 %d개 매물을 재평가해주세요. 각 매물의 hidx는 절대 변경하지 마세요.\n\n매물 데이터:\n%s\n", len(records), data)
	b.WriteString(batchInstructions)
	fmt.Fprintf(&b, "\n처리할 hidx 목록: %s\n", strings.Join(ids, ", "))
	return b.String(), nil
}

const batchInstructions = `
요구사항:
1. 모든 매물을 빠짐없이 처리하세요
2. hidx는 원본 그대로 유지하세요
3. 총점은 0-100 사이 정수로 조정하세요
4. 반드시 JSON 배열 형태로 응답하세요

응답 형식 (예시):
` + "```json" + `
[
  {
    "hidx": "원본hidx그대로",
    "total_score": 85,
    "location_accessibility": {"location_total": 35},
    "building_quality": {"building_total": 25},
    "living_convenience": {"convenience_total": 12},
    "price_value": {"price_total": 13},
    "reanalysis_comment": "재평가 완료"
  }
]
` + "```" + `
`

func firstField(fields map[string]any, paths ...string) (any, bool) {
	for _, path := range paths {
		if v, ok := listing.Lookup(fields, path); ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringField(fields map[string]any, fallback string, paths ...string) string {
	if v, ok := firstField(fields, paths...); ok {
		if s := strings.TrimSpace(scorecard.AsString(v)); s != "" {
			return s
		}
	}
	return fallback
}

func priceLine(fields map[string]any) string {
	var b strings.Builder
	b.WriteString("보증금: ")

	deposit, ok := firstField(fields, "price.deposit", "info.deposit")
	if f, numeric := asNumber(deposit); numeric {
		b.WriteString(formatNumber(f/10000) + "만원")
	} else if ok {
		b.WriteString(scorecard.AsString(deposit) + "만원")
	} else {
		b.WriteString("정보 없음")
	}

	b.WriteString(", 관리비: " + maintenanceText(fields))
	return b.String()
}

func maintenanceText(fields map[string]any) string {
	v, ok := firstField(fields, "price.maintenance_cost", "price.monthly_rent")
	if !ok {
		return "정보 없음"
	}
	if s, isStr := v.(string); isStr {
		for _, keyword := range []string{"확인 불가", "정보 없음", "미제공"} {
			if strings.Contains(s, keyword) {
				return s
			}
		}
	}
	if f, numeric := asNumber(v); numeric && f > 0 {
		return formatNumber(f/10000) + "만원"
	}
	return "정보 없음"
}

func buildingType(fields map[string]any) string {
	v, ok := firstField(fields, "type.building_type")
	if !ok {
		return "정보 없음"
	}
	switch t := v.(type) {
	case []any:
		if len(t) == 0 {
			return "정보 없음"
		}
		v = t[0]
	case []string:
		if len(t) == 0 {
			return "정보 없음"
		}
		v = t[0]
	}
	if s := strings.TrimSpace(scorecard.AsString(v)); s != "" {
		return s
	}
	return "정보 없음"
}

func countText(fields map[string]any, path string) string {
	s := stringField(fields, "", path)
	if s == "" {
		return "정보 없음"
	}
	return s + "개"
}

func sizeLine(fields map[string]any) string {
	var src map[string]any
	for _, key := range []string{"info", "size"} {
		if m, ok := fields[key].(map[string]any); ok {
			src = m
			break
		}
	}
	if src == nil {
		return "정보 없음"
	}
	supplied, sok := asNumber(src["supplied_size"])
	real, rok := asNumber(src["real_size"])
	if sok && supplied > 0 && rok && real > 0 {
		return formatNumber(supplied) + "㎡(공급) / " + formatNumber(real) + "㎡(전용)"
	}
	return "정보 없음"
}

func floorLine(fields map[string]any) string {
	floor := stringField(fields, "", "parsed_floor")
	total := stringField(fields, "", "parsed_total_floor")
	switch {
	case floor != "" && total != "":
		return fmt.Sprintf("%s/%s층", floor, total)
	case floor != "":
		return floor + "층"
	default:
		return "정보 없음"
	}
}

func userTypeDisplay(fields map[string]any) string {
	switch stringField(fields, "", "parsed_user_type", "attribute.userType") {
	case "agent", "중개사":
		return "중개사"
	case "user", "세입자":
		return "세입자"
	default:
		return "정보 없음"
	}
}

// distanceKM returns the straight-line distance from the listing to the
// landmark, when the listing has usable coordinates.
func distanceKM(fields map[string]any, landmark Landmark) (float64, bool) {
	lat, latOK := coordinate(fields,
		"parsed_latitude", "location.latitude", "location.lat", "location.y", "location.address.latitude")
	lng, lngOK := coordinate(fields,
		"parsed_longitude", "location.longitude", "location.lon", "location.lng", "location.x", "location.address.longitude")
	if !latOK || !lngOK {
		return 0, false
	}
	return haversineKM(lat, lng, landmark.Lat, landmark.Lng), true
}

func coordinate(fields map[string]any, paths ...string) (float64, bool) {
	v, ok := firstField(fields, paths...)
	if !ok {
		return 0, false
	}
	if f, ok := asNumber(v); ok {
		return f, true
	}
	if s, isStr := v.(string); isStr {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

const earthRadiusKM = 6371.0

func haversineKM(lat1, lng1, lat2, lng2 float64) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// asNumber reads actual numbers only; numeric strings stay strings so the
// prompt shows them verbatim.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
