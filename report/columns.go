// Package report renders result sets as an Excel report and reads saved
// reports back in as checkpoints.
package report

// Column maps one dot-path in the merged record shape to a report header.
type Column struct {
	Path   string
	Header string
}

// Columns is the report layout, in column order. The writer renders exactly
// these columns and the checkpoint loader inverts the same table, so written
// reports load back without a second mapping.
var Columns = []Column{
	{"rank", "순위"},
	{"total_score", "총점 (100점)"},
	{"weighted_percentile_score", "종합 백분율 점수"},
	{"score_rounds", "재평가 라운드"},
	{"score_variance", "점수 분산"},
	{"is_converged", "점수 수렴 여부"},
	{"hidx", "매물 ID"},
	{"detail_url", "링크"},

	{"percentile_scores.total_percentile", "총점 백분율"},
	{"percentile_scores.location_percentile", "위치 백분율"},
	{"percentile_scores.building_percentile", "건물 백분율"},
	{"percentile_scores.convenience_percentile", "편의 백분율"},
	{"percentile_scores.price_percentile", "가격 백분율"},

	{"location.address.text", "주소"},
	{"type.building_type", "건물 유형"},
	{"parsed_floor", "층"},
	{"parsed_total_floor", "전체 층수"},
	{"parsed_approval_date", "사용승인일"},

	{"price.deposit", "보증금"},
	{"price.maintenance_cost", "관리비"},

	{"info.real_size", "전용면적(㎡)"},
	{"info.supplied_size", "공급면적(㎡)"},
	{"info.real_pyeong", "전용평수"},
	{"info.supplied_pyeong", "공급평수"},
	{"info.room_count", "방 수"},
	{"parsed_bathroom_count", "욕실 수"},

	{"parsed_options_string", "옵션"},
	{"images_S_length", "이미지 개수"},
	{"info.created_at", "등록일"},

	{"location_accessibility.location_total", "위치/접근성 총점 (40점)"},
	{"location_accessibility.gwanghwamun_score", "광화문 접근성 (15점)"},
	{"location_accessibility.gwanghwamun_comment", "광화문 접근성 평가"},
	{"location_accessibility.amenities_score", "주변 편의시설 (15점)"},
	{"location_accessibility.amenities_comment", "주변 편의시설 평가"},
	{"location_accessibility.transportation_score", "교통 편의성 (10점)"},
	{"location_accessibility.transportation_comment", "교통 편의성 평가"},

	{"building_quality.building_total", "건물/시설 총점 (30점)"},
	{"building_quality.condition_score", "건물 상태 (15점)"},
	{"building_quality.condition_comment", "건물 상태 평가"},
	{"building_quality.space_score", "공간 효율성 (10점)"},
	{"building_quality.space_comment", "공간 효율성 평가"},
	{"building_quality.floor_score", "층수/향 (5점)"},
	{"building_quality.floor_comment", "층수/향 평가"},

	{"living_convenience.convenience_total", "생활 편의성 총점 (15점)"},
	{"living_convenience.appliances_score", "가전제품 (8점)"},
	{"living_convenience.appliances_comment", "가전제품 평가"},
	{"living_convenience.furniture_score", "가구/시설 (7점)"},
	{"living_convenience.furniture_comment", "가구/시설 평가"},

	{"price_value.price_total", "가격 경쟁력 총점 (15점)"},
	{"price_value.market_score", "시세 대비 가격 (10점)"},
	{"price_value.market_comment", "시세 대비 가격 평가"},
	{"price_value.extra_cost_score", "관리비/추가비용 (5점)"},
	{"price_value.extra_cost_comment", "관리비/추가비용 평가"},

	{"credibility.fake_possibility", "허위매물 가능성"},
	{"credibility.credibility_comment", "신뢰도 평가"},
	{"summary.pros", "장점"},
	{"summary.cons", "단점"},
	{"summary.recommendation", "추천 대상 및 종합 의견"},

	{"parsed_user_type", "등록인 유형"},
	{"parsed_agent_name", "등록인 이름"},
	{"parsed_agent_contact", "등록인 연락처"},
	{"parsed_agent_office", "등록인 사무소"},
	{"parsed_description", "매물 설명"},
}
