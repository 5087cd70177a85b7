package percentile

import (
	"math"
	"sort"

	"peterpan-analyzer/listing"
)

// Weights blends the four category percentiles into one weighted score.
type Weights struct {
	Location    float64
	Building    float64
	Convenience float64
	Price       float64
}

// DefaultWeights favors location and building quality: 40/30/15/15.
var DefaultWeights = Weights{Location: 0.4, Building: 0.3, Convenience: 0.15, Price: 0.15}

// Engine computes percentile profiles for a result set.
type Engine struct {
	weights Weights
}

// New creates an Engine with the given blend weights.
func New(weights Weights) *Engine {
	return &Engine{weights: weights}
}

// Compute annotates every record with its percentile standing relative to
// the given set and returns the same slice. Records with a missing or
// unreadable score contribute 0 to that series, which keeps every record
// ranked instead of dropped. Tied scores share the percentile of their
// lowest rank; a lone record sits at 100.
func (e *Engine) Compute(records []*listing.Record) []*listing.Record {
	if len(records) == 0 {
		return records
	}

	location := make([]int, len(records))
	building := make([]int, len(records))
	convenience := make([]int, len(records))
	price := make([]int, len(records))
	total := make([]int, len(records))
	for i, rec := range records {
		location[i] = rec.Scorecard.CategoryTotal("location_accessibility")
		building[i] = rec.Scorecard.CategoryTotal("building_quality")
		convenience[i] = rec.Scorecard.CategoryTotal("living_convenience")
		price[i] = rec.Scorecard.CategoryTotal("price_value")
		total[i] = rec.TotalScore()
	}

	locationPct := percentiles(location)
	buildingPct := percentiles(building)
	conveniencePct := percentiles(convenience)
	pricePct := percentiles(price)
	totalPct := percentiles(total)

	for i, rec := range records {
		p := &listing.PercentileProfile{
			Location:    locationPct[i],
			Building:    buildingPct[i],
			Convenience: conveniencePct[i],
			Price:       pricePct[i],
			Total:       totalPct[i],
		}
		p.Weighted = round2(p.Location*e.weights.Location +
			p.Building*e.weights.Building +
			p.Convenience*e.weights.Convenience +
			p.Price*e.weights.Price)
		rec.Percentiles = p
	}

	return records
}

// percentiles maps each score to its percentile: the 1-based rank of the
// score's first occurrence in ascending order, divided by the count, times
// 100, rounded to one decimal.
func percentiles(scores []int) []float64 {
	sorted := append([]int(nil), scores...)
	sort.Ints(sorted)

	firstRank := make(map[int]int, len(sorted))
	for i, s := range sorted {
		if _, ok := firstRank[s]; !ok {
			firstRank[s] = i + 1
		}
	}

	out := make([]float64, len(scores))
	n := float64(len(scores))
	for i, s := range scores {
		out[i] = round1(float64(firstRank[s]) / n * 100)
	}
	return out
}

func round1(x float64) float64 { return math.Round(x*10) / 10 }

func round2(x float64) float64 { return math.Round(x*100) / 100 }
