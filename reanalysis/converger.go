package reanalysis

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"peterpan-analyzer/listing"
	"peterpan-analyzer/ratelimit"
	"peterpan-analyzer/scorecard"
)

// WeightFunc returns the weight of round r out of total rounds, 1-based.
// Later rounds see scores that already went through earlier passes, so the
// default weighting trusts them more.
type WeightFunc func(r, total int) float64

// LinearWeight weights round r as r/total.
func LinearWeight(r, total int) float64 { return float64(r) / float64(total) }

// UniformWeight weights every round equally.
func UniformWeight(r, total int) float64 { return 1 }

// WeightByName resolves a configured weighting name. The empty name means
// the default, linear.
func WeightByName(name string) (WeightFunc, error) {
	switch name {
	case "", "linear":
		return LinearWeight, nil
	case "uniform":
		return UniformWeight, nil
	default:
		return nil, fmt.Errorf("unknown round weighting %q", name)
	}
}

// Reevaluator runs one full re-evaluation pass over a result set.
type Reevaluator interface {
	Reevaluate(ctx context.Context, records []*listing.Record) []*listing.Record
}

// Recorder persists the per-round totals of a run.
type Recorder interface {
	SaveRoundScores(runID string, round int, scores map[string]int) error
}

// ConvergerConfig controls how many rounds run and when the combined scores
// count as stable.
type ConvergerConfig struct {
	Rounds     int
	RoundDelay time.Duration
	Threshold  float64
	Weight     WeightFunc
	Seed       int64
}

// Converger runs several independent re-evaluation rounds and combines them
// into one final score per listing. Each round re-scores fresh clones of the
// original records in a shuffled order, so rounds cannot contaminate each
// other and the model never sees a stable ordering.
type Converger struct {
	reevaluator Reevaluator
	recorder    Recorder
	cfg         ConvergerConfig
	rng         *rand.Rand

	sleep func(context.Context, time.Duration) error
	now   func() time.Time
}

// NewConverger creates a Converger. Rounds below 1 are raised to 1, a nil
// weight function defaults to LinearWeight, and a zero seed draws one from
// the clock. The recorder may be nil.
func NewConverger(reevaluator Reevaluator, recorder Recorder, cfg ConvergerConfig) *Converger {
	if cfg.Rounds < 1 {
		cfg.Rounds = 1
	}
	if cfg.Weight == nil {
		cfg.Weight = LinearWeight
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Converger{
		reevaluator: reevaluator,
		recorder:    recorder,
		cfg:         cfg,
		rng:         rand.New(rand.NewSource(seed)),
		sleep:       ratelimit.Sleep,
		now:         time.Now,
	}
}

// Converge runs the configured rounds over records and returns the combined
// result set. The originals are never mutated; the returned records are the
// latest round's clones carrying the weighted total, the per-round scores,
// the score variance, and the convergence verdict.
func (c *Converger) Converge(ctx context.Context, records []*listing.Record) []*listing.Record {
	if len(records) == 0 {
		return records
	}

	runID := c.now().UTC().Format("20060102-150405")
	slog.Info("starting multi-round re-evaluation",
		"run_id", runID, "rounds", c.cfg.Rounds, "listings", len(records))

	rounds := make([][]*listing.Record, 0, c.cfg.Rounds)
	for round := 1; round <= c.cfg.Rounds; round++ {
		result := c.reevaluator.Reevaluate(ctx, c.shuffledClones(records))
		rounds = append(rounds, result)

		if c.recorder != nil {
			scores := make(map[string]int, len(result))
			for _, rec := range result {
				scores[rec.ID] = rec.TotalScore()
			}
			if err := c.recorder.SaveRoundScores(runID, round, scores); err != nil {
				slog.Warn("saving round scores failed",
					"run_id", runID, "round", round, "error", err)
			}
		}

		if round < c.cfg.Rounds && c.cfg.RoundDelay > 0 {
			c.sleep(ctx, c.cfg.RoundDelay)
		}
	}

	combined := c.combine(rounds)

	converged := 0
	var meanVariance float64
	for _, rec := range combined {
		if rec.Converged {
			converged++
		}
		meanVariance += rec.ScoreVariance
	}
	if len(combined) > 0 {
		meanVariance = math.Round(meanVariance/float64(len(combined))*100) / 100
	}
	slog.Info("multi-round re-evaluation finished",
		"run_id", runID, "listings", len(combined), "converged", converged,
		"mean_variance", meanVariance)
	return combined
}

func (c *Converger) shuffledClones(records []*listing.Record) []*listing.Record {
	clones := make([]*listing.Record, len(records))
	for i, rec := range records {
		clones[i] = rec.Clone()
	}
	c.rng.Shuffle(len(clones), func(i, j int) {
		clones[i], clones[j] = clones[j], clones[i]
	})
	return clones
}

// roundSeries collects one listing's trail across the rounds it appeared in.
type roundSeries struct {
	latest  *listing.Record
	scores  []int
	weights []float64
}

// combine folds the rounds into one record per listing, in first-seen order.
// The final total is the weighted mean of the round totals; the variance is
// the population variance of the raw totals.
func (c *Converger) combine(rounds [][]*listing.Record) []*listing.Record {
	var order []string
	byID := map[string]*roundSeries{}

	for idx, round := range rounds {
		w := c.cfg.Weight(idx+1, c.cfg.Rounds)
		for _, rec := range round {
			s, ok := byID[rec.ID]
			if !ok {
				s = &roundSeries{}
				byID[rec.ID] = s
				order = append(order, rec.ID)
			}
			s.latest = rec
			s.scores = append(s.scores, rec.TotalScore())
			s.weights = append(s.weights, w)
		}
	}

	out := make([]*listing.Record, 0, len(order))
	for _, id := range order {
		s := byID[id]
		rec := s.latest

		variance := populationVariance(s.scores)

		if rec.Scorecard == nil {
			rec.Scorecard = scorecard.Scorecard{}
		}
		rec.Scorecard.SetTotalScore(int(math.Round(weightedMean(s.scores, s.weights))))
		rec.RoundScores = append([]int(nil), s.scores...)
		rec.ScoreVariance = math.Round(variance*100) / 100
		rec.Converged = variance <= c.cfg.Threshold
		rec.ReanalysisNote = fmt.Sprintf("다중 라운드 재평가 완료 (라운드: %d, 분산: %.2f)",
			len(s.scores), rec.ScoreVariance)

		out = append(out, rec)
	}
	return out
}

func weightedMean(scores []int, weights []float64) float64 {
	var sum, wsum float64
	for i, score := range scores {
		sum += float64(score) * weights[i]
		wsum += weights[i]
	}
	if wsum == 0 {
		return 0
	}
	return sum / wsum
}

func populationVariance(scores []int) float64 {
	if len(scores) == 0 {
		return 0
	}
	var mean float64
	for _, score := range scores {
		mean += float64(score)
	}
	mean /= float64(len(scores))

	var v float64
	for _, score := range scores {
		d := float64(score) - mean
		v += d * d
	}
	return v / float64(len(scores))
}
