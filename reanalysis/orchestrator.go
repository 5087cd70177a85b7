// Package reanalysis re-scores already-analyzed listings in batches and
// runs multiple independent rounds until the scores stabilize.
package reanalysis

import (
	"context"
	"log/slog"
	"time"

	"peterpan-analyzer/listing"
	"peterpan-analyzer/ratelimit"
	"peterpan-analyzer/scorecard"
)

// Requester sends one batch of listings for re-scoring and returns the raw
// response text.
type Requester interface {
	ReevaluateBatch(ctx context.Context, records []*listing.Record) (string, error)
}

// Ranker recomputes percentile standings for a set of records.
type Ranker interface {
	Compute(records []*listing.Record) []*listing.Record
}

// OrchestratorConfig controls batch slicing and pacing.
type OrchestratorConfig struct {
	BatchSize  int
	BatchDelay time.Duration
}

// Orchestrator runs one full re-evaluation pass: it slices the result set
// into batches, sends each for re-scoring, reconciles the responses onto
// the records, and re-ranks each batch.
type Orchestrator struct {
	requester Requester
	ranker    Ranker
	cfg       OrchestratorConfig

	sleep func(context.Context, time.Duration) error
}

// NewOrchestrator creates an Orchestrator. A batch size below 1 is raised
// to 1.
func NewOrchestrator(requester Requester, ranker Ranker, cfg OrchestratorConfig) *Orchestrator {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &Orchestrator{
		requester: requester,
		ranker:    ranker,
		cfg:       cfg,
		sleep:     ratelimit.Sleep,
	}
}

// Reevaluate re-scores records batch by batch, mutating them in place and
// returning the same records. A failed batch keeps its original scores; a
// canceled context stops the API calls but still re-ranks what remains, so
// the caller always gets a complete result set back.
func (o *Orchestrator) Reevaluate(ctx context.Context, records []*listing.Record) []*listing.Record {
	if len(records) == 0 {
		return records
	}

	total := (len(records) + o.cfg.BatchSize - 1) / o.cfg.BatchSize
	out := make([]*listing.Record, 0, len(records))

	for i := 0; i < len(records); i += o.cfg.BatchSize {
		end := i + o.cfg.BatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[i:end]
		num := i/o.cfg.BatchSize + 1

		if ctx.Err() != nil {
			slog.Warn("re-evaluation interrupted, keeping original scores",
				"batch", num, "batches", total)
			out = append(out, o.ranker.Compute(batch)...)
			continue
		}

		out = append(out, o.reevaluateBatch(ctx, batch, num, total)...)

		if end < len(records) && o.cfg.BatchDelay > 0 {
			o.sleep(ctx, o.cfg.BatchDelay)
		}
	}
	return out
}

func (o *Orchestrator) reevaluateBatch(ctx context.Context, batch []*listing.Record, num, total int) []*listing.Record {
	slog.Info("re-evaluating batch", "batch", num, "batches", total, "size", len(batch))

	text, err := o.requester.ReevaluateBatch(ctx, batch)
	if err != nil {
		slog.Error("batch re-evaluation failed, keeping original scores",
			"batch", num, "error", err)
		return o.ranker.Compute(batch)
	}

	cards, ok := scorecard.Parse(text)
	if !ok {
		slog.Error("unusable batch response, keeping original scores", "batch", num)
		return o.ranker.Compute(batch)
	}

	byID := make(map[string]*listing.Record, len(batch))
	for _, rec := range batch {
		byID[rec.ID] = rec
	}

	applied := make(map[string]bool, len(batch))
	for _, card := range cards {
		id := card.ID()
		rec, known := byID[id]
		if !known {
			slog.Warn("batch response names unknown listing, discarding", "batch", num, "id", id)
			continue
		}
		if applied[id] {
			slog.Warn("batch response repeats listing, keeping first", "batch", num, "id", id)
			continue
		}
		applied[id] = true

		card.CoerceScores()
		rec.ApplyScorecard(card)
	}

	for _, rec := range batch {
		if !applied[rec.ID] {
			slog.Warn("listing missing from batch response, keeping original scores",
				"batch", num, "id", rec.ID)
			rec.ReanalysisNote = "재평가 API 응답에서 누락되어 원본 데이터 유지"
		}
	}

	return o.ranker.Compute(batch)
}
