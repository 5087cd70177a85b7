// Package pipeline wires the fetch, enrichment, scoring, re-evaluation and
// reporting stages into complete analysis runs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"peterpan-analyzer/listing"
	"peterpan-analyzer/ratelimit"
)

// Lister fetches one page of listings from the vendor API.
type Lister interface {
	FetchPage(ctx context.Context, pageIndex, pageSize int) ([]*listing.Record, error)
}

// Enricher fetches one listing's detail-page fields.
type Enricher interface {
	Fetch(ctx context.Context, id string) (map[string]any, error)
}

// Analyzer scores one record in place.
type Analyzer interface {
	Analyze(ctx context.Context, rec *listing.Record) error
}

// Converger runs the multi-round re-evaluation over a result set.
type Converger interface {
	Converge(ctx context.Context, records []*listing.Record) []*listing.Record
}

// Writer renders a result set to a report file.
type Writer interface {
	Write(records []*listing.Record, path string) error
}

// Loader reads a saved report back into records.
type Loader interface {
	Load(path string) ([]*listing.Record, error)
}

// EnrichmentCache persists detail-page fields between runs.
type EnrichmentCache interface {
	FreshEnrichment(id string, maxAge time.Duration) (map[string]any, error)
	SaveEnrichment(id string, fields map[string]any) error
}

// Deps are the pipeline's collaborators. Analyzer and Converger are nil when
// no scoring credentials exist; Cache and Loader may be nil.
type Deps struct {
	Lister    Lister
	Enricher  Enricher
	Analyzer  Analyzer
	Converger Converger
	Writer    Writer
	Loader    Loader
	Cache     EnrichmentCache
}

// Config sets the run geometry and the report paths.
type Config struct {
	PageSize    int
	MaxPages    int
	MaxListings int

	BatchSize  int
	BatchPause time.Duration
	Workers    int

	CacheMaxAge time.Duration

	InitialFile    string
	FinalFile      string
	ReanalysisFile string
}

// Runner executes analysis runs.
type Runner struct {
	deps Deps
	cfg  Config

	sleep func(context.Context, time.Duration) error
}

// NewRunner creates a Runner. Worker and batch counts below 1 are raised
// to 1.
func NewRunner(deps Deps, cfg Config) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &Runner{deps: deps, cfg: cfg, sleep: ratelimit.Sleep}
}

// Run executes a full pass: fetch every page, enrich and score in batches,
// rank, write the initial report, re-evaluate, and write the final report.
// A failed initial report write is logged but does not stop the run.
func (r *Runner) Run(ctx context.Context) error {
	started := time.Now()

	records, err := r.fetchAll(ctx)
	if err != nil {
		return err
	}
	if err := r.analyzeAll(ctx, records); err != nil {
		return err
	}

	sortByTotal(records)
	assignRanks(records)
	if err := r.deps.Writer.Write(records, r.cfg.InitialFile); err != nil {
		slog.Error("writing initial report failed", "path", r.cfg.InitialFile, "error", err)
	}

	if r.deps.Converger != nil {
		converged := r.deps.Converger.Converge(ctx, records)
		records = backfillMissing(records, converged)
	} else {
		slog.Warn("re-evaluation skipped, no scoring credentials")
	}

	sortFinal(records)
	assignRanks(records)
	if err := r.deps.Writer.Write(records, r.cfg.FinalFile); err != nil {
		return fmt.Errorf("writing final report: %w", err)
	}

	slog.Info("analysis run complete", "listings", len(records),
		"path", r.cfg.FinalFile, "took", time.Since(started).Round(time.Second))
	return nil
}

// RunFromCheckpoint re-evaluates a saved initial analysis instead of
// fetching fresh listings.
func (r *Runner) RunFromCheckpoint(ctx context.Context, path string) error {
	if r.deps.Loader == nil {
		return errors.New("no checkpoint loader configured")
	}
	if r.deps.Converger == nil {
		return errors.New("re-evaluation requires scoring credentials")
	}

	records, err := r.deps.Loader.Load(path)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("checkpoint %s is empty", path)
	}

	converged := r.deps.Converger.Converge(ctx, records)
	records = backfillMissing(records, converged)

	sortFinal(records)
	assignRanks(records)
	if err := r.deps.Writer.Write(records, r.cfg.ReanalysisFile); err != nil {
		return fmt.Errorf("writing re-evaluation report: %w", err)
	}

	slog.Info("re-evaluation run complete", "listings", len(records), "path", r.cfg.ReanalysisFile)
	return nil
}

// fetchAll pages through the vendor API until the page limit, the listing
// cap, or an empty page past the first. Failed pages are skipped; only an
// entirely empty result set is fatal.
func (r *Runner) fetchAll(ctx context.Context) ([]*listing.Record, error) {
	var records []*listing.Record

	for page := 1; page <= r.cfg.MaxPages; page++ {
		if r.cfg.MaxListings > 0 && len(records) >= r.cfg.MaxListings {
			slog.Info("listing cap reached", "cap", r.cfg.MaxListings)
			break
		}

		batch, err := r.deps.Lister.FetchPage(ctx, page, r.cfg.PageSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Error("page fetch failed, skipping", "page", page, "error", err)
			continue
		}
		if len(batch) == 0 {
			slog.Warn("page returned no listings", "page", page)
			if page > 1 {
				break
			}
			continue
		}

		records = append(records, batch...)
		slog.Info("page fetched", "page", page, "listings", len(batch), "accumulated", len(records))
	}

	if len(records) == 0 {
		return nil, errors.New("no listings fetched")
	}
	slog.Info("listings fetched", "count", len(records))
	return records, nil
}

// analyzeAll enriches and scores records in batches. Scoring is skipped
// entirely when no Analyzer is configured; enrichment still runs so the
// report carries the scraped fields.
func (r *Runner) analyzeAll(ctx context.Context, records []*listing.Record) error {
	if r.deps.Analyzer == nil {
		slog.Warn("no scoring credentials, running without analysis")
	}

	batches := (len(records) + r.cfg.BatchSize - 1) / r.cfg.BatchSize
	for i := 0; i < len(records); i += r.cfg.BatchSize {
		end := i + r.cfg.BatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[i:end]
		num := i/r.cfg.BatchSize + 1
		slog.Info("processing batch", "batch", num, "batches", batches, "size", len(batch))

		if err := r.enrichBatch(ctx, batch); err != nil {
			return err
		}
		if r.deps.Analyzer != nil {
			if err := r.scoreBatch(ctx, batch); err != nil {
				return err
			}
		}

		if end < len(records) && r.cfg.BatchPause > 0 {
			if err := r.sleep(ctx, r.cfg.BatchPause); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Runner) enrichBatch(ctx context.Context, batch []*listing.Record) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, rec := range batch {
		rec := rec
		g.Go(func() error {
			r.enrich(ctx, rec)
			return ctx.Err()
		})
	}
	return g.Wait()
}

// enrich merges detail-page fields into the record, going to the cache
// first. Fetch and cache failures leave the record with its vendor fields.
func (r *Runner) enrich(ctx context.Context, rec *listing.Record) {
	fields := r.cachedEnrichment(rec.ID)
	if fields == nil {
		fetched, err := r.deps.Enricher.Fetch(ctx, rec.ID)
		if err != nil {
			slog.Warn("detail fetch failed", "id", rec.ID, "error", err)
		} else {
			fields = fetched
			if r.deps.Cache != nil {
				if err := r.deps.Cache.SaveEnrichment(rec.ID, fields); err != nil {
					slog.Warn("caching enrichment failed", "id", rec.ID, "error", err)
				}
			}
		}
	}

	for k, v := range fields {
		rec.Fields[k] = v
	}
	setImageCount(rec)
}

func (r *Runner) cachedEnrichment(id string) map[string]any {
	if r.deps.Cache == nil || r.cfg.CacheMaxAge <= 0 {
		return nil
	}
	fields, err := r.deps.Cache.FreshEnrichment(id, r.cfg.CacheMaxAge)
	if err != nil {
		slog.Warn("enrichment cache read failed", "id", id, "error", err)
		return nil
	}
	return fields
}

func (r *Runner) scoreBatch(ctx context.Context, batch []*listing.Record) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, rec := range batch {
		rec := rec
		g.Go(func() error {
			return r.deps.Analyzer.Analyze(ctx, rec)
		})
	}
	return g.Wait()
}

// setImageCount flattens the vendor image list into a plain count column.
func setImageCount(rec *listing.Record) {
	images, ok := rec.Fields["images"].(map[string]any)
	if !ok {
		return
	}
	if s, ok := images["S"].([]any); ok {
		rec.Fields["images_S_length"] = len(s)
	}
}

// backfillMissing adds back any listing the re-evaluation lost, annotated,
// so the final report always covers the full initial set.
func backfillMissing(initial, converged []*listing.Record) []*listing.Record {
	seen := make(map[string]bool, len(converged))
	for _, rec := range converged {
		seen[rec.ID] = true
	}

	out := converged
	for _, rec := range initial {
		if seen[rec.ID] {
			continue
		}
		slog.Warn("listing missing after re-evaluation, keeping initial result", "id", rec.ID)
		prev, _ := rec.Fields["ai_reanalysis_error"].(string)
		rec.Fields["ai_reanalysis_error"] = appendNote(prev, "최종 재평가 결과에서 누락됨")
		rec.ReanalysisNote = appendNote(rec.ReanalysisNote, "최종 재평가 결과에서 누락되어 초기 분석 데이터 사용")
		out = append(out, rec)
	}
	return out
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "; " + note
}

func sortByTotal(records []*listing.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].TotalScore() > records[j].TotalScore()
	})
}

// sortFinal orders by weighted percentile when any record carries one,
// falling back per record to the total score; otherwise by total score.
func sortFinal(records []*listing.Record) {
	ranked := false
	for _, rec := range records {
		if rec.Percentiles != nil {
			ranked = true
			break
		}
	}
	if !ranked {
		sortByTotal(records)
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		return finalSortKey(records[i]) > finalSortKey(records[j])
	})
}

func finalSortKey(rec *listing.Record) float64 {
	if rec.Percentiles != nil {
		return rec.Percentiles.Weighted
	}
	return float64(rec.TotalScore())
}

func assignRanks(records []*listing.Record) {
	for i, rec := range records {
		rec.Rank = i + 1
	}
}
