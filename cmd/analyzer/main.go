package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"peterpan-analyzer/config"
	"peterpan-analyzer/detail"
	"peterpan-analyzer/percentile"
	"peterpan-analyzer/peterpanz"
	"peterpan-analyzer/pipeline"
	"peterpan-analyzer/ratelimit"
	"peterpan-analyzer/reanalysis"
	"peterpan-analyzer/report"
	"peterpan-analyzer/retry"
	"peterpan-analyzer/scheduler"
	"peterpan-analyzer/scorer"
	"peterpan-analyzer/store"
)

func main() {
	cfgPath := flag.String("config", "", "path to the YAML config file (defaults apply when empty)")
	checkpoint := flag.String("checkpoint", "", "re-evaluate a saved initial analysis report instead of fetching")
	daily := flag.Bool("daily", false, "keep running and start an analysis run at the configured schedule")
	flag.Parse()

	// Structured JSON logging to stdout
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Secrets come from the environment; a .env file is an optional convenience
	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("config loaded", "model", cfg.Gemini.Model,
		"max_listings", cfg.API.MaxListings, "rounds", cfg.Reanalysis.Rounds)

	// Set log level
	switch cfg.LogLevel {
	case "debug":
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})))
	case "warn":
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn})))
	case "error":
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))
	}

	// The enrichment cache and round-score log live in SQLite. Both are
	// conveniences: a broken database downgrades the run, never stops it.
	var cache pipeline.EnrichmentCache
	var recorder reanalysis.Recorder
	st, err := store.New(cfg.Store.Path)
	if err != nil {
		slog.Warn("cache store unavailable, running without it", "path", cfg.Store.Path, "error", err)
	} else {
		defer st.Close()
		cache = st
		recorder = st
		slog.Info("cache store opened", "path", cfg.Store.Path)
	}

	apiClient := &http.Client{Timeout: 15 * time.Second}
	vendor := peterpanz.NewClientWithBaseURL(apiClient, cfg.API.BaseURL, peterpanz.Config{
		IdentifierID: os.Getenv("PETERPANZ_IDENTIFIER_ID"),
		OrderID:      os.Getenv("PETERPANZ_ORDER_ID"),
		ZoomLevel:    cfg.API.ZoomLevel,
		CenterLat:    cfg.API.CenterLat,
		CenterLng:    cfg.API.CenterLng,
		Filter:       searchFilter(cfg.API.Filter),
	})

	detailClient := &http.Client{Timeout: config.Seconds(cfg.Scraper.TimeoutSecs)}
	scraper := detail.NewScraperWithBaseURL(detailClient, cfg.Scraper.BaseURL)

	// Without an API key the pipeline still fetches, enriches and reports;
	// it just cannot score.
	var analyzer pipeline.Analyzer
	var converger pipeline.Converger
	if apiKey := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); apiKey == "" {
		slog.Warn("GEMINI_API_KEY not set, scoring and re-evaluation disabled")
	} else {
		// Batch re-evaluation responses run to tens of thousands of tokens.
		geminiClient := &http.Client{Timeout: 5 * time.Minute}
		client := scorer.NewClient(apiKey, cfg.Gemini.Model, cfg.Gemini.Temperature, geminiClient)

		landmark := scorer.Landmark{Lat: cfg.Gemini.LandmarkLat, Lng: cfg.Gemini.LandmarkLng}
		if landmark == (scorer.Landmark{}) {
			landmark = scorer.DefaultLandmark
		}

		analyzer = scorer.NewAnalyzer(client,
			ratelimit.New(config.Seconds(cfg.Gemini.MinDelaySecs), time.Second),
			retry.New(cfg.Gemini.Retries, 10*time.Second, 5*time.Second, retry.Quota{
				Base:      30 * time.Second,
				JitterMin: 5 * time.Second,
				JitterMax: 10 * time.Second,
			}),
			landmark)

		reevaluator := scorer.NewReevaluator(client,
			ratelimit.New(config.Seconds(cfg.Gemini.BatchMinDelaySecs), 500*time.Millisecond),
			retry.New(cfg.Gemini.BatchRetries, time.Second, 0, retry.Quota{
				Base: 60 * time.Second,
				Step: 30 * time.Second,
			}))

		weight, err := reanalysis.WeightByName(cfg.Reanalysis.RoundWeighting)
		if err != nil {
			slog.Error("invalid round weighting", "error", err)
			os.Exit(1)
		}

		engine := percentile.New(percentile.Weights{
			Location:    cfg.Percentiles.Location,
			Building:    cfg.Percentiles.Building,
			Convenience: cfg.Percentiles.Convenience,
			Price:       cfg.Percentiles.Price,
		})
		orchestrator := reanalysis.NewOrchestrator(reevaluator, engine, reanalysis.OrchestratorConfig{
			BatchSize:  cfg.Reanalysis.BatchSize,
			BatchDelay: config.Seconds(cfg.Reanalysis.BatchDelaySecs),
		})
		converger = reanalysis.NewConverger(orchestrator, recorder, reanalysis.ConvergerConfig{
			Rounds:     cfg.Reanalysis.Rounds,
			RoundDelay: config.Seconds(cfg.Reanalysis.RoundDelaySecs),
			Threshold:  cfg.Reanalysis.ConvergenceThreshold,
			Weight:     weight,
		})
	}

	runner := pipeline.NewRunner(pipeline.Deps{
		Lister:    vendor,
		Enricher:  scraper,
		Analyzer:  analyzer,
		Converger: converger,
		Writer:    report.NewWriter(),
		Loader:    report.NewLoader(),
		Cache:     cache,
	}, pipeline.Config{
		PageSize:       cfg.API.PageSize,
		MaxPages:       cfg.API.MaxPages,
		MaxListings:    cfg.API.MaxListings,
		BatchSize:      cfg.Analysis.BatchSize,
		BatchPause:     config.Seconds(cfg.Analysis.BatchPauseSecs),
		Workers:        cfg.Scraper.Workers,
		CacheMaxAge:    config.Hours(cfg.Scraper.CacheMaxAgeHours),
		InitialFile:    cfg.Output.InitialFile,
		FinalFile:      cfg.Output.FinalFile,
		ReanalysisFile: cfg.Output.ReanalysisFile,
	})

	// Graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	switch {
	case *checkpoint != "":
		if err := runner.RunFromCheckpoint(ctx, *checkpoint); err != nil {
			slog.Error("re-evaluation run failed", "error", err)
			os.Exit(1)
		}

	case *daily:
		if cfg.Schedule == "" {
			slog.Error("daily mode needs a schedule (HH:MM) in the config")
			os.Exit(1)
		}
		sched, err := scheduler.New(cfg.Timezone)
		if err != nil {
			slog.Error("failed to create scheduler", "error", err)
			os.Exit(1)
		}
		run := func() {
			if err := runner.Run(ctx); err != nil {
				slog.Error("analysis run failed", "error", err)
			}
		}
		if err := sched.Schedule(cfg.Schedule, run); err != nil {
			slog.Error("failed to schedule analysis run", "error", err)
			os.Exit(1)
		}
		sched.Start()
		slog.Info("scheduler started", "at", cfg.Schedule, "timezone", cfg.Timezone)

		<-ctx.Done()
		sched.Stop()
		slog.Info("shutdown complete")

	default:
		if err := runner.Run(ctx); err != nil {
			slog.Error("analysis run failed", "error", err)
			os.Exit(1)
		}
	}
}

// searchFilter maps the config file's filter block onto the vendor query.
func searchFilter(f config.Filter) peterpanz.Filter {
	return peterpanz.Filter{
		LatitudeMin:       f.LatitudeMin,
		LatitudeMax:       f.LatitudeMax,
		LongitudeMin:      f.LongitudeMin,
		LongitudeMax:      f.LongitudeMax,
		DepositMin:        f.DepositMin,
		DepositMax:        f.DepositMax,
		Floors:            f.Floors,
		ContractTypes:     f.ContractTypes,
		AdditionalOptions: f.AdditionalOptions,
		BuildingTypes:     f.BuildingTypes,
	}
}
