package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration. Secrets (the Gemini API key
// and the vendor identifier headers) are read from the environment, never
// from this file.
type Config struct {
	API         API         `yaml:"api"`
	Scraper     Scraper     `yaml:"scraper"`
	Gemini      Gemini      `yaml:"gemini"`
	Analysis    Analysis    `yaml:"analysis"`
	Reanalysis  Reanalysis  `yaml:"reanalysis"`
	Percentiles Percentiles `yaml:"percentiles"`
	Output      Output      `yaml:"output"`
	Store       Store       `yaml:"store"`
	Schedule    string      `yaml:"schedule"`
	Timezone    string      `yaml:"timezone"`
	LogLevel    string      `yaml:"log_level"`
}

// API configures the listing search endpoint and its filter.
type API struct {
	BaseURL     string  `yaml:"base_url"`
	PageSize    int     `yaml:"page_size"`
	MaxPages    int     `yaml:"max_pages"`
	MaxListings int     `yaml:"max_listings"`
	ZoomLevel   int     `yaml:"zoom_level"`
	CenterLat   float64 `yaml:"center_lat"`
	CenterLng   float64 `yaml:"center_lng"`
	Filter      Filter  `yaml:"filter"`
}

// Filter narrows the listing search. Ranges are inclusive; list fields
// replace the defaults wholesale when set.
type Filter struct {
	LatitudeMin       float64  `yaml:"latitude_min"`
	LatitudeMax       float64  `yaml:"latitude_max"`
	LongitudeMin      float64  `yaml:"longitude_min"`
	LongitudeMax      float64  `yaml:"longitude_max"`
	DepositMin        int64    `yaml:"deposit_min"`
	DepositMax        int64    `yaml:"deposit_max"`
	Floors            []string `yaml:"floors"`
	ContractTypes     []string `yaml:"contract_types"`
	AdditionalOptions []string `yaml:"additional_options"`
	BuildingTypes     []string `yaml:"building_types"`
}

// Scraper configures detail-page fetching.
type Scraper struct {
	BaseURL          string  `yaml:"base_url"`
	Workers          int     `yaml:"workers"`
	TimeoutSecs      float64 `yaml:"timeout_secs"`
	CacheMaxAgeHours float64 `yaml:"cache_max_age_hours"`
}

// Gemini configures the scoring model and its pacing.
type Gemini struct {
	Model             string  `yaml:"model"`
	Temperature       float64 `yaml:"temperature"`
	MinDelaySecs      float64 `yaml:"min_delay_secs"`
	BatchMinDelaySecs float64 `yaml:"batch_min_delay_secs"`
	Retries           int     `yaml:"retries"`
	BatchRetries      int     `yaml:"batch_retries"`
	LandmarkLat       float64 `yaml:"landmark_lat"`
	LandmarkLng       float64 `yaml:"landmark_lng"`
}

// Analysis configures the initial per-listing scoring pass.
type Analysis struct {
	BatchSize      int     `yaml:"batch_size"`
	BatchPauseSecs float64 `yaml:"batch_pause_secs"`
}

// Reanalysis configures the multi-round re-evaluation pass.
type Reanalysis struct {
	BatchSize            int     `yaml:"batch_size"`
	Rounds               int     `yaml:"rounds"`
	ConvergenceThreshold float64 `yaml:"convergence_threshold"`
	BatchDelaySecs       float64 `yaml:"batch_delay_secs"`
	RoundDelaySecs       float64 `yaml:"round_delay_secs"`
	RoundWeighting       string  `yaml:"round_weighting"`
}

// Percentiles weighs the per-category percentiles in the blended score.
// The four weights must sum to 1.
type Percentiles struct {
	Location    float64 `yaml:"location"`
	Building    float64 `yaml:"building"`
	Convenience float64 `yaml:"convenience"`
	Price       float64 `yaml:"price"`
}

// Output names the report files each stage writes.
type Output struct {
	InitialFile    string `yaml:"initial_file"`
	FinalFile      string `yaml:"final_file"`
	ReanalysisFile string `yaml:"reanalysis_file"`
}

// Store configures the local cache database.
type Store struct {
	Path string `yaml:"path"`
}

// Defaults returns a Config with all default values set. The filter box
// covers Seoul, tuned for jeonse one- and two-room listings.
func Defaults() Config {
	return Config{
		API: API{
			BaseURL:     "https://api.peterpanz.com",
			PageSize:    20,
			MaxPages:    55,
			MaxListings: 1200,
			ZoomLevel:   12,
			CenterLat:   37.566628,
			CenterLng:   126.978038,
			Filter: Filter{
				LatitudeMin:       37.4495189,
				LatitudeMax:       37.6835533,
				LongitudeMin:      126.8736678,
				LongitudeMax:      127.2746689,
				DepositMin:        100000000,
				DepositMax:        200000000,
				Floors:            []string{"2층~5층", "6층~9층", "10층 이상"},
				ContractTypes:     []string{"전세"},
				AdditionalOptions: []string{"전세자금대출"},
				BuildingTypes:     []string{"원/투룸"},
			},
		},
		Scraper: Scraper{
			BaseURL:          "https://www.peterpanz.com",
			Workers:          25,
			TimeoutSecs:      10,
			CacheMaxAgeHours: 24,
		},
		Gemini: Gemini{
			Model:             "gemini-2.5-flash-preview-05-20",
			Temperature:       0.1,
			MinDelaySecs:      0.3,
			BatchMinDelaySecs: 2.0,
			Retries:           5,
			BatchRetries:      3,
			LandmarkLat:       37.5759,
			LandmarkLng:       126.9780,
		},
		Analysis: Analysis{
			BatchSize:      60,
			BatchPauseSecs: 0.5,
		},
		Reanalysis: Reanalysis{
			BatchSize:            15,
			Rounds:               5,
			ConvergenceThreshold: 5.0,
			BatchDelaySecs:       1,
			RoundDelaySecs:       2,
			RoundWeighting:       "linear",
		},
		Percentiles: Percentiles{
			Location:    0.4,
			Building:    0.3,
			Convenience: 0.15,
			Price:       0.15,
		},
		Output: Output{
			InitialFile:    "peterpanz_initial_analysis.xlsx",
			FinalFile:      "peterpanz_analysis_result.xlsx",
			ReanalysisFile: "peterpanz_reanalysis_results.xlsx",
		},
		Store:    Store{Path: "./analyzer.db"},
		Timezone: "Asia/Seoul",
		LogLevel: "info",
	}
}

// Load returns a validated Config: the defaults overlaid with the YAML file
// at path. An empty path skips the file and returns the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks that counts are positive, delays non-negative, the
// percentile weights sum to 1 and the schedule parses.
func (c *Config) Validate() error {
	positives := []struct {
		name  string
		value int
	}{
		{"api.page_size", c.API.PageSize},
		{"api.max_pages", c.API.MaxPages},
		{"api.max_listings", c.API.MaxListings},
		{"scraper.workers", c.Scraper.Workers},
		{"gemini.retries", c.Gemini.Retries},
		{"gemini.batch_retries", c.Gemini.BatchRetries},
		{"analysis.batch_size", c.Analysis.BatchSize},
		{"reanalysis.batch_size", c.Reanalysis.BatchSize},
		{"reanalysis.rounds", c.Reanalysis.Rounds},
	}
	for _, p := range positives {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.value)
		}
	}

	nonNegatives := []struct {
		name  string
		value float64
	}{
		{"scraper.cache_max_age_hours", c.Scraper.CacheMaxAgeHours},
		{"gemini.temperature", c.Gemini.Temperature},
		{"gemini.min_delay_secs", c.Gemini.MinDelaySecs},
		{"gemini.batch_min_delay_secs", c.Gemini.BatchMinDelaySecs},
		{"analysis.batch_pause_secs", c.Analysis.BatchPauseSecs},
		{"reanalysis.convergence_threshold", c.Reanalysis.ConvergenceThreshold},
		{"reanalysis.batch_delay_secs", c.Reanalysis.BatchDelaySecs},
		{"reanalysis.round_delay_secs", c.Reanalysis.RoundDelaySecs},
	}
	for _, n := range nonNegatives {
		if n.value < 0 {
			return fmt.Errorf("%s must not be negative, got %v", n.name, n.value)
		}
	}

	if c.Scraper.TimeoutSecs <= 0 {
		return fmt.Errorf("scraper.timeout_secs must be positive, got %v", c.Scraper.TimeoutSecs)
	}

	sum := c.Percentiles.Location + c.Percentiles.Building + c.Percentiles.Convenience + c.Percentiles.Price
	if math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("percentile weights must sum to 1, got %v", sum)
	}

	switch c.Reanalysis.RoundWeighting {
	case "", "linear", "uniform":
	default:
		return fmt.Errorf("unknown reanalysis.round_weighting %q", c.Reanalysis.RoundWeighting)
	}

	if c.Schedule != "" {
		if err := ValidateTime(c.Schedule); err != nil {
			return err
		}
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	return nil
}

// ValidateTime checks that a time string is in valid HH:MM 24-hour format.
func ValidateTime(t string) error {
	if len(t) != 5 || t[2] != ':' {
		return fmt.Errorf("invalid time format %q: must be HH:MM", t)
	}

	if t[0] < '0' || t[0] > '9' || t[1] < '0' || t[1] > '9' ||
		t[3] < '0' || t[3] > '9' || t[4] < '0' || t[4] > '9' {
		return fmt.Errorf("invalid time format %q: must be HH:MM", t)
	}

	hour := (int(t[0]-'0') * 10) + int(t[1]-'0')
	minute := (int(t[3]-'0') * 10) + int(t[4]-'0')

	if hour < 0 || hour > 23 {
		return fmt.Errorf("invalid time %q: hour must be 0-23", t)
	}
	if minute < 0 || minute > 59 {
		return fmt.Errorf("invalid time %q: minute must be 0-59", t)
	}

	return nil
}

// Seconds converts a fractional seconds value from the config file.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Hours converts a fractional hours value from the config file.
func Hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
