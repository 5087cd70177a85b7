package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for scraped detail-page fields
// and per-round score audit trails.
type Store struct {
	db *sql.DB
}

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS enrichments (
	hidx TEXT PRIMARY KEY,
	fields TEXT NOT NULL,
	fetched_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS round_scores (
	run_id TEXT NOT NULL,
	round INTEGER NOT NULL,
	hidx TEXT NOT NULL,
	total_score INTEGER NOT NULL,
	recorded_at INTEGER NOT NULL,
	PRIMARY KEY (run_id, round, hidx)
);
`

// New opens the SQLite database at dbPath, creates tables if they don't exist, and returns a Store.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set WAL mode: %w", err)
	}

	if _, err := db.Exec(createTablesSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create tables: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveEnrichment caches the scraped detail-page fields for one listing,
// replacing any previous entry.
func (s *Store) SaveEnrichment(id string, fields map[string]any) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("store: encode enrichment %s: %w", id, err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO enrichments (hidx, fields, fetched_at) VALUES (?, ?, ?)`,
		id, string(payload), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: save enrichment %s: %w", id, err)
	}
	return nil
}

// FreshEnrichment returns the cached fields for id when they are younger
// than maxAge. Absent or stale entries return nil, nil.
func (s *Store) FreshEnrichment(id string, maxAge time.Duration) (map[string]any, error) {
	cutoff := time.Now().Add(-maxAge).Unix()

	var payload string
	err := s.db.QueryRow(
		`SELECT fields FROM enrichments WHERE hidx = ? AND fetched_at >= ?`, id, cutoff,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get enrichment %s: %w", id, err)
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return nil, fmt.Errorf("store: decode enrichment %s: %w", id, err)
	}
	return fields, nil
}

// SaveRoundScores records one re-evaluation round's total scores, keyed by
// run and round so repeated runs never collide.
func (s *Store) SaveRoundScores(runID string, round int, scores map[string]int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: save round scores: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for id, total := range scores {
		_, err := tx.Exec(
			`INSERT OR REPLACE INTO round_scores (run_id, round, hidx, total_score, recorded_at)
			 VALUES (?, ?, ?, ?, ?)`,
			runID, round, id, total, now,
		)
		if err != nil {
			return fmt.Errorf("store: save round score %s/%d/%s: %w", runID, round, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: save round scores: %w", err)
	}
	return nil
}

// RoundScores returns the audited totals for one listing across a run, in
// round order. An unknown listing returns an empty slice.
func (s *Store) RoundScores(runID, id string) ([]int, error) {
	rows, err := s.db.Query(
		`SELECT total_score FROM round_scores WHERE run_id = ? AND hidx = ? ORDER BY round`,
		runID, id,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get round scores %s/%s: %w", runID, id, err)
	}
	defer rows.Close()

	var scores []int
	for rows.Next() {
		var total int
		if err := rows.Scan(&total); err != nil {
			return nil, fmt.Errorf("store: scan round score: %w", err)
		}
		scores = append(scores, total)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate round scores: %w", err)
	}
	return scores, nil
}
