// Package store provides persistent storage for liveness checks and settings
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/faceattend/faceattend/internal/config"
	"github.com/faceattend/faceattend/internal/liveness"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a check or setting does not exist
var ErrNotFound = errors.New("not found")

// settingsLiveness is the settings key of the liveness section
const settingsLiveness = "liveness"

// Check represents one stored liveness check
type Check struct {
	ID           string             `json:"id"`
	Source       string             `json:"source"`
	Score        float64            `json:"score"`
	IsLive       bool               `json:"is_live"`
	Reasons      []string           `json:"reasons"`
	Features     *liveness.Features `json:"features,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
	DurationMS   int64              `json:"duration_ms"`
	CreatedAt    time.Time          `json:"created_at"`
}

// Failed reports whether feature extraction failed for this check
func (c *Check) Failed() bool {
	return c.Features == nil
}

// Stats summarises stored checks
type Stats struct {
	Total        int64   `json:"total"`
	Live         int64   `json:"live"`
	Spoof        int64   `json:"spoof"`
	Failed       int64   `json:"failed"`
	AverageScore float64 `json:"average_score"`
}

// Store provides persistent storage backed by SQLite
type Store struct {
	db      *sql.DB
	dataDir string
}

// NewStore opens (or creates) the database at dbPath
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// Open database
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:      db,
		dataDir: dir,
	}

	// Initialize schema
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database tables
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS liveness_checks (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL DEFAULT '',
		score REAL NOT NULL,
		is_live BOOLEAN NOT NULL,
		reasons BLOB NOT NULL,
		features BLOB,
		error_message TEXT,
		duration_ms INTEGER DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_liveness_checks_created_at ON liveness_checks(created_at);
	CREATE INDEX IF NOT EXISTS idx_liveness_checks_source ON liveness_checks(source);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordCheck stores a verdict and returns the stored check
func (s *Store) RecordCheck(source string, verdict *liveness.Verdict, duration time.Duration) (*Check, error) {
	if verdict == nil {
		return nil, fmt.Errorf("nil verdict")
	}

	check := &Check{
		ID:         uuid.NewString(),
		Source:     source,
		Score:      verdict.Score,
		IsLive:     verdict.IsLive,
		Reasons:    verdict.Reasons,
		Features:   verdict.Features,
		DurationMS: duration.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	if check.Reasons == nil {
		check.Reasons = []string{}
	}
	if check.Failed() {
		check.ErrorMessage = verdict.Reason()
	}

	reasonsJSON, err := json.Marshal(check.Reasons)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize reasons: %w", err)
	}

	var featuresJSON []byte
	if check.Features != nil {
		featuresJSON, err = json.Marshal(check.Features)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize features: %w", err)
		}
	}

	_, err = s.db.Exec(
		`INSERT INTO liveness_checks (id, source, score, is_live, reasons, features, error_message, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		check.ID, check.Source, check.Score, check.IsLive, reasonsJSON, featuresJSON,
		check.ErrorMessage, check.DurationMS, check.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record check: %w", err)
	}

	return check, nil
}

const checkColumns = `id, source, score, is_live, reasons, features, error_message, duration_ms, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCheck(row rowScanner) (*Check, error) {
	var check Check
	var reasonsJSON, featuresJSON []byte
	var errorMsg sql.NullString

	err := row.Scan(
		&check.ID, &check.Source, &check.Score, &check.IsLive,
		&reasonsJSON, &featuresJSON, &errorMsg, &check.DurationMS, &check.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if errorMsg.Valid {
		check.ErrorMessage = errorMsg.String
	}

	// Deserialize reasons and features
	if err := json.Unmarshal(reasonsJSON, &check.Reasons); err != nil {
		return nil, fmt.Errorf("failed to deserialize reasons: %w", err)
	}
	if len(featuresJSON) > 0 {
		check.Features = &liveness.Features{}
		if err := json.Unmarshal(featuresJSON, check.Features); err != nil {
			return nil, fmt.Errorf("failed to deserialize features: %w", err)
		}
	}

	return &check, nil
}

// GetCheck retrieves a check by ID
func (s *Store) GetCheck(id string) (*Check, error) {
	check, err := scanCheck(s.db.QueryRow(
		`SELECT `+checkColumns+` FROM liveness_checks WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("check %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get check: %w", err)
	}
	return check, nil
}

// ListChecks returns the most recent checks, newest first. An empty source
// lists checks from every source.
func (s *Store) ListChecks(source string, limit int) ([]Check, error) {
	rows, err := s.db.Query(
		`SELECT `+checkColumns+`
		 FROM liveness_checks
		 WHERE ? = '' OR source = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		source, source, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list checks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	checks := []Check{}
	for rows.Next() {
		check, err := scanCheck(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan check: %w", err)
		}
		checks = append(checks, *check)
	}

	return checks, rows.Err()
}

// Stats aggregates every stored check
func (s *Store) Stats() (*Stats, error) {
	var stats Stats
	err := s.db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN is_live THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN features IS NULL THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(CASE WHEN features IS NOT NULL THEN score END), 0)
		 FROM liveness_checks`,
	).Scan(&stats.Total, &stats.Live, &stats.Failed, &stats.AverageScore)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}

	stats.Spoof = stats.Total - stats.Live - stats.Failed
	return &stats, nil
}

// PruneChecks deletes checks created before the given time
func (s *Store) PruneChecks(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM liveness_checks WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune checks: %w", err)
	}
	return res.RowsAffected()
}

// SaveLivenessSettings persists the liveness section of the configuration
func (s *Store) SaveLivenessSettings(settings config.LivenessConfig) error {
	return s.saveSetting(settingsLiveness, settings)
}

// LoadLivenessSettings returns the persisted liveness settings, or
// ErrNotFound if none were ever saved
func (s *Store) LoadLivenessSettings() (config.LivenessConfig, error) {
	var settings config.LivenessConfig
	err := s.loadSetting(settingsLiveness, &settings)
	return settings, err
}

func (s *Store) saveSetting(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to serialize setting %s: %w", key, err)
	}

	_, err = s.db.Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}
	return nil
}

func (s *Store) loadSetting(key string, value interface{}) error {
	var data []byte
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("setting %s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("failed to load setting %s: %w", key, err)
	}

	if err := json.Unmarshal(data, value); err != nil {
		return fmt.Errorf("failed to deserialize setting %s: %w", key, err)
	}
	return nil
}
