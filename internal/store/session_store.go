// Package store persists terminal fill outcomes in SQLite. The log is
// append-only: corrections add new rows superseding earlier ones, and the
// current state of a return is always computed at query time as the latest
// row per (slipType, box) key. Nothing is ever updated or deleted, which
// keeps a complete audit trail for dispute resolution.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"taxpilot/internal/extract"
	"taxpilot/internal/logging"
	"taxpilot/internal/schema"

	_ "modernc.org/sqlite"
)

// Outcome is one terminal FillTask result as persisted.
type Outcome struct {
	ID           int64           `json:"id"`
	UserID       string          `json:"user_id"`
	TaxYear      int             `json:"tax_year"`
	SlipType     schema.SlipType `json:"slip_type"`
	Box          string          `json:"box"`
	Amount       extract.Cents   `json:"amount_cents"`
	Issuer       string          `json:"issuer,omitempty"`
	Status       string          `json:"status"`
	Reason       string          `json:"reason,omitempty"`
	Attempts     int             `json:"attempts"`
	Locator      string          `json:"locator,omitempty"`
	UtteranceRef string          `json:"utterance_ref,omitempty"`
	RecordedAt   time.Time       `json:"recorded_at"`
}

// Terminal statuses as stored.
const (
	StatusVerifiedMatch    = "verified_match"
	StatusVerifiedMismatch = "verified_mismatch"
	StatusFailed           = "failed"
	StatusRemoved          = "removed"
)

// SessionStore is the durable record of what has been submitted, per
// (userId, taxYear).
type SessionStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewSessionStore initializes the SQLite database at the given path.
func NewSessionStore(path string) (*SessionStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SessionStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initialize creates the required tables.
func (s *SessionStore) initialize() error {
	fillLog := `
	CREATE TABLE IF NOT EXISTS fill_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		tax_year INTEGER NOT NULL,
		slip_type TEXT NOT NULL,
		box TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		issuer TEXT DEFAULT '',
		status TEXT NOT NULL,
		reason TEXT DEFAULT '',
		attempts INTEGER DEFAULT 0,
		locator TEXT DEFAULT '',
		utterance_ref TEXT DEFAULT '',
		recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_fill_log_return ON fill_log(user_id, tax_year);
	CREATE INDEX IF NOT EXISTS idx_fill_log_key ON fill_log(user_id, tax_year, slip_type, box);
	`
	if _, err := s.db.Exec(fillLog); err != nil {
		return fmt.Errorf("failed to create fill_log: %w", err)
	}
	return nil
}

// Append records one terminal outcome. Rows are never updated in place.
func (s *SessionStore) Append(o Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Appending outcome: user=%s year=%d key=%s/%s status=%s",
		o.UserID, o.TaxYear, o.SlipType, o.Box, o.Status)

	_, err := s.db.Exec(
		`INSERT INTO fill_log (user_id, tax_year, slip_type, box, amount_cents, issuer, status, reason, attempts, locator, utterance_ref)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.UserID, o.TaxYear, string(o.SlipType), o.Box, int64(o.Amount), o.Issuer,
		o.Status, o.Reason, o.Attempts, o.Locator, o.UtteranceRef,
	)
	if err != nil {
		logging.StoreError("Failed to append outcome for %s/%s: %v", o.SlipType, o.Box, err)
		return err
	}
	return nil
}

// History returns all terminal outcomes for a return in submission order.
// Its length is monotonically non-decreasing across any sequence of
// operations.
func (s *SessionStore) History(userID string, taxYear int) ([]Outcome, error) {
	timer := logging.StartTimer(logging.CategoryStore, "History")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, user_id, tax_year, slip_type, box, amount_cents, issuer, status, reason, attempts, locator, utterance_ref, recorded_at
		 FROM fill_log WHERE user_id = ? AND tax_year = ? ORDER BY id`,
		userID, taxYear,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOutcomes(rows)
}

// LatestByKey computes the latest-wins projection: for each (slipType, box)
// key, the most recent verified entry. Superseded and removed entries drop
// out of the view but stay in the log.
func (s *SessionStore) LatestByKey(userID string, taxYear int) (map[string]Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, user_id, tax_year, slip_type, box, amount_cents, issuer, status, reason, attempts, locator, utterance_ref, recorded_at
		 FROM fill_log
		 WHERE user_id = ? AND tax_year = ? AND status IN (?, ?)
		 ORDER BY id`,
		userID, taxYear, StatusVerifiedMatch, StatusRemoved,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	outcomes, err := scanOutcomes(rows)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]Outcome)
	for _, o := range outcomes {
		key := fmt.Sprintf("%s/%s", o.SlipType, o.Box)
		if o.Status == StatusRemoved {
			delete(latest, key)
			continue
		}
		latest[key] = o
	}
	return latest, nil
}

// LatestOutcome returns the most recent terminal outcome for one key, or
// nil when the key has never reached a terminal state. The fill
// orchestrator uses this as its idempotence probe.
func (s *SessionStore) LatestOutcome(userID string, taxYear int, slipType schema.SlipType, box string) (*Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, user_id, tax_year, slip_type, box, amount_cents, issuer, status, reason, attempts, locator, utterance_ref, recorded_at
		 FROM fill_log
		 WHERE user_id = ? AND tax_year = ? AND slip_type = ? AND box = ?
		 ORDER BY id DESC LIMIT 1`,
		userID, taxYear, string(slipType), box,
	)

	o, err := scanOutcome(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// Close closes the underlying database.
func (s *SessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutcome(r rowScanner) (Outcome, error) {
	var o Outcome
	var slipType string
	var amount int64
	var recorded string
	err := r.Scan(&o.ID, &o.UserID, &o.TaxYear, &slipType, &o.Box, &amount, &o.Issuer,
		&o.Status, &o.Reason, &o.Attempts, &o.Locator, &o.UtteranceRef, &recorded)
	if err != nil {
		return Outcome{}, err
	}
	o.SlipType = schema.SlipType(slipType)
	o.Amount = extract.Cents(amount)
	if ts, perr := time.Parse("2006-01-02 15:04:05", recorded); perr == nil {
		o.RecordedAt = ts
	}
	return o, nil
}

func scanOutcomes(rows *sql.Rows) ([]Outcome, error) {
	var out []Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
