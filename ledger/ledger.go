// Package ledger tracks processed push deliveries in SQLite.
//
// Push delivery is at-least-once: the service redelivers anything it cannot
// confirm. The ledger lets a consumer claim each delivery exactly once across
// restarts, so a redelivered webhook is detected and skipped instead of being
// handled twice. Failed deliveries stay claimable for the next attempt.
package ledger

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"
)

// Delivery statuses.
const (
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusFailed     = "failed"
)

// Ledger is a SQLite-backed delivery ledger. Safe for concurrent use; SQLite
// serializes writers via busy_timeout.
type Ledger struct {
	db *sql.DB
}

// Open opens (and creates if needed) the ledger database at path and ensures
// the schema exists.
func Open(ctx context.Context, path string) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Ledger{db: db}, nil
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS push_delivery (
  id           TEXT PRIMARY KEY,
  endpoint     TEXT NOT NULL,
  delivery_id  TEXT NOT NULL,
  payload_hash TEXT NOT NULL,
  status       TEXT NOT NULL,
  attempts     INTEGER NOT NULL DEFAULT 1,
  last_error   TEXT,
  created_at   TEXT NOT NULL,
  updated_at   TEXT NOT NULL,
  UNIQUE(endpoint, delivery_id)
);`,
		`CREATE INDEX IF NOT EXISTS push_delivery_status_updated_at_idx ON push_delivery(status, updated_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap ledger schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Claim attempts to take ownership of a delivery. It returns true when the
// caller should process the delivery: either it has never been seen, or its
// previous attempt failed. A delivery that is processing or processed is a
// duplicate and returns false.
func (l *Ledger) Claim(ctx context.Context, endpoint, deliveryID string, payload []byte) (bool, error) {
	if deliveryID == "" {
		return false, fmt.Errorf("delivery id is empty")
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := l.db.ExecContext(ctx, `
INSERT INTO push_delivery(id, endpoint, delivery_id, payload_hash, status, attempts, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, 1, ?, ?)
ON CONFLICT(endpoint, delivery_id) DO NOTHING;
`, uuid.NewString(), endpoint, deliveryID, PayloadHash(payload), StatusProcessing, now, now)
	if err != nil {
		return false, fmt.Errorf("claim delivery %s: %w", deliveryID, err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim delivery %s: %w", deliveryID, err)
	}
	if inserted == 1 {
		return true, nil
	}

	// Already known: only a failed delivery may be re-claimed.
	res, err = l.db.ExecContext(ctx, `
UPDATE push_delivery
SET status = ?, attempts = attempts + 1, updated_at = ?
WHERE endpoint = ? AND delivery_id = ? AND status = ?;
`, StatusProcessing, now, endpoint, deliveryID, StatusFailed)
	if err != nil {
		return false, fmt.Errorf("reclaim delivery %s: %w", deliveryID, err)
	}
	reclaimed, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reclaim delivery %s: %w", deliveryID, err)
	}
	return reclaimed == 1, nil
}

// Complete marks a claimed delivery as processed.
func (l *Ledger) Complete(ctx context.Context, endpoint, deliveryID string) error {
	return l.transition(ctx, endpoint, deliveryID, StatusProcessed, nil)
}

// Fail marks a claimed delivery as failed so a redelivery can claim it again.
func (l *Ledger) Fail(ctx context.Context, endpoint, deliveryID string, cause error) error {
	return l.transition(ctx, endpoint, deliveryID, StatusFailed, cause)
}

func (l *Ledger) transition(ctx context.Context, endpoint, deliveryID, status string, cause error) error {
	var lastError *string
	if cause != nil {
		msg := cause.Error()
		lastError = &msg
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := l.db.ExecContext(ctx, `
UPDATE push_delivery
SET status = ?, last_error = ?, updated_at = ?
WHERE endpoint = ? AND delivery_id = ?;
`, status, lastError, now, endpoint, deliveryID)
	if err != nil {
		return fmt.Errorf("mark delivery %s %s: %w", deliveryID, status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark delivery %s %s: %w", deliveryID, status, err)
	}
	if n == 0 {
		return fmt.Errorf("delivery %s not found for endpoint %s", deliveryID, endpoint)
	}
	return nil
}

// Status returns the recorded status and attempt count for a delivery.
func (l *Ledger) Status(ctx context.Context, endpoint, deliveryID string) (string, int, error) {
	var (
		status   string
		attempts int
	)
	err := l.db.QueryRowContext(ctx, `
SELECT status, attempts FROM push_delivery WHERE endpoint = ? AND delivery_id = ?;
`, endpoint, deliveryID).Scan(&status, &attempts)
	if err != nil {
		return "", 0, fmt.Errorf("lookup delivery %s: %w", deliveryID, err)
	}
	return status, attempts, nil
}

// PruneBefore deletes processed deliveries last touched before cutoff and
// returns how many were removed. Failed and in-flight rows are kept.
func (l *Ledger) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `
DELETE FROM push_delivery WHERE status = ? AND updated_at < ?;
`, StatusProcessed, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune ledger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune ledger: %w", err)
	}
	return n, nil
}

// PayloadHash fingerprints a delivery body. Used to spot providers that
// reuse a delivery id for different payloads.
func PayloadHash(payload []byte) string {
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
