// Package ledgerstore implements the durable delivery ledger: the
// at-least-once queue with a per-entry state machine that survives process
// crashes.
package ledgerstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Status is one of the five ledger entry states.
type Status string

const (
	Pending   Status = "pending"
	InFlight  Status = "in_flight"
	Delivered Status = "delivered"
	Failed    Status = "failed"
	Dlq       Status = "dlq"
)

// DefaultMaxRetries is the max_retries stamped on every new entry.
const DefaultMaxRetries = 5

// orphanStaleWindow is the age beyond which an InFlight entry is presumed
// abandoned by a crashed worker.
const orphanStaleWindow = 300 * time.Second

// ErrNotFound is returned when an operation targets an event_id that does
// not exist, or exists but is not in the state the operation requires.
var ErrNotFound = errors.New("ledgerstore: not found")

// ErrDatabase wraps any underlying storage failure.
var ErrDatabase = errors.New("ledgerstore: database error")

// Entry is one row of the delivery ledger.
type Entry struct {
	ID                string
	EventID           string
	EventType         string
	Payload           string
	Status            Status
	RetryCount        int
	MaxRetries        int
	LastError         string
	TargetEndpointID  string
	DeliveredTo       string
	AvailableAt       int64
	CreatedAt         int64
	DeliveredAt       sql.NullInt64
}

// Stats is the get_stats() snapshot.
type Stats struct {
	Pending        int
	InFlight       int
	DeliveredToday int
	Failed         int
	Dlq            int
}

// Ledger is the SQLite-backed DeliveryLedger. All writes are serialized by
// mu in addition to SQLite's own single-writer semantics, matching
// original_source's single-mutex-guarded connection.
type Ledger struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates/opens the ledger database at path with WAL durability
// pragmas set.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrDatabase, path, err)
	}
	db.SetMaxOpenConns(1)
	l := &Ledger{db: db}
	if err := l.init(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// OpenInMemory opens a standalone in-memory ledger, used by tests.
func OpenInMemory() (*Ledger, error) {
	return Open(":memory:")
}

func (l *Ledger) init() error {
	_, err := l.db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA synchronous=NORMAL;
		PRAGMA wal_autocheckpoint=1000;

		CREATE TABLE IF NOT EXISTS delivery_ledger (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL UNIQUE,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 5,
			last_error TEXT,
			target_endpoint_id TEXT,
			delivered_to TEXT,
			available_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			delivered_at INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_ledger_status
			ON delivery_ledger (status, available_at);

		CREATE INDEX IF NOT EXISTS idx_ledger_delivered
			ON delivery_ledger (delivered_at)
			WHERE status = 'delivered';
	`)
	if err != nil {
		return fmt.Errorf("%w: init schema: %v", ErrDatabase, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error { return l.db.Close() }

// Enqueue creates a Pending entry and returns its fresh event_id.
func (l *Ledger) Enqueue(ctx context.Context, eventType, payload string) (string, error) {
	return l.enqueue(ctx, eventType, payload, "")
}

// EnqueueTargeted is Enqueue but pins target_endpoint_id, for scheduled
// deliveries.
func (l *Ledger) EnqueueTargeted(ctx context.Context, eventType, payload, endpointID string) (string, error) {
	return l.enqueue(ctx, eventType, payload, endpointID)
}

func (l *Ledger) enqueue(ctx context.Context, eventType, payload, endpointID string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := uuid.NewString()
	eventID := uuid.NewString()
	now := time.Now().Unix()

	var endpointArg any
	if endpointID != "" {
		endpointArg = endpointID
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO delivery_ledger
			(id, event_id, event_type, payload, max_retries, target_endpoint_id, available_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, eventID, eventType, payload, DefaultMaxRetries, endpointArg, now, now)
	if err != nil {
		return "", fmt.Errorf("%w: enqueue: %v", ErrDatabase, err)
	}
	log.Printf("[ledger] enqueued %s (%s)", eventID, eventType)
	return eventID, nil
}

// SetAttemptedTarget stamps the delivered_to blob on an entry, used by
// ScheduledWorker to record which target an entry was produced for even
// if the binding is later deleted.
func (l *Ledger) SetAttemptedTarget(ctx context.Context, eventID, deliveredTo string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.ExecContext(ctx,
		`UPDATE delivery_ledger SET delivered_to = ? WHERE event_id = ?`,
		deliveredTo, eventID)
	if err != nil {
		return fmt.Errorf("%w: set attempted target: %v", ErrDatabase, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: event %s", ErrNotFound, eventID)
	}
	return nil
}

// ClaimBatch selects up to limit Pending/Failed entries whose available_at
// has passed, atomically transitions them to InFlight, and returns them
// ordered by available_at ascending.
func (l *Ledger) ClaimBatch(ctx context.Context, limit int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().Unix()
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: claim_batch begin: %v", ErrDatabase, err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, event_id, event_type, payload, status, retry_count, max_retries,
		       last_error, target_endpoint_id, delivered_to, available_at, created_at, delivered_at
		FROM delivery_ledger
		WHERE status IN ('pending', 'failed') AND available_at <= ?
		ORDER BY available_at ASC
		LIMIT ?`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: claim_batch select: %v", ErrDatabase, err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	for i := range entries {
		_, err := tx.ExecContext(ctx,
			`UPDATE delivery_ledger SET status = 'in_flight' WHERE id = ?`, entries[i].ID)
		if err != nil {
			return nil, fmt.Errorf("%w: claim_batch update: %v", ErrDatabase, err)
		}
		entries[i].Status = InFlight
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: claim_batch commit: %v", ErrDatabase, err)
	}
	return entries, nil
}

// MarkDelivered transitions an InFlight entry to Delivered. Returns
// ErrNotFound (non-fatal for callers) if the entry is absent or not
// InFlight.
func (l *Ledger) MarkDelivered(ctx context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().Unix()
	res, err := l.db.ExecContext(ctx,
		`UPDATE delivery_ledger SET status = 'delivered', delivered_at = ?
		 WHERE event_id = ? AND status = 'in_flight'`, now, eventID)
	if err != nil {
		return fmt.Errorf("%w: mark_delivered: %v", ErrDatabase, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: event %s", ErrNotFound, eventID)
	}
	log.Printf("[ledger] delivered %s", eventID)
	return nil
}

// MarkFailed increments retry_count and transitions to Failed (with
// exponential backoff) or Dlq once max_retries is exhausted. Returns the
// new status.
func (l *Ledger) MarkFailed(ctx context.Context, eventID, errText string) (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var retryCount, maxRetries int
	err := l.db.QueryRowContext(ctx,
		`SELECT retry_count, max_retries FROM delivery_ledger WHERE event_id = ?`, eventID).
		Scan(&retryCount, &maxRetries)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: event %s", ErrNotFound, eventID)
	}
	if err != nil {
		return "", fmt.Errorf("%w: mark_failed select: %v", ErrDatabase, err)
	}

	newRetryCount := retryCount + 1
	now := time.Now().Unix()

	var newStatus Status
	var nextAvailable int64
	if newRetryCount >= maxRetries {
		newStatus = Dlq
		nextAvailable = now
	} else {
		newStatus = Failed
		nextAvailable = now + backoffSeconds(newRetryCount)
	}

	_, err = l.db.ExecContext(ctx,
		`UPDATE delivery_ledger
		 SET status = ?, retry_count = ?, last_error = ?, available_at = ?
		 WHERE event_id = ?`,
		string(newStatus), newRetryCount, errText, nextAvailable, eventID)
	if err != nil {
		return "", fmt.Errorf("%w: mark_failed update: %v", ErrDatabase, err)
	}

	log.Printf("[ledger] failed %s (attempt %d/%d): %s", eventID, newRetryCount, maxRetries, errText)
	return newStatus, nil
}

// backoffSeconds computes min(2^n, 3600) for n >= 1.
func backoffSeconds(n int) int64 {
	if n >= 12 { // 2^12 = 4096 > 3600, avoid overflow for large n
		return 3600
	}
	delay := int64(1) << uint(n)
	if delay > 3600 {
		return 3600
	}
	return delay
}

// GetByStatus returns up to 100 entries in the given status, newest first.
func (l *Ledger) GetByStatus(ctx context.Context, status Status) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, event_id, event_type, payload, status, retry_count, max_retries,
		       last_error, target_endpoint_id, delivered_to, available_at, created_at, delivered_at
		FROM delivery_ledger
		WHERE status = ?
		ORDER BY created_at DESC
		LIMIT 100`, string(status))
	if err != nil {
		return nil, fmt.Errorf("%w: get_by_status: %v", ErrDatabase, err)
	}
	return scanEntries(rows)
}

// GetStats returns the pending/in_flight/delivered_today/failed/dlq
// snapshot.
func (l *Ledger) GetStats(ctx context.Context) (Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Unix()

	var s Stats
	err := l.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'in_flight' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'delivered' AND delivered_at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'dlq' THEN 1 ELSE 0 END), 0)
		FROM delivery_ledger`, midnight).
		Scan(&s.Pending, &s.InFlight, &s.DeliveredToday, &s.Failed, &s.Dlq)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: get_stats: %v", ErrDatabase, err)
	}
	return s, nil
}

// RecoverOrphans reclaims InFlight entries stale for longer than 5 minutes
// back to Failed, and returns the count recovered. Meant to run once at
// startup.
func (l *Ledger) RecoverOrphans(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().Unix()
	staleThreshold := now - int64(orphanStaleWindow.Seconds())

	res, err := l.db.ExecContext(ctx, `
		UPDATE delivery_ledger
		SET status = 'failed',
		    last_error = 'Recovered from crash - previous attempt status unknown',
		    available_at = ?
		WHERE status = 'in_flight' AND available_at < ?`, now, staleThreshold)
	if err != nil {
		return 0, fmt.Errorf("%w: recover_orphans: %v", ErrDatabase, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Printf("[ledger] recovered %d orphaned in-flight entries", n)
	}
	return int(n), nil
}

// Reset transitions a Failed or Dlq entry back to Pending, clearing
// last_error.
func (l *Ledger) Reset(ctx context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().Unix()
	res, err := l.db.ExecContext(ctx, `
		UPDATE delivery_ledger
		SET status = 'pending', available_at = ?, last_error = NULL
		WHERE event_id = ? AND status IN ('failed', 'dlq')`, now, eventID)
	if err != nil {
		return fmt.Errorf("%w: reset: %v", ErrDatabase, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: event %s", ErrNotFound, eventID)
	}
	log.Printf("[ledger] reset %s to pending", eventID)
	return nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var status string
		var lastError, targetEndpointID, deliveredTo sql.NullString
		if err := rows.Scan(&e.ID, &e.EventID, &e.EventType, &e.Payload, &status,
			&e.RetryCount, &e.MaxRetries, &lastError, &targetEndpointID, &deliveredTo,
			&e.AvailableAt, &e.CreatedAt, &e.DeliveredAt); err != nil {
			return nil, fmt.Errorf("%w: scan row: %v", ErrDatabase, err)
		}
		e.Status = Status(status)
		e.LastError = lastError.String
		e.TargetEndpointID = targetEndpointID.String
		e.DeliveredTo = deliveredTo.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate rows: %v", ErrDatabase, err)
	}
	return out, nil
}
