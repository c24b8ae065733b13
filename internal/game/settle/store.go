// Package settle is the settlement outbox: game results that move money
// are journaled into SQLite and drained to the wallet side with retries.
// The outbox is the only path from game outcomes to balances.
package settle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/parlor/internal/platform/storage/sqlitemigrate"

	"github.com/louisbranch/parlor/internal/game/settle/migrations"
	_ "modernc.org/sqlite"
)

// Outbox row statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusFailed     = "failed"
	StatusDead       = "dead"
)

const (
	deadLetterThreshold = 8
	processingLease     = 2 * time.Minute
)

// Entry is one settlement awaiting delivery.
type Entry struct {
	ID            int64
	RoomID        string
	GameType      string
	EventName     string
	Payload       json.RawMessage
	Status        string
	AttemptCount  int
	NextAttemptAt time.Time
	LastError     string
	EnqueuedAt    time.Time
	UpdatedAt     time.Time
}

// Store provides SQLite-backed settlement persistence.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a settlement store and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}

	return s.sqlDB.Close()
}

// Enqueue appends entries as pending rows due immediately. All entries
// land in one transaction so a result's settlements stay together.
func (s *Store) Enqueue(ctx context.Context, entries ...Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if len(entries) == 0 {
		return nil
	}

	now := time.Now().UTC()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enqueue tx: %w", err)
	}
	defer tx.Rollback()

	for _, entry := range entries {
		if strings.TrimSpace(entry.RoomID) == "" {
			return fmt.Errorf("room id is required")
		}
		if strings.TrimSpace(entry.GameType) == "" {
			return fmt.Errorf("game type is required")
		}
		if strings.TrimSpace(entry.EventName) == "" {
			return fmt.Errorf("event name is required")
		}
		payload := entry.Payload
		if len(payload) == 0 {
			payload = json.RawMessage("{}")
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO settlements (
	room_id, game_type, event_name, payload,
	status, attempt_count, next_attempt_at, last_error, enqueued_at, updated_at
) VALUES (?, ?, ?, ?, 'pending', 0, ?, '', ?, ?)
`,
			entry.RoomID,
			entry.GameType,
			entry.EventName,
			string(payload),
			toMillis(now),
			toMillis(now),
			toMillis(now),
		); err != nil {
			return fmt.Errorf("enqueue settlement for room %s: %w", entry.RoomID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enqueue tx: %w", err)
	}

	return nil
}

// Process claims due rows and delivers them through publish. Delivered
// rows are removed; failures are rescheduled with exponential backoff
// and dead-lettered once the attempt threshold is crossed. Returns the
// number of rows handled either way.
func (s *Store) Process(ctx context.Context, now time.Time, limit int, publish func(context.Context, Entry) error) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if publish == nil {
		return 0, fmt.Errorf("publish callback is required")
	}
	if limit <= 0 {
		return 0, nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	rows, err := s.claimDue(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, row := range rows {
		if publishErr := publish(ctx, row); publishErr != nil {
			attempt := row.AttemptCount + 1
			nextAttempt := now.Add(retryBackoff(attempt))
			if err := s.markRetry(ctx, row.ID, now, attempt, nextAttempt, publishErr.Error()); err != nil {
				return processed, err
			}
			processed++
			continue
		}

		if err := s.complete(ctx, row.ID); err != nil {
			return processed, err
		}
		processed++
	}

	return processed, nil
}

// claimDue selects due rows and flips them to processing inside one
// transaction. A processing row whose lease expired counts as due again
// so a crashed drainer cannot strand work.
func (s *Store) claimDue(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	staleBefore := now.Add(-processingLease)
	rows, err := tx.QueryContext(ctx, `
SELECT id, room_id, game_type, event_name, payload, attempt_count
FROM settlements
WHERE (
	status IN ('pending', 'failed') AND next_attempt_at <= ?
) OR (
	status = 'processing' AND updated_at <= ?
)
ORDER BY next_attempt_at, id
LIMIT ?
`,
		toMillis(now),
		toMillis(staleBefore),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due settlements: %w", err)
	}
	defer rows.Close()

	candidates := make([]Entry, 0, limit)
	for rows.Next() {
		var entry Entry
		var payload string
		if err := rows.Scan(&entry.ID, &entry.RoomID, &entry.GameType, &entry.EventName, &payload, &entry.AttemptCount); err != nil {
			return nil, fmt.Errorf("scan due settlement: %w", err)
		}
		entry.Payload = json.RawMessage(payload)
		candidates = append(candidates, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due settlements: %w", err)
	}

	claimed := make([]Entry, 0, len(candidates))
	for _, candidate := range candidates {
		result, err := tx.ExecContext(ctx, `
UPDATE settlements
SET status = 'processing', updated_at = ?
WHERE id = ?
  AND (
	(status IN ('pending', 'failed') AND next_attempt_at <= ?)
	OR (status = 'processing' AND updated_at <= ?)
  )
`,
			toMillis(now),
			candidate.ID,
			toMillis(now),
			toMillis(staleBefore),
		)
		if err != nil {
			return nil, fmt.Errorf("claim settlement %d: %w", candidate.ID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("claim settlement %d rows affected: %w", candidate.ID, err)
		}
		if affected == 1 {
			claimed = append(claimed, candidate)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}

	return claimed, nil
}

func (s *Store) markRetry(ctx context.Context, id int64, now time.Time, attempt int, nextAttempt time.Time, lastError string) error {
	status := StatusFailed
	if attempt >= deadLetterThreshold {
		status = StatusDead
	}
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE settlements
SET status = ?,
    attempt_count = ?,
    next_attempt_at = ?,
    last_error = ?,
    updated_at = ?
WHERE id = ? AND status = 'processing'
`,
		status,
		attempt,
		toMillis(nextAttempt),
		lastError,
		toMillis(now),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark settlement %d retry: %w", id, err)
	}

	return ensureSingleRow(result, id, "mark settlement retry", "updated")
}

func (s *Store) complete(ctx context.Context, id int64) error {
	result, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM settlements WHERE id = ? AND status = 'processing'`, id)
	if err != nil {
		return fmt.Errorf("complete settlement %d: %w", id, err)
	}

	return ensureSingleRow(result, id, "complete settlement", "deleted")
}

func ensureSingleRow(result sql.Result, id int64, operation, verb string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %d rows affected: %w", operation, id, err)
	}
	if affected != 1 {
		return fmt.Errorf("%s %d: expected 1 row %s, got %d", operation, id, verb, affected)
	}

	return nil
}

// Requeue transitions one dead row back to pending so the drainer can
// retry after a fix. Returns false when the row is not dead.
func (s *Store) Requeue(ctx context.Context, id int64, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE settlements
SET status = 'pending',
    attempt_count = 0,
    next_attempt_at = ?,
    last_error = '',
    updated_at = ?
WHERE id = ? AND status = 'dead'
`,
		toMillis(now),
		toMillis(now),
		id,
	)
	if err != nil {
		return false, fmt.Errorf("requeue dead settlement %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("requeue dead settlement %d rows affected: %w", id, err)
	}

	return affected == 1, nil
}

// RequeueDead transitions up to limit dead rows back to pending in
// retry order.
func (s *Store) RequeueDead(ctx context.Context, limit int, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return 0, fmt.Errorf("requeue limit must be greater than zero")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE settlements
SET status = 'pending',
    attempt_count = 0,
    next_attempt_at = ?,
    last_error = '',
    updated_at = ?
WHERE status = 'dead'
  AND id IN (
	SELECT id FROM settlements
	WHERE status = 'dead'
	ORDER BY next_attempt_at ASC, id ASC
	LIMIT ?
  )
`,
		toMillis(now),
		toMillis(now),
		limit,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue dead settlements: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue dead settlements rows affected: %w", err)
	}

	return int(affected), nil
}

// Summary reports queue depth by status and the oldest retry-eligible
// row.
type Summary struct {
	PendingCount    int
	ProcessingCount int
	FailedCount     int
	DeadCount       int
	OldestPendingID int64
	OldestPendingAt time.Time
}

// GetSummary returns outbox depth for health surfaces.
func (s *Store) GetSummary(ctx context.Context) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	if s == nil || s.sqlDB == nil {
		return Summary{}, fmt.Errorf("storage is not configured")
	}

	summary := Summary{}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM settlements GROUP BY status`)
	if err != nil {
		return Summary{}, fmt.Errorf("query settlement counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Summary{}, fmt.Errorf("scan settlement count: %w", err)
		}
		switch status {
		case StatusPending:
			summary.PendingCount = count
		case StatusProcessing:
			summary.ProcessingCount = count
		case StatusFailed:
			summary.FailedCount = count
		case StatusDead:
			summary.DeadCount = count
		}
	}
	if err := rows.Err(); err != nil {
		return Summary{}, fmt.Errorf("iterate settlement counts: %w", err)
	}

	var id int64
	var nextAttempt int64
	err = s.sqlDB.QueryRowContext(ctx, `
SELECT id, next_attempt_at
FROM settlements
WHERE status IN ('pending', 'failed')
ORDER BY next_attempt_at ASC, id ASC
LIMIT 1
`).Scan(&id, &nextAttempt)
	if err == nil {
		summary.OldestPendingID = id
		summary.OldestPendingAt = fromMillis(nextAttempt)

		return summary, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return summary, nil
	}

	return Summary{}, fmt.Errorf("query oldest pending settlement: %w", err)
}

// List returns outbox rows in retry order, optionally filtered by
// status, for inspection tooling.
func (s *Store) List(ctx context.Context, status string, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return []Entry{}, nil
	}

	normalized, err := normalizeStatus(status)
	if err != nil {
		return nil, err
	}

	query := `
SELECT id, room_id, game_type, event_name, payload, status, attempt_count, next_attempt_at, last_error, enqueued_at, updated_at
FROM settlements
`
	args := []any{}
	if normalized != "" {
		query += "WHERE status = ?\n"
		args = append(args, normalized)
	}
	query += "ORDER BY next_attempt_at ASC, id ASC\nLIMIT ?"
	args = append(args, limit)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list settlements: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var entry Entry
		var payload string
		var nextAttempt, enqueuedAt, updatedAt int64
		if err := rows.Scan(
			&entry.ID,
			&entry.RoomID,
			&entry.GameType,
			&entry.EventName,
			&payload,
			&entry.Status,
			&entry.AttemptCount,
			&nextAttempt,
			&entry.LastError,
			&enqueuedAt,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		entry.Payload = json.RawMessage(payload)
		entry.NextAttemptAt = fromMillis(nextAttempt)
		entry.EnqueuedAt = fromMillis(enqueuedAt)
		entry.UpdatedAt = fromMillis(updatedAt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settlements: %w", err)
	}

	return entries, nil
}

func normalizeStatus(status string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(status))
	switch normalized {
	case "", StatusPending, StatusProcessing, StatusFailed, StatusDead:
		return normalized, nil
	default:
		return "", fmt.Errorf("invalid settlement status %q", status)
	}
}

func retryBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	backoff := time.Second << (attempt - 1)
	if backoff > 5*time.Minute {
		return 5 * time.Minute
	}

	return backoff
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}
