// Package sqlite implements transport.PersistenceDriver on SQLite via
// mattn/go-sqlite3, mirroring pkg/transport/postgres's shape but using
// SQLite's `?` placeholders and a BEGIN IMMEDIATE transaction in place of
// Postgres's FOR UPDATE SKIP LOCKED, since SQLite has no row-level locking.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/google/uuid"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/envelope"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/transport"
)

// Driver persists envelopes in a single table, one row per envelope.
type Driver struct {
	db    *sql.DB
	table string
}

// Options configures Driver construction.
type Options struct {
	// TableName overrides the default "symphony_envelopes".
	TableName string
}

// Open opens a *sql.DB against path (a file path, or ":memory:") using
// the mattn/go-sqlite3 driver.
func Open(path string, opts Options) (*Driver, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// SQLite allows only one writer at a time; a single connection avoids
	// "database is locked" errors under concurrent claims.
	db.SetMaxOpenConns(1)
	return New(db, opts), nil
}

// New wraps an already-open *sql.DB.
func New(db *sql.DB, opts Options) *Driver {
	table := opts.TableName
	if table == "" {
		table = "symphony_envelopes"
	}
	return &Driver{db: db, table: table}
}

// EnsureSchema creates the backing table and its indexes if absent.
func (d *Driver) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  receipt         TEXT PRIMARY KEY,
  id              TEXT NOT NULL,
  message_type    TEXT NOT NULL,
  queue_name      TEXT NOT NULL,
  priority        INTEGER NOT NULL,
  state           TEXT NOT NULL,
  available_at    TEXT NOT NULL,
  lease_expires   TEXT,
  body            TEXT NOT NULL,
  idempotency_key TEXT,
  created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS %s_claim_idx ON %s (queue_name, state, available_at);
CREATE UNIQUE INDEX IF NOT EXISTS %s_idem_idx ON %s (message_type, idempotency_key) WHERE idempotency_key IS NOT NULL AND idempotency_key <> '';
`, d.table, d.table, d.table, d.table, d.table)
	if _, err := d.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("sqlite: ensure schema: %w", err)
	}
	return nil
}

// Insert stores e, or, if a row already exists for e's (message_type,
// idempotency_key) pair, leaves that row untouched and returns its id
// (spec.md §4.3/§6.2 "same key + type ⇒ return existing id").
func (d *Driver) Insert(ctx context.Context, e envelope.Envelope) (string, error) {
	body, err := envelope.SerializeEnvelope(e)
	if err != nil {
		return "", err
	}
	receipt := uuid.NewString()
	idem := sql.NullString{String: e.IdempotencyKey, Valid: e.IdempotencyKey != ""}
	q := fmt.Sprintf(`
INSERT OR IGNORE INTO %s (receipt, id, message_type, queue_name, priority, state, available_at, body, idempotency_key, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, d.table)
	res, err := d.db.ExecContext(ctx, q, receipt, e.ID, e.Message.Type, e.QueueName, e.Priority, string(envelope.StatePending),
		formatTime(e.AvailableAt), string(body), idem, formatTime(e.CreatedAt))
	if err != nil {
		return "", fmt.Errorf("sqlite: insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("sqlite: insert rows affected: %w", err)
	}
	if n > 0 {
		return "", nil
	}
	if e.IdempotencyKey == "" {
		return "", nil
	}
	existingID, err := d.existingIDFor(ctx, e.Message.Type, e.IdempotencyKey)
	if err != nil {
		return "", err
	}
	return existingID, nil
}

// existingIDFor looks up the id of the row occupying a (message_type,
// idempotency_key) pair after Insert's IGNORE branch fires.
func (d *Driver) existingIDFor(ctx context.Context, messageType, idempotencyKey string) (string, error) {
	q := fmt.Sprintf(`SELECT id FROM %s WHERE message_type = ? AND idempotency_key = ? ORDER BY created_at ASC LIMIT 1`, d.table)
	var id string
	if err := d.db.QueryRowContext(ctx, q, messageType, idempotencyKey).Scan(&id); err != nil {
		return "", fmt.Errorf("sqlite: load existing id: %w", err)
	}
	return id, nil
}

// Claim runs inside an immediate transaction: SQLite serializes writers,
// so selecting then updating within one transaction is race-free without
// Postgres's row-lock hints.
func (d *Driver) Claim(ctx context.Context, queue string, max int, visibility time.Duration, now time.Time) ([]transport.ReceivedMessage, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: claim begin: %w", err)
	}
	defer tx.Rollback()

	selectQ := fmt.Sprintf(`
SELECT receipt, body FROM %s
WHERE queue_name = ? AND available_at <= ?
  AND (state = ? OR (state = ? AND lease_expires < ?))
ORDER BY priority DESC, available_at ASC, created_at ASC
LIMIT ?`, d.table)
	rows, err := tx.QueryContext(ctx, selectQ, queue, formatTime(now),
		string(envelope.StatePending), string(envelope.StateInFlight), formatTime(now), max)
	if err != nil {
		return nil, fmt.Errorf("sqlite: claim select: %w", err)
	}
	type row struct{ receipt, body string }
	var claimed []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.receipt, &r.body); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: claim scan: %w", err)
		}
		claimed = append(claimed, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []transport.ReceivedMessage
	updateQ := fmt.Sprintf(`UPDATE %s SET state = ?, lease_expires = ? WHERE receipt = ?`, d.table)
	lease := formatTime(now.Add(visibility))
	for _, r := range claimed {
		if _, err := tx.ExecContext(ctx, updateQ, string(envelope.StateInFlight), lease, r.receipt); err != nil {
			return nil, fmt.Errorf("sqlite: claim update: %w", err)
		}
		e, err := envelope.DeserializeEnvelope([]byte(r.body))
		if err != nil {
			return nil, err
		}
		out = append(out, transport.ReceivedMessage{Envelope: e, Receipt: r.receipt})
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: claim commit: %w", err)
	}
	return out, nil
}

func (d *Driver) Delete(ctx context.Context, receipt string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE receipt = ?`, d.table)
	res, err := d.db.ExecContext(ctx, q, receipt)
	if err != nil {
		return fmt.Errorf("sqlite: delete: %w", err)
	}
	return checkAffected(res)
}

func (d *Driver) Release(ctx context.Context, receipt string, delay time.Duration, lastError string) error {
	e, err := d.loadEnvelope(ctx, receipt)
	if err != nil {
		return err
	}
	e.RetryCount++
	e.LastError = lastError
	e.State = envelope.StatePending
	e.AvailableAt = time.Now().Add(delay)
	body, err := envelope.SerializeEnvelope(e)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`UPDATE %s SET state = ?, available_at = ?, lease_expires = NULL, body = ? WHERE receipt = ?`, d.table)
	res, err := d.db.ExecContext(ctx, q, string(envelope.StatePending), formatTime(e.AvailableAt), string(body), receipt)
	if err != nil {
		return fmt.Errorf("sqlite: release: %w", err)
	}
	return checkAffected(res)
}

func (d *Driver) DeadLetter(ctx context.Context, receipt string, reason string) error {
	e, err := d.loadEnvelope(ctx, receipt)
	if err != nil {
		return err
	}
	e.State = envelope.StateDead
	e.LastError = reason
	body, err := envelope.SerializeEnvelope(e)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`UPDATE %s SET state = ?, lease_expires = NULL, body = ? WHERE receipt = ?`, d.table)
	res, err := d.db.ExecContext(ctx, q, string(envelope.StateDead), string(body), receipt)
	if err != nil {
		return fmt.Errorf("sqlite: dead-letter: %w", err)
	}
	return checkAffected(res)
}

func (d *Driver) Depth(ctx context.Context, queue string) (int, error) {
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE queue_name = ? AND state IN (?, ?)`, d.table)
	var n int
	err := d.db.QueryRowContext(ctx, q, queue, string(envelope.StatePending), string(envelope.StateInFlight)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: depth: %w", err)
	}
	return n, nil
}

func (d *Driver) ReclaimExpired(ctx context.Context, now time.Time) (int, error) {
	q := fmt.Sprintf(`UPDATE %s SET state = ?, lease_expires = NULL WHERE state = ? AND lease_expires < ?`, d.table)
	res, err := d.db.ExecContext(ctx, q, string(envelope.StatePending), string(envelope.StateInFlight), formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("sqlite: reclaim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: reclaim rows affected: %w", err)
	}
	return int(n), nil
}

func (d *Driver) loadEnvelope(ctx context.Context, receipt string) (envelope.Envelope, error) {
	q := fmt.Sprintf(`SELECT body FROM %s WHERE receipt = ?`, d.table)
	var body string
	if err := d.db.QueryRowContext(ctx, q, receipt).Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return envelope.Envelope{}, transport.ErrNotFound
		}
		return envelope.Envelope{}, fmt.Errorf("sqlite: load envelope: %w", err)
	}
	return envelope.DeserializeEnvelope([]byte(body))
}

func (d *Driver) ListDeadLettered(ctx context.Context, queue string, limit int) ([]envelope.Envelope, error) {
	q := fmt.Sprintf(`
SELECT body FROM %s WHERE queue_name = ? AND state = ?
ORDER BY created_at DESC LIMIT ?`, d.table)
	rows, err := d.db.QueryContext(ctx, q, queue, string(envelope.StateDead), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list dead-lettered: %w", err)
	}
	defer rows.Close()

	var out []envelope.Envelope
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("sqlite: list dead-lettered scan: %w", err)
		}
		e, err := envelope.DeserializeEnvelope([]byte(body))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (d *Driver) Close() error { return d.db.Close() }

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return transport.ErrNotFound
	}
	return nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
