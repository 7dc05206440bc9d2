// Package postgres implements transport.PersistenceDriver on PostgreSQL,
// adapted from the teacher's services/storage/internal/relational
// PostgresStore (same database/sql + lib/pq conventions, parameterized
// $N placeholders, explicit EnsureSchema) but shaped for the durable
// transport's lease/retry/dead-letter semantics instead of object
// storage.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

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

// Open opens (but does not ping) a *sql.DB against dsn using the lib/pq
// driver and wraps it as a Driver. Callers own the *sql.DB's lifetime via
// Close.
func Open(dsn string, opts Options) (*Driver, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
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
  available_at    TIMESTAMPTZ NOT NULL,
  lease_expires   TIMESTAMPTZ,
  body            TEXT NOT NULL,
  idempotency_key TEXT,
  created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %s_claim_idx ON %s (queue_name, state, available_at);
CREATE UNIQUE INDEX IF NOT EXISTS %s_idem_idx ON %s (message_type, idempotency_key) WHERE idempotency_key <> '';
`, d.table, d.table, d.table, d.table, d.table)
	if _, err := d.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
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
	q := fmt.Sprintf(`
INSERT INTO %s (receipt, id, message_type, queue_name, priority, state, available_at, body, idempotency_key, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (message_type, idempotency_key) WHERE idempotency_key <> '' DO NOTHING`, d.table)
	res, err := d.db.ExecContext(ctx, q, receipt, e.ID, e.Message.Type, e.QueueName, e.Priority, string(envelope.StatePending),
		e.AvailableAt.UTC(), string(body), e.IdempotencyKey, e.CreatedAt.UTC())
	if err != nil {
		return "", fmt.Errorf("postgres: insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("postgres: insert rows affected: %w", err)
	}
	if n > 0 {
		return "", nil
	}
	existingID, err := d.existingIDFor(ctx, e.Message.Type, e.IdempotencyKey)
	if err != nil {
		return "", err
	}
	return existingID, nil
}

// existingIDFor looks up the id of the row occupying a (message_type,
// idempotency_key) pair after Insert's conflict branch fires.
func (d *Driver) existingIDFor(ctx context.Context, messageType, idempotencyKey string) (string, error) {
	q := fmt.Sprintf(`SELECT id FROM %s WHERE message_type = $1 AND idempotency_key = $2 ORDER BY created_at ASC LIMIT 1`, d.table)
	var id string
	if err := d.db.QueryRowContext(ctx, q, messageType, idempotencyKey).Scan(&id); err != nil {
		return "", fmt.Errorf("postgres: load existing id: %w", err)
	}
	return id, nil
}

func (d *Driver) Claim(ctx context.Context, queue string, max int, visibility time.Duration, now time.Time) ([]transport.ReceivedMessage, error) {
	q := fmt.Sprintf(`
UPDATE %s SET state = $1, lease_expires = $2
WHERE receipt IN (
  SELECT receipt FROM %s
  WHERE queue_name = $3 AND available_at <= $4
    AND (state = $5 OR (state = $1 AND lease_expires < $4))
  ORDER BY priority DESC, available_at ASC, created_at ASC
  LIMIT $6
  FOR UPDATE SKIP LOCKED
)
RETURNING receipt, body`, d.table, d.table)

	rows, err := d.db.QueryContext(ctx, q,
		string(envelope.StateInFlight), now.Add(visibility).UTC(), queue, now.UTC(),
		string(envelope.StatePending), max)
	if err != nil {
		return nil, fmt.Errorf("postgres: claim: %w", err)
	}
	defer rows.Close()

	var out []transport.ReceivedMessage
	for rows.Next() {
		var receipt, body string
		if err := rows.Scan(&receipt, &body); err != nil {
			return nil, fmt.Errorf("postgres: claim scan: %w", err)
		}
		e, err := envelope.DeserializeEnvelope([]byte(body))
		if err != nil {
			return nil, err
		}
		out = append(out, transport.ReceivedMessage{Envelope: e, Receipt: receipt})
	}
	return out, rows.Err()
}

func (d *Driver) Delete(ctx context.Context, receipt string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE receipt = $1`, d.table)
	res, err := d.db.ExecContext(ctx, q, receipt)
	if err != nil {
		return fmt.Errorf("postgres: delete: %w", err)
	}
	return checkAffected(res)
}

// Release rewrites the row's body with an incremented retry_count and the
// supplied lastError before returning it to pending, so a subsequent
// Claim observes the updated envelope (spec.md §3.2 retry_count/last_error).
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
	q := fmt.Sprintf(`
UPDATE %s SET state = $1, available_at = $2, lease_expires = NULL, body = $3
WHERE receipt = $4`, d.table)
	res, err := d.db.ExecContext(ctx, q, string(envelope.StatePending), e.AvailableAt.UTC(), string(body), receipt)
	if err != nil {
		return fmt.Errorf("postgres: release: %w", err)
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
	q := fmt.Sprintf(`UPDATE %s SET state = $1, lease_expires = NULL, body = $2 WHERE receipt = $3`, d.table)
	res, err := d.db.ExecContext(ctx, q, string(envelope.StateDead), string(body), receipt)
	if err != nil {
		return fmt.Errorf("postgres: dead-letter: %w", err)
	}
	return checkAffected(res)
}

func (d *Driver) loadEnvelope(ctx context.Context, receipt string) (envelope.Envelope, error) {
	q := fmt.Sprintf(`SELECT body FROM %s WHERE receipt = $1`, d.table)
	var body string
	if err := d.db.QueryRowContext(ctx, q, receipt).Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return envelope.Envelope{}, transport.ErrNotFound
		}
		return envelope.Envelope{}, fmt.Errorf("postgres: load envelope: %w", err)
	}
	return envelope.DeserializeEnvelope([]byte(body))
}

func (d *Driver) Depth(ctx context.Context, queue string) (int, error) {
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE queue_name = $1 AND state IN ($2, $3)`, d.table)
	var n int
	err := d.db.QueryRowContext(ctx, q, queue, string(envelope.StatePending), string(envelope.StateInFlight)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: depth: %w", err)
	}
	return n, nil
}

func (d *Driver) ReclaimExpired(ctx context.Context, now time.Time) (int, error) {
	q := fmt.Sprintf(`
UPDATE %s SET state = $1, lease_expires = NULL
WHERE state = $2 AND lease_expires < $3`, d.table)
	res, err := d.db.ExecContext(ctx, q, string(envelope.StatePending), string(envelope.StateInFlight), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres: reclaim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: reclaim rows affected: %w", err)
	}
	return int(n), nil
}

func (d *Driver) ListDeadLettered(ctx context.Context, queue string, limit int) ([]envelope.Envelope, error) {
	q := fmt.Sprintf(`
SELECT body FROM %s WHERE queue_name = $1 AND state = $2
ORDER BY created_at DESC LIMIT $3`, d.table)
	rows, err := d.db.QueryContext(ctx, q, queue, string(envelope.StateDead), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list dead-lettered: %w", err)
	}
	defer rows.Close()

	var out []envelope.Envelope
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("postgres: list dead-lettered scan: %w", err)
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
		return fmt.Errorf("postgres: rows affected: %w", err)
	}
	if n == 0 {
		return transport.ErrNotFound
	}
	return nil
}
