package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Push states of a stored call.
const (
	PushPending = "pending"
	PushDone    = "pushed"
)

const ddlIntakeCalls = `
CREATE TABLE IF NOT EXISTS intake_calls (
    id                   BIGSERIAL    PRIMARY KEY,
    session_id           TEXT         NOT NULL UNIQUE,
    phone                TEXT         NOT NULL DEFAULT '',
    transport            TEXT         NOT NULL DEFAULT '',
    started_at           TIMESTAMPTZ  NOT NULL,
    ended_at             TIMESTAMPTZ  NOT NULL,
    duration_seconds     INTEGER      NOT NULL DEFAULT 0,
    outcome              TEXT         NOT NULL DEFAULT '',
    conversation_history JSONB        NOT NULL DEFAULT '[]',
    extracted_fields     JSONB        NOT NULL DEFAULT '{}',
    confirmed_fields     JSONB        NOT NULL DEFAULT '[]',
    stats                JSONB        NOT NULL DEFAULT '{}',
    push_status          TEXT         NOT NULL DEFAULT 'pending',
    pushed_at            TIMESTAMPTZ,
    created_at           TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_intake_calls_phone
    ON intake_calls (phone);

CREATE INDEX IF NOT EXISTS idx_intake_calls_push_status
    ON intake_calls (push_status);

CREATE INDEX IF NOT EXISTS idx_intake_calls_created_at
    ON intake_calls (created_at);
`

// Migrate creates the intake_calls table and its indexes. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlIntakeCalls); err != nil {
		return fmt.Errorf("record: migrate intake_calls: %w", err)
	}
	return nil
}

// PostgresRepository stores call records in the intake_calls table. All
// methods are safe for concurrent use.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

var _ Sink = (*PostgresRepository)(nil)

// NewPostgresRepository connects to dsn, pings the server and runs
// [Migrate].
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("record: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("record: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresRepository{pool: pool}, nil
}

// Ping checks connectivity. It backs the readiness check.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	r.pool.Close()
}

// Save implements [Sink]. A second save of the same session replaces the
// stored row and resets its push status.
func (r *PostgresRepository) Save(ctx context.Context, rec Record) error {
	history, err := json.Marshal(rec.History)
	if err != nil {
		return fmt.Errorf("record: encode history: %w", err)
	}
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("record: encode fields: %w", err)
	}
	confirmed, err := json.Marshal(rec.Confirmed)
	if err != nil {
		return fmt.Errorf("record: encode confirmed: %w", err)
	}
	stats, err := json.Marshal(rec.Stats)
	if err != nil {
		return fmt.Errorf("record: encode stats: %w", err)
	}

	const q = `
		INSERT INTO intake_calls
		    (session_id, phone, transport, started_at, ended_at, duration_seconds,
		     outcome, conversation_history, extracted_fields, confirmed_fields, stats)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10::jsonb, $11::jsonb)
		ON CONFLICT (session_id) DO UPDATE SET
		    phone                = EXCLUDED.phone,
		    transport            = EXCLUDED.transport,
		    started_at           = EXCLUDED.started_at,
		    ended_at             = EXCLUDED.ended_at,
		    duration_seconds     = EXCLUDED.duration_seconds,
		    outcome              = EXCLUDED.outcome,
		    conversation_history = EXCLUDED.conversation_history,
		    extracted_fields     = EXCLUDED.extracted_fields,
		    confirmed_fields     = EXCLUDED.confirmed_fields,
		    stats                = EXCLUDED.stats,
		    push_status          = 'pending',
		    pushed_at            = NULL`

	_, err = r.pool.Exec(ctx, q,
		rec.SessionID,
		rec.Phone,
		rec.Transport,
		rec.StartedAt,
		rec.EndedAt,
		int(rec.Duration.Seconds()),
		rec.Outcome,
		string(history),
		string(fields),
		string(confirmed),
		string(stats),
	)
	if err != nil {
		return fmt.Errorf("record: save %s: %w", rec.SessionID, err)
	}
	return nil
}

const selectColumns = `
		SELECT session_id, phone, transport, started_at, ended_at, duration_seconds,
		       outcome, conversation_history, extracted_fields, confirmed_fields, stats
		FROM   intake_calls`

// Get returns the record for sessionID or [ErrNotFound].
func (r *PostgresRepository) Get(ctx context.Context, sessionID string) (Record, error) {
	rows, err := r.pool.Query(ctx, selectColumns+` WHERE session_id = $1`, sessionID)
	if err != nil {
		return Record{}, fmt.Errorf("record: get %s: %w", sessionID, err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("record: get %s: %w", sessionID, err)
	}
	return rec, nil
}

// ListPending returns up to limit records not yet pushed downstream, oldest
// first. A limit of zero or less means no limit.
func (r *PostgresRepository) ListPending(ctx context.Context, limit int) ([]Record, error) {
	q := selectColumns + ` WHERE push_status = $1 ORDER BY created_at, id`
	args := []any{PushPending}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("record: list pending: %w", err)
	}
	recs, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("record: list pending: %w", err)
	}
	return recs, nil
}

// MarkPushed flags sessionID as delivered downstream.
func (r *PostgresRepository) MarkPushed(ctx context.Context, sessionID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE intake_calls SET push_status = $2, pushed_at = $3 WHERE session_id = $1`,
		sessionID, PushDone, at)
	if err != nil {
		return fmt.Errorf("record: mark pushed %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRecord(row pgx.CollectableRow) (Record, error) {
	var (
		rec                               Record
		seconds                           int
		history, fields, confirmed, stats []byte
	)
	err := row.Scan(
		&rec.SessionID,
		&rec.Phone,
		&rec.Transport,
		&rec.StartedAt,
		&rec.EndedAt,
		&seconds,
		&rec.Outcome,
		&history,
		&fields,
		&confirmed,
		&stats,
	)
	if err != nil {
		return Record{}, err
	}
	rec.Duration = time.Duration(seconds) * time.Second
	for _, c := range []struct {
		raw []byte
		dst any
	}{
		{history, &rec.History},
		{fields, &rec.Fields},
		{confirmed, &rec.Confirmed},
		{stats, &rec.Stats},
	} {
		if err := json.Unmarshal(c.raw, c.dst); err != nil {
			return Record{}, fmt.Errorf("decode %s: %w", rec.SessionID, err)
		}
	}
	return rec, nil
}
