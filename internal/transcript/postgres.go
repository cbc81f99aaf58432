package transcript

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS call_records (
    call_id     TEXT         PRIMARY KEY,
    stream_sid  TEXT         NOT NULL DEFAULT '',
    tenant_id   TEXT         NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ  NOT NULL,
    ended_at    TIMESTAMPTZ  NOT NULL,
    end_reason  TEXT         NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS call_transcript_entries (
    id          BIGSERIAL    PRIMARY KEY,
    call_id     TEXT         NOT NULL REFERENCES call_records (call_id) ON DELETE CASCADE,
    seq         INTEGER      NOT NULL,
    speaker     TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    timestamp   TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_call_transcript_entries_call
    ON call_transcript_entries (call_id, seq);

CREATE INDEX IF NOT EXISTS idx_call_records_tenant
    ON call_records (tenant_id, started_at);
`

// PostgresSink stores records in call_records and call_transcript_entries.
// Saving the same call id twice replaces the earlier record.
type PostgresSink struct {
	pool *pgxpool.Pool
}

var _ Sink = (*PostgresSink)(nil)

// NewPostgresSink connects to dsn and ensures the schema exists.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript sink: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript sink: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlTranscripts); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript sink: migrate: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

// Save implements [Sink]. The record and its entries are written in one
// transaction.
func (s *PostgresSink) Save(ctx context.Context, rec Record) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		const upsert = `
			INSERT INTO call_records (call_id, stream_sid, tenant_id, started_at, ended_at, end_reason)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (call_id) DO UPDATE SET
			    stream_sid = EXCLUDED.stream_sid,
			    tenant_id  = EXCLUDED.tenant_id,
			    started_at = EXCLUDED.started_at,
			    ended_at   = EXCLUDED.ended_at,
			    end_reason = EXCLUDED.end_reason`
		if _, err := tx.Exec(ctx, upsert,
			rec.CallID, rec.StreamSID, rec.TenantID, rec.StartedAt, rec.EndedAt, rec.EndReason,
		); err != nil {
			return fmt.Errorf("upsert record: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM call_transcript_entries WHERE call_id = $1`, rec.CallID); err != nil {
			return fmt.Errorf("clear entries: %w", err)
		}
		if len(rec.Entries) == 0 {
			return nil
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"call_transcript_entries"},
			[]string{"call_id", "seq", "speaker", "text", "timestamp"},
			pgx.CopyFromSlice(len(rec.Entries), func(i int) ([]any, error) {
				e := rec.Entries[i]
				return []any{rec.CallID, i, string(e.Speaker), e.Text, e.Timestamp}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy entries: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("transcript sink: save %q: %w", rec.CallID, err)
	}
	return nil
}

// Load returns the stored record for callID.
func (s *PostgresSink) Load(ctx context.Context, callID string) (Record, error) {
	rec := Record{CallID: callID}
	const qRecord = `
		SELECT stream_sid, tenant_id, started_at, ended_at, end_reason
		FROM   call_records
		WHERE  call_id = $1`
	if err := s.pool.QueryRow(ctx, qRecord, callID).Scan(
		&rec.StreamSID, &rec.TenantID, &rec.StartedAt, &rec.EndedAt, &rec.EndReason,
	); err != nil {
		return Record{}, fmt.Errorf("transcript sink: load %q: %w", callID, err)
	}

	const qEntries = `
		SELECT speaker, text, timestamp
		FROM   call_transcript_entries
		WHERE  call_id = $1
		ORDER  BY seq`
	rows, err := s.pool.Query(ctx, qEntries, callID)
	if err != nil {
		return Record{}, fmt.Errorf("transcript sink: load entries %q: %w", callID, err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e       Entry
			speaker string
		)
		if err := row.Scan(&speaker, &e.Text, &e.Timestamp); err != nil {
			return Entry{}, err
		}
		e.Speaker = Speaker(speaker)
		return e, nil
	})
	if err != nil {
		return Record{}, fmt.Errorf("transcript sink: scan entries: %w", err)
	}
	rec.Entries = entries
	return rec, nil
}

// Ping checks connectivity, for readiness probes.
func (s *PostgresSink) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases the pool.
func (s *PostgresSink) Close() { s.pool.Close() }
