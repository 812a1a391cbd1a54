package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink writes audit Records to PostgreSQL via pgx. Grounded on
// store.NewPostgresStore's pool-init + ensureSchema idiom
// (internal/store/postgres.go, teacher).
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects to dsn and ensures the audit table exists.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	if dsn == "" {
		return nil, fmt.Errorf("audit: postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: create postgres pool: %w", err)
	}

	s := &PostgresSink{pool: pool}
	if err := s.pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ping postgres: %w", err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresSink) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS execution_audit (
		session_id TEXT NOT NULL,
		exec_id TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		duration_ms BIGINT NOT NULL,
		is_success BOOLEAN NOT NULL,
		result JSONB NOT NULL,
		PRIMARY KEY (session_id, exec_id)
	)`)
	if err != nil {
		return fmt.Errorf("audit: ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresSink) SaveBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	batch := make([][]any, 0, len(records))
	for _, r := range records {
		payload, err := json.Marshal(r.Result)
		if err != nil {
			return fmt.Errorf("audit: marshal result: %w", err)
		}
		batch = append(batch, []any{r.SessionID, r.ExecID, r.StartedAt, r.Duration.Milliseconds(), r.Result.IsSuccess, payload})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("audit: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, row := range batch {
		_, err := tx.Exec(ctx, `INSERT INTO execution_audit
			(session_id, exec_id, started_at, duration_ms, is_success, result)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (session_id, exec_id) DO NOTHING`, row...)
		if err != nil {
			return fmt.Errorf("audit: insert record: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresSink) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
