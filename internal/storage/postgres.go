package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kikiluvv/vigil/internal/inference"
)

const createVerdictsTable = `
	CREATE TABLE IF NOT EXISTS verdicts (
		id             BIGSERIAL PRIMARY KEY,
		run_id         TEXT NOT NULL,
		video          TEXT NOT NULL,
		output         TEXT NOT NULL,
		frames         INTEGER NOT NULL,
		violent_frames INTEGER NOT NULL,
		percentage     DOUBLE PRECISION NOT NULL,
		status         TEXT NOT NULL,
		error_message  TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`

const insertVerdict = `
	INSERT INTO verdicts (
		run_id, video, output, frames, violent_frames, percentage, status, error_message
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore appends verdicts to the verdicts table.
type PostgresStore struct {
	db    execer
	close func()
}

// NewPostgresStore connects and creates the table if needed.
func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{db: pool, close: pool.Close}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createVerdictsTable); err != nil {
		return fmt.Errorf("create verdicts table: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveVerdict(ctx context.Context, runID string, v inference.Verdict) error {
	_, err := s.db.Exec(ctx, insertVerdict,
		runID, v.Video, v.Output, v.Frames, v.ViolentFrames,
		v.Percentage, string(v.Status), v.Error,
	)
	if err != nil {
		return fmt.Errorf("insert verdict: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	if s.close != nil {
		s.close()
	}
}
