// Package runstore records pipeline runs in Postgres. The store is
// optional: when no database URL is configured the pipeline runs without
// history, matching the reviewed pipeline.
package runstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/botship/botship/internal/pipeline/types"
)

// Run is one recorded pipeline run.
type Run struct {
	ID          string
	Repository  string
	CommitSHA   string
	Version     string
	ImageDigest string
	Outcome     types.Outcome
	FailedStage types.Stage
	StartedAt   time.Time
	CompletedAt time.Time
}

// Store persists run history.
type Store struct {
	logger *slog.Logger
	pool   *pgxpool.Pool
}

// NewStore connects to the database and verifies the connection.
func NewStore(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{logger: logger, pool: pool}, nil
}

// Migrate creates the run-history table when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pipeline_runs (
			id           UUID PRIMARY KEY,
			repository   TEXT NOT NULL,
			commit_sha   TEXT NOT NULL,
			version      TEXT NOT NULL,
			image_digest TEXT NOT NULL DEFAULT '',
			outcome      TEXT NOT NULL DEFAULT '',
			failed_stage TEXT NOT NULL DEFAULT '',
			started_at   TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
		)`)
	if err != nil {
		return fmt.Errorf("failed to migrate run store: %w", err)
	}
	return nil
}

// RecordStart inserts the run at pipeline start.
func (s *Store) RecordStart(ctx context.Context, runID, repository, commitSHA, version string, startedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, repository, commit_sha, version, started_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		runID, repository, commitSHA, version, startedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

// RecordOutcome finalizes the run row with its terminal state.
func (s *Store) RecordOutcome(ctx context.Context, runID string, result *types.RunResult) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE pipeline_runs
		 SET outcome = $2, image_digest = $3, failed_stage = $4, completed_at = $5
		 WHERE id = $1`,
		runID, string(result.Outcome), result.ImageDigest, string(result.FailedStage), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record run outcome: %w", err)
	}
	return nil
}

// LatestSuccessful returns the most recent successful run for a repository,
// or nil when there is none. The latest-tag guard uses this to refuse
// overwriting "latest" with an older commit's build.
func (s *Store) LatestSuccessful(ctx context.Context, repository string) (*Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, repository, commit_sha, version, image_digest, started_at, completed_at
		 FROM pipeline_runs
		 WHERE repository = $1 AND outcome = 'success'
		 ORDER BY started_at DESC
		 LIMIT 1`,
		repository,
	)

	var run Run
	err := row.Scan(&run.ID, &run.Repository, &run.CommitSHA, &run.Version, &run.ImageDigest, &run.StartedAt, &run.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest successful run: %w", err)
	}
	run.Outcome = types.OutcomeSuccess
	return &run, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
