// File: internal/history/store.go

// Package history keeps an audit trail of experiment results in PostgreSQL.
// The file-based archives stay authoritative; this store only exists so
// long evolution runs can be analyzed offline with SQL.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/toolforge/internal/config"
	"github.com/xkilldash9x/toolforge/internal/experiment"
)

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store records experiment results in the experiment_results table.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// Record is one persisted experiment outcome.
type Record struct {
	ID            string
	ExpNum        int
	ExperimentDir string
	Resolved      int
	Unresolved    int
	P2PSuccess    int
	P2PFailure    int
	F2PSuccess    int
	F2PFailure    int
	TotalCost     float64
	RecordedAt    time.Time
}

const createTableSQL = `
        CREATE TABLE IF NOT EXISTS experiment_results (
            id UUID PRIMARY KEY,
            exp_num INT NOT NULL,
            experiment_dir TEXT NOT NULL,
            resolved INT NOT NULL,
            unresolved INT NOT NULL,
            p2p_success INT NOT NULL,
            p2p_failure INT NOT NULL,
            f2p_success INT NOT NULL,
            f2p_failure INT NOT NULL,
            total_cost DOUBLE PRECISION NOT NULL,
            recorded_at TIMESTAMPTZ NOT NULL
        );
    `

const insertResultSQL = `
        INSERT INTO experiment_results (id, exp_num, experiment_dir, resolved, unresolved, p2p_success, p2p_failure, f2p_success, f2p_failure, total_cost, recorded_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
    `

// New verifies the connection and makes sure the schema exists.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := &Store{
		pool: pool,
		log:  logger.Named("history"),
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("failed to ensure history schema: %w", err)
	}
	return s, nil
}

// NewPool opens a pgx connection pool from the configured credentials.
func NewPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName, cfg.SSLMode)
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return pool, nil
}

// RecordResult inserts one experiment outcome. Timestamps are stored in UTC.
func (s *Store) RecordResult(ctx context.Context, expNum int, result *experiment.Result) error {
	_, err := s.pool.Exec(ctx, insertResultSQL,
		uuid.New().String(), expNum, result.ExperimentDir,
		result.Resolved, result.Unresolved,
		result.P2PSuccess, result.P2PFailure,
		result.F2PSuccess, result.F2PFailure,
		result.TotalCost, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert experiment result: %w", err)
	}
	s.log.Debug("Recorded experiment result", zap.Int("exp_num", expNum))
	return nil
}

// ListResults returns every recorded outcome in experiment order.
func (s *Store) ListResults(ctx context.Context) ([]Record, error) {
	query := `
        SELECT id, exp_num, experiment_dir, resolved, unresolved, p2p_success, p2p_failure, f2p_success, f2p_failure, total_cost, recorded_at
        FROM experiment_results
        ORDER BY exp_num ASC, recorded_at ASC;
    `
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query experiment results: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(
			&r.ID, &r.ExpNum, &r.ExperimentDir,
			&r.Resolved, &r.Unresolved,
			&r.P2PSuccess, &r.P2PFailure,
			&r.F2PSuccess, &r.F2PFailure,
			&r.TotalCost, &r.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}
