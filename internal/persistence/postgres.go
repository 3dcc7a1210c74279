package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// PostgresStore keeps snapshots in a ledger_snapshots table
type PostgresStore struct {
	db      *sqlx.DB
	timeout time.Duration
	logger  zerolog.Logger
}

func NewPostgresStore(db *sqlx.DB, timeout time.Duration, logger zerolog.Logger) *PostgresStore {
	return &PostgresStore{
		db:      db,
		timeout: timeout,
		logger:  logger.With().Str("component", "persistence").Str("store", "postgres").Logger(),
	}
}

// Migrate creates the snapshot table when absent
func (s *PostgresStore) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		CREATE TABLE IF NOT EXISTS ledger_snapshots (
			id       TEXT PRIMARY KEY,
			taken_at TIMESTAMPTZ NOT NULL,
			blob     BYTEA NOT NULL
		)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to migrate snapshot table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `INSERT INTO ledger_snapshots (id, taken_at, blob) VALUES ($1, $2, $3)`
	if _, err := s.db.ExecContext(ctx, query, rec.ID, rec.TakenAt, rec.Blob); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	s.logger.Debug().Str("snapshot_id", rec.ID).Msg("snapshot stored")
	return nil
}

func (s *PostgresStore) Latest(ctx context.Context) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT id, taken_at, blob FROM ledger_snapshots ORDER BY taken_at DESC LIMIT 1`
	var rec Record
	if err := s.db.GetContext(ctx, &rec, query); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("failed to read latest snapshot: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) History(ctx context.Context, limit int) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if limit <= 0 {
		return nil, nil
	}
	query := `SELECT id, taken_at, blob FROM ledger_snapshots ORDER BY taken_at DESC LIMIT $1`
	var records []Record
	if err := s.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, fmt.Errorf("failed to read snapshot history: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) Prune(ctx context.Context, keep int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if keep < 1 {
		keep = 1
	}
	query := `
		DELETE FROM ledger_snapshots
		WHERE id NOT IN (
			SELECT id FROM ledger_snapshots ORDER BY taken_at DESC LIMIT $1
		)`
	res, err := s.db.ExecContext(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshot history: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned snapshots: %w", err)
	}
	if removed > 0 {
		s.logger.Info().Int64("removed", removed).Int("kept", keep).Msg("snapshot history pruned")
	}
	return int(removed), nil
}
