package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/malbeclabs/taxilake/trips/pkg/dataset"
)

type SinkConfig struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
	// Append keeps existing rows; otherwise each write truncates the table first.
	Append bool
}

func (cfg *SinkConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("pool is required")
	}
	return nil
}

// Sink copies aggregate tables into migrated PostgreSQL tables of the same
// name. Each write is one transaction, so a failed write leaves the previous
// contents in place.
type Sink struct {
	log  *slog.Logger
	cfg  SinkConfig
	pool *pgxpool.Pool
}

func NewSink(cfg SinkConfig) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sink{log: cfg.Logger, cfg: cfg, pool: cfg.Pool}, nil
}

func (s *Sink) Kind() string { return "postgres" }

func (s *Sink) Write(ctx context.Context, table string, ds *dataset.Dataset) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	ident := pgx.Identifier{table}
	if !s.cfg.Append {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+ident.Sanitize()); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
	}

	n, err := tx.CopyFrom(ctx, ident, ds.Schema().Names(), pgx.CopyFromSlice(ds.NumRows(), func(i int) ([]any, error) {
		return ds.Row(i), nil
	}))
	if err != nil {
		return fmt.Errorf("failed to copy into %s: %w", table, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit %s: %w", table, err)
	}

	s.log.Debug("copied aggregate table", "table", table, "rows", n)
	return nil
}

// Close releases the pool.
func (s *Sink) Close() error {
	s.pool.Close()
	return nil
}
