package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/malbeclabs/taxilake/trips/pkg/dataset"
)

type SinkConfig struct {
	Logger *slog.Logger
	Client Client
	// Append keeps existing rows; otherwise each write replaces the table.
	Append bool
}

func (cfg *SinkConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("client is required")
	}
	return nil
}

// Sink writes aggregate tables into migrated ClickHouse tables of the same name.
type Sink struct {
	log    *slog.Logger
	cfg    SinkConfig
	client Client
}

func NewSink(cfg SinkConfig) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sink{log: cfg.Logger, cfg: cfg, client: cfg.Client}, nil
}

func (s *Sink) Kind() string { return "clickhouse" }

// Write inserts every row of ds into table using one batch. Column order
// follows the dataset schema. In overwrite mode rows are loaded into a
// staging copy of table which is then swapped in with EXCHANGE TABLES, so a
// failed write leaves the previous contents in place.
func (s *Sink) Write(ctx context.Context, table string, ds *dataset.Dataset) error {
	conn, err := s.client.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get ClickHouse connection: %w", err)
	}
	defer conn.Close()

	ctx = ContextWithSyncInsert(ctx)
	if s.cfg.Append {
		return s.insert(ctx, conn, table, ds)
	}

	staging := fmt.Sprintf("%s_staging_%s", table, strings.ReplaceAll(uuid.NewString(), "-", ""))
	if err := conn.Exec(ctx, fmt.Sprintf("CREATE TABLE %s AS %s", quoteIdent(staging), quoteIdent(table))); err != nil {
		return fmt.Errorf("failed to create staging table for %s: %w", table, err)
	}
	defer func() {
		dropCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := conn.Exec(dropCtx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(staging))); err != nil {
			s.log.Warn("failed to drop staging table", "table", staging, "error", err)
		}
	}()

	if err := s.insert(ctx, conn, staging, ds); err != nil {
		return err
	}
	if err := conn.Exec(ctx, fmt.Sprintf("EXCHANGE TABLES %s AND %s", quoteIdent(table), quoteIdent(staging))); err != nil {
		return fmt.Errorf("failed to swap staging table into %s: %w", table, err)
	}
	return nil
}

func (s *Sink) insert(ctx context.Context, conn Connection, table string, ds *dataset.Dataset) error {
	count := ds.NumRows()
	if count == 0 {
		s.log.Debug("skipping empty aggregate table", "table", table)
		return nil
	}

	s.log.Debug("writing aggregate batch", "table", table, "count", count)

	names := ds.Schema().Names()
	cols := make([]string, len(names))
	for i, n := range names {
		cols[i] = quoteIdent(n)
	}
	batch, err := conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (%s)", quoteIdent(table), strings.Join(cols, ", ")))
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	defer batch.Close() // Always release the connection back to the pool

	for i := range count {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during batch insert: %w", ctx.Err())
		default:
		}

		row := ds.Row(i)
		if len(row) != len(cols) {
			return fmt.Errorf("row %d has %d columns, expected exactly %d", i, len(row), len(cols))
		}
		if err := batch.Append(row...); err != nil {
			return fmt.Errorf("failed to append row %d: %w", i, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	s.log.Debug("wrote aggregate batch", "table", table, "count", count)
	return nil
}

func (s *Sink) Close() error {
	return s.client.Close()
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "\\`") + "`"
}
