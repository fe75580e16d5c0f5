package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/taxilake/trips/pkg/aggregate"
	"github.com/malbeclabs/taxilake/trips/pkg/clickhouse"
	"github.com/malbeclabs/taxilake/trips/pkg/dataset"
	"github.com/malbeclabs/taxilake/trips/pkg/metrics"
	"github.com/malbeclabs/taxilake/trips/pkg/objectstore"
	"github.com/malbeclabs/taxilake/trips/pkg/postgres"
	"github.com/malbeclabs/taxilake/utils/pkg/retry"
)

// Sink persists named aggregate tables.
type Sink interface {
	// Kind names the storage backend, for logs and metrics.
	Kind() string
	Write(ctx context.Context, table string, ds *dataset.Dataset) error
	Close() error
}

type WriteMode string

const (
	WriteOverwrite WriteMode = "overwrite"
	WriteAppend    WriteMode = "append"
)

func ParseWriteMode(s string) (WriteMode, error) {
	switch m := WriteMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", WriteOverwrite:
		return WriteOverwrite, nil
	case WriteAppend:
		return m, nil
	default:
		return "", fmt.Errorf("unknown write mode %q (want overwrite or append)", s)
	}
}

const clickhouseScheme = "clickhouse://"

type Config struct {
	Logger *slog.Logger
	// Target is a local directory, s3://bucket/prefix, clickhouse://... or
	// postgres://... URI.
	Target string
	Mode   WriteMode
	// Store is required for s3:// targets.
	Store           *objectstore.Store
	TimestampLayout string
	// Migrate runs the embedded migrations before a database sink is returned.
	Migrate bool
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if strings.TrimSpace(cfg.Target) == "" {
		return errors.New("target is required")
	}
	mode, err := ParseWriteMode(string(cfg.Mode))
	if err != nil {
		return err
	}
	cfg.Mode = mode
	if cfg.TimestampLayout == "" {
		cfg.TimestampLayout = DefaultTimestampLayout
	}
	return nil
}

// Open returns the sink selected by the target prefix.
func Open(ctx context.Context, cfg Config) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	appendMode := cfg.Mode == WriteAppend

	switch {
	case objectstore.IsURI(cfg.Target):
		if cfg.Store == nil {
			return nil, fmt.Errorf("no object store configured for %s", cfg.Target)
		}
		prefix, err := objectstore.ParseURI(cfg.Target)
		if err != nil {
			return nil, err
		}
		return NewS3Sink(cfg.Logger, cfg.Store, prefix, cfg.Mode, cfg.TimestampLayout), nil

	case strings.HasPrefix(cfg.Target, clickhouseScheme):
		connCfg, err := clickhouse.ParseDSN(cfg.Target)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := clickhouse.Up(ctx, cfg.Logger, connCfg); err != nil {
				return nil, err
			}
		}
		client, err := clickhouse.NewClient(ctx, cfg.Logger, connCfg)
		if err != nil {
			return nil, err
		}
		return clickhouse.NewSink(clickhouse.SinkConfig{Logger: cfg.Logger, Client: client, Append: appendMode})

	case postgres.IsURI(cfg.Target):
		if cfg.Migrate {
			if err := postgres.Up(ctx, cfg.Logger, cfg.Target); err != nil {
				return nil, err
			}
		}
		pool, err := postgres.NewPool(ctx, cfg.Logger, cfg.Target)
		if err != nil {
			return nil, err
		}
		return postgres.NewSink(postgres.SinkConfig{Logger: cfg.Logger, Pool: pool, Append: appendMode})

	case strings.Contains(cfg.Target, "://"):
		return nil, fmt.Errorf("unsupported target scheme in %q", cfg.Target)

	default:
		return NewLocalSink(cfg.Logger, cfg.Target, cfg.Mode, cfg.TimestampLayout)
	}
}

type WriteConfig struct {
	Logger *slog.Logger
	// Concurrency bounds the number of tables written at once.
	Concurrency int
	Retry       retry.Config
}

func (cfg *WriteConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return cfg.Retry.Validate()
}

// WriteAll writes every table to s concurrently, retrying transient
// failures. It returns the first error after all started writes finish.
func WriteAll(ctx context.Context, cfg WriteConfig, s Sink, tables []aggregate.Table) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	kind := s.Kind()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)
	for _, tb := range tables {
		g.Go(func() error {
			log := cfg.Logger.With("sink", kind, "table", tb.Name)
			rc := cfg.Retry
			rc.OnRetry = func(attempt int, err error, backoff time.Duration) {
				metrics.SinkRetriesTotal.WithLabelValues(kind).Inc()
				log.Warn("retrying aggregate table write", "attempt", attempt, "backoff", backoff, "error", err)
			}

			start := time.Now()
			err := retry.Do(ctx, rc, func(ctx context.Context) error {
				return s.Write(ctx, tb.Name, tb.Data)
			})
			metrics.SinkWriteDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
			if err != nil {
				metrics.SinkWritesTotal.WithLabelValues(kind, "error").Inc()
				return fmt.Errorf("failed to write %s: %w", tb.Name, err)
			}
			metrics.SinkWritesTotal.WithLabelValues(kind, "success").Inc()
			log.Info("wrote aggregate table", "rows", tb.Data.NumRows(), "duration", time.Since(start))
			return nil
		})
	}
	return g.Wait()
}
