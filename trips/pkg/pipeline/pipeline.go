package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/taxilake/trips/pkg/aggregate"
	"github.com/malbeclabs/taxilake/trips/pkg/cleaning"
	"github.com/malbeclabs/taxilake/trips/pkg/dataset"
	"github.com/malbeclabs/taxilake/trips/pkg/metrics"
	"github.com/malbeclabs/taxilake/trips/pkg/sink"
	"github.com/malbeclabs/taxilake/trips/pkg/taxi"
)

// Stage names, as reported in Result.Stages and the stage metrics.
const (
	StageLoad        = "load"
	StageValidateRaw = "validate_raw"
	StageNullFilter  = "null_density_filter"
	StageTimes       = "time_normalizer"
	StageRatios      = "derived_metrics"
	StageCategorical = "categorical_normalizer"
	StageDedup       = "deduplicator"
	StageValidate    = "schema_validator"
	StageAggregate   = "aggregator"
	StageWrite       = "sink_write"
)

// Source loads the raw trips dataset from a location.
type Source interface {
	Load(ctx context.Context, source string) (*dataset.Dataset, error)
}

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	// NullThreshold defaults to cleaning.DefaultNullThreshold when nil.
	NullThreshold      *float64
	TimestampLayout    string
	TimeParserPolicy   cleaning.TimeParserPolicy
	Location           *time.Location
	CategoricalColumns []string
	// Partitions bounds the row partitions of every map stage; 0 uses GOMAXPROCS.
	Partitions int

	// Dimensions overrides the aggregate tables; nil produces every trip rollup.
	Dimensions []aggregate.Dimension
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.NullThreshold == nil {
		t := cleaning.DefaultNullThreshold
		cfg.NullThreshold = &t
	}
	if cfg.Partitions < 0 {
		return fmt.Errorf("partitions must not be negative, got %d", cfg.Partitions)
	}
	return nil
}

// Pipeline cleans raw trips, validates the result against the cleaned schema
// and aggregates it. Stages are constructed once and reused across runs.
type Pipeline struct {
	log *slog.Logger
	cfg Config

	nulls       *cleaning.NullDensityFilter
	times       *cleaning.TimeNormalizer
	ratios      *cleaning.DerivedMetrics
	categorical *cleaning.CategoricalNormalizer
	dedup       *cleaning.Deduplicator
	validator   *cleaning.SchemaValidator
	aggregator  *aggregate.Aggregator
}

func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{log: cfg.Logger, cfg: cfg}

	var err error
	if p.nulls, err = cleaning.NewNullDensityFilter(cleaning.NullFilterConfig{
		Logger:     cfg.Logger,
		Threshold:  *cfg.NullThreshold,
		Partitions: cfg.Partitions,
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", cleaning.ErrConfig, err)
	}
	if p.times, err = cleaning.NewTimeNormalizer(cleaning.TimeNormalizerConfig{
		Logger:     cfg.Logger,
		Layout:     cfg.TimestampLayout,
		Policy:     cfg.TimeParserPolicy,
		Location:   cfg.Location,
		Partitions: cfg.Partitions,
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", cleaning.ErrConfig, err)
	}
	if p.ratios, err = cleaning.NewDerivedMetrics(cleaning.DerivedMetricsConfig{
		Logger:     cfg.Logger,
		Partitions: cfg.Partitions,
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", cleaning.ErrConfig, err)
	}
	if p.categorical, err = cleaning.NewCategoricalNormalizer(cleaning.CategoricalConfig{
		Logger:     cfg.Logger,
		Columns:    cfg.CategoricalColumns,
		Partitions: cfg.Partitions,
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", cleaning.ErrConfig, err)
	}
	if p.dedup, err = cleaning.NewDeduplicator(cleaning.DeduplicatorConfig{
		Logger:     cfg.Logger,
		Partitions: cfg.Partitions,
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", cleaning.ErrConfig, err)
	}
	p.validator = cleaning.NewSchemaValidator(taxi.CleanedSchema)
	if p.aggregator, err = aggregate.New(aggregate.Config{
		Logger:     cfg.Logger,
		Dimensions: cfg.Dimensions,
		Partitions: cfg.Partitions,
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", cleaning.ErrConfig, err)
	}
	return p, nil
}

// StageTiming records one executed stage.
type StageTiming struct {
	Name     string
	Duration time.Duration
	RowsIn   int
	RowsOut  int
}

// Result summarises one run.
type Result struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration

	RawRows   int
	CleanRows int

	Nulls  *cleaning.NullReport
	Times  *cleaning.TimeReport
	Ratios *cleaning.DerivedReport
	Dedup  *cleaning.DedupReport
	Stages []StageTiming

	Cleaned *dataset.Dataset
	Tables  []aggregate.Table
	// Written is set once every table has reached the sink.
	Written bool
}

// DroppedColumns lists the columns eliminated by the null-density filter.
func (r *Result) DroppedColumns() []string {
	if r.Nulls == nil {
		return nil
	}
	return r.Nulls.Dropped
}

// Table returns the aggregate table with the given name.
func (r *Result) Table(name string) (aggregate.Table, bool) {
	for _, t := range r.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return aggregate.Table{}, false
}

func (p *Pipeline) newResult() *Result {
	return &Result{RunID: uuid.NewString(), StartedAt: p.cfg.Clock.Now()}
}

// stage runs fn, recording its timing and row counts on res.
func (p *Pipeline) stage(ctx context.Context, res *Result, name string, rowsIn int, fn func() (int, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := p.cfg.Clock.Now()
	rowsOut, err := fn()
	d := p.cfg.Clock.Since(start)
	if err != nil {
		p.log.Error("pipeline: stage failed", "run_id", res.RunID, "stage", name, "error", err)
		return err
	}

	res.Stages = append(res.Stages, StageTiming{Name: name, Duration: d, RowsIn: rowsIn, RowsOut: rowsOut})
	metrics.StageDuration.WithLabelValues(name).Observe(d.Seconds())
	metrics.StageRows.WithLabelValues(name, "in").Set(float64(rowsIn))
	metrics.StageRows.WithLabelValues(name, "out").Set(float64(rowsOut))
	p.log.Debug("pipeline: stage completed", "run_id", res.RunID, "stage", name, "rows_in", rowsIn, "rows_out", rowsOut, "duration", d)
	return nil
}

// Process validates, cleans and aggregates an already loaded raw dataset.
func (p *Pipeline) Process(ctx context.Context, raw *dataset.Dataset) (*Result, error) {
	res := p.newResult()
	err := p.process(ctx, res, raw)
	p.finish(res, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Run loads source, processes it and writes every aggregate table to s. A nil
// sink is a dry run. Nothing is written unless every earlier stage succeeds.
func (p *Pipeline) Run(ctx context.Context, src Source, source string, s sink.Sink, wcfg sink.WriteConfig) (*Result, error) {
	res := p.newResult()
	err := p.run(ctx, res, src, source, s, wcfg)
	p.finish(res, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, res *Result, src Source, source string, s sink.Sink, wcfg sink.WriteConfig) error {
	if src == nil {
		return errors.New("source loader is required")
	}
	p.log.Info("pipeline: run started", "run_id", res.RunID, "source", source)

	var raw *dataset.Dataset
	err := p.stage(ctx, res, StageLoad, 0, func() (int, error) {
		var err error
		raw, err = src.Load(ctx, source)
		if err != nil {
			return 0, fmt.Errorf("failed to load %s: %w", source, err)
		}
		return raw.NumRows(), nil
	})
	if err != nil {
		return err
	}

	if err := p.process(ctx, res, raw); err != nil {
		return err
	}

	if s == nil {
		p.log.Info("pipeline: dry run, skipping sink write", "run_id", res.RunID, "tables", len(res.Tables))
		return nil
	}
	if wcfg.Logger == nil {
		wcfg.Logger = p.log
	}
	err = p.stage(ctx, res, StageWrite, len(res.Tables), func() (int, error) {
		if err := sink.WriteAll(ctx, wcfg, s, res.Tables); err != nil {
			return 0, fmt.Errorf("failed to write aggregates to %s sink: %w", s.Kind(), err)
		}
		return len(res.Tables), nil
	})
	if err != nil {
		return err
	}
	res.Written = true
	return nil
}

func (p *Pipeline) process(ctx context.Context, res *Result, raw *dataset.Dataset) error {
	res.RawRows = raw.NumRows()
	rows := raw.NumRows()

	err := p.stage(ctx, res, StageValidateRaw, rows, func() (int, error) {
		if err := taxi.ValidateRaw(raw); err != nil {
			return 0, fmt.Errorf("raw validation failed: %w", err)
		}
		return rows, nil
	})
	if err != nil {
		return err
	}

	ds := raw
	err = p.stage(ctx, res, StageNullFilter, rows, func() (int, error) {
		var err error
		ds, res.Nulls, err = p.nulls.Apply(ctx, ds)
		if err != nil {
			return 0, fmt.Errorf("null-density filter failed: %w", err)
		}
		for _, c := range res.Nulls.Dropped {
			metrics.ColumnsDroppedTotal.WithLabelValues(c).Inc()
		}
		return ds.NumRows(), nil
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, res, StageTimes, rows, func() (int, error) {
		var err error
		ds, res.Times, err = p.times.Apply(ctx, ds)
		if err != nil {
			return 0, fmt.Errorf("time normalization failed: %w", err)
		}
		metrics.TimestampParseFailuresTotal.WithLabelValues(taxi.ColPickupDateTime).Add(float64(res.Times.PickupParseFailures))
		metrics.TimestampParseFailuresTotal.WithLabelValues(taxi.ColDropoffDateTime).Add(float64(res.Times.DropoffParseFailures))
		return ds.NumRows(), nil
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, res, StageRatios, rows, func() (int, error) {
		var err error
		ds, res.Ratios, err = p.ratios.Apply(ctx, ds)
		if err != nil {
			return 0, fmt.Errorf("derived metrics failed: %w", err)
		}
		for _, q := range res.Ratios.Ratios {
			metrics.UndefinedRatiosTotal.WithLabelValues(q.Output, "null").Add(float64(q.Nulls))
			metrics.UndefinedRatiosTotal.WithLabelValues(q.Output, "inf").Add(float64(q.Infinite))
			metrics.UndefinedRatiosTotal.WithLabelValues(q.Output, "nan").Add(float64(q.NaN))
		}
		return ds.NumRows(), nil
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, res, StageCategorical, rows, func() (int, error) {
		var err error
		ds, err = p.categorical.Apply(ctx, ds)
		if err != nil {
			return 0, fmt.Errorf("categorical normalization failed: %w", err)
		}
		return ds.NumRows(), nil
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, res, StageDedup, rows, func() (int, error) {
		var err error
		ds, res.Dedup, err = p.dedup.Apply(ctx, ds)
		if err != nil {
			return 0, fmt.Errorf("deduplication failed: %w", err)
		}
		metrics.DuplicatesRemovedTotal.Add(float64(res.Dedup.Removed))
		return ds.NumRows(), nil
	})
	if err != nil {
		return err
	}
	rows = ds.NumRows()

	err = p.stage(ctx, res, StageValidate, rows, func() (int, error) {
		if err := p.validator.Validate(ds); err != nil {
			return 0, fmt.Errorf("post-clean validation failed: %w", err)
		}
		return rows, nil
	})
	if err != nil {
		return err
	}
	res.Cleaned = ds
	res.CleanRows = rows

	return p.stage(ctx, res, StageAggregate, rows, func() (int, error) {
		var err error
		res.Tables, err = p.aggregator.Run(ctx, ds)
		if err != nil {
			return 0, fmt.Errorf("aggregation failed: %w", err)
		}
		groups := 0
		for _, t := range res.Tables {
			groups += t.Data.NumRows()
		}
		return groups, nil
	})
}

func (p *Pipeline) finish(res *Result, err error) {
	res.Duration = p.cfg.Clock.Since(res.StartedAt)
	if err != nil {
		metrics.RunsTotal.WithLabelValues("error").Inc()
		if errors.Is(err, context.Canceled) {
			p.log.Warn("pipeline: run cancelled", "run_id", res.RunID, "duration", res.Duration)
		}
		return
	}
	metrics.RunsTotal.WithLabelValues("success").Inc()
	p.log.Info("pipeline: run completed",
		"run_id", res.RunID,
		"raw_rows", res.RawRows,
		"clean_rows", res.CleanRows,
		"dropped_columns", res.DroppedColumns(),
		"duplicates_removed", res.Dedup.Removed,
		"tables", len(res.Tables),
		"written", res.Written,
		"duration", res.Duration,
	)
}
