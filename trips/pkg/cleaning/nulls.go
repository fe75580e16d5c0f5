package cleaning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/malbeclabs/taxilake/trips/pkg/dataset"
)

// DefaultNullThreshold drops columns that are more than 99% empty.
const DefaultNullThreshold = 0.99

type NullFilterConfig struct {
	Logger *slog.Logger
	// Threshold is the null fraction above which a column is dropped.
	Threshold  float64
	Partitions int
}

func (cfg *NullFilterConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return fmt.Errorf("null threshold must be within [0, 1], got %v", cfg.Threshold)
	}
	return nil
}

// ColumnNulls is the null tally for one column.
type ColumnNulls struct {
	Column   string
	Nulls    int
	Fraction float64
}

// NullReport is the per-column null tally of one dataset, in schema order.
type NullReport struct {
	Rows    int
	Columns []ColumnNulls
	Dropped []string
}

// Nulls returns the tally for the named column.
func (r *NullReport) Nulls(column string) (ColumnNulls, bool) {
	for _, c := range r.Columns {
		if c.Column == column {
			return c, true
		}
	}
	return ColumnNulls{}, false
}

// NullDensityFilter drops columns whose null or NaN fraction exceeds the
// configured threshold. Columns are judged on density alone, so a sparse
// column that does carry a few values is still dropped.
type NullDensityFilter struct {
	cfg NullFilterConfig
}

func NewNullDensityFilter(cfg NullFilterConfig) (*NullDensityFilter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &NullDensityFilter{cfg: cfg}, nil
}

func (f *NullDensityFilter) Name() string { return "null_density_filter" }

// Measure counts nulls per column without dropping anything.
func (f *NullDensityFilter) Measure(ctx context.Context, ds *dataset.Dataset) (*NullReport, error) {
	ncols := ds.NumCols()
	totals := make([]int, ncols)
	var mu sync.Mutex
	err := dataset.ForEachPartition(ctx, ds.NumRows(), f.cfg.Partitions, func(_ context.Context, _ int, r dataset.Range) error {
		local := make([]int, ncols)
		for j := range ncols {
			col := ds.ColumnAt(j)
			for i := r.Lo; i < r.Hi; i++ {
				if dataset.IsMissing(col, i) {
					local[j]++
				}
			}
		}
		mu.Lock()
		for j, n := range local {
			totals[j] += n
		}
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count nulls: %w", err)
	}

	report := &NullReport{Rows: ds.NumRows(), Columns: make([]ColumnNulls, ncols)}
	for j, name := range ds.Schema().Names() {
		// No rows means no evidence of nullness.
		var frac float64
		if report.Rows > 0 {
			frac = float64(totals[j]) / float64(report.Rows)
		}
		report.Columns[j] = ColumnNulls{Column: name, Nulls: totals[j], Fraction: frac}
	}
	return report, nil
}

// Apply measures ds and drops every column above the threshold.
func (f *NullDensityFilter) Apply(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, *NullReport, error) {
	report, err := f.Measure(ctx, ds)
	if err != nil {
		return nil, nil, err
	}
	for _, c := range report.Columns {
		if c.Fraction > f.cfg.Threshold {
			report.Dropped = append(report.Dropped, c.Column)
			f.cfg.Logger.Info("dropping sparse column", "column", c.Column, "nulls", c.Nulls, "fraction", c.Fraction, "threshold", f.cfg.Threshold)
		}
	}
	if len(report.Dropped) == 0 {
		return ds, report, nil
	}
	out, err := ds.Drop(report.Dropped...)
	if err != nil {
		return nil, nil, err
	}
	return out, report, nil
}
