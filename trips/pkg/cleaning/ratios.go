package cleaning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/malbeclabs/taxilake/trips/pkg/dataset"
	"github.com/malbeclabs/taxilake/trips/pkg/taxi"
)

// Ratio derives Output = Numerator / Denominator.
type Ratio struct {
	Output      string
	Numerator   string
	Denominator string
}

// TripRatios are the per-trip distance ratios appended after duration.
var TripRatios = []Ratio{
	{Output: taxi.ColFarePerDist, Numerator: taxi.ColTripDistance, Denominator: taxi.ColFareAmt},
	{Output: taxi.ColTAmtPerDist, Numerator: taxi.ColTripDistance, Denominator: taxi.ColTotalAmt},
}

type DerivedMetricsConfig struct {
	Logger     *slog.Logger
	Ratios     []Ratio
	Partitions int
}

func (cfg *DerivedMetricsConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Ratios == nil {
		cfg.Ratios = TripRatios
	}
	return nil
}

// RatioQuality counts undefined results of one ratio.
type RatioQuality struct {
	Output   string
	Nulls    int
	Infinite int
	NaN      int
}

type DerivedReport struct {
	Ratios []RatioQuality
}

// DerivedMetrics appends ratio columns using IEEE-754 division: a zero
// denominator yields ±Inf or NaN, which flow through unchanged. A null
// operand yields null.
type DerivedMetrics struct {
	cfg DerivedMetricsConfig
}

func NewDerivedMetrics(cfg DerivedMetricsConfig) (*DerivedMetrics, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &DerivedMetrics{cfg: cfg}, nil
}

func (m *DerivedMetrics) Name() string { return "derived_metrics" }

func (m *DerivedMetrics) Apply(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, *DerivedReport, error) {
	out := ds
	report := &DerivedReport{}
	for _, r := range m.cfg.Ratios {
		col, q, err := m.ratio(ctx, ds, r)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to derive %s: %w", r.Output, err)
		}
		out, err = out.With(dataset.Field{Name: r.Output, Type: dataset.TypeReal, Nullable: true}, col)
		if err != nil {
			return nil, nil, err
		}
		report.Ratios = append(report.Ratios, q)
		if q.Infinite > 0 || q.NaN > 0 {
			m.cfg.Logger.Info("undefined ratios passed through", "column", r.Output, "infinite", q.Infinite, "nan", q.NaN)
		}
	}
	return out, report, nil
}

func (m *DerivedMetrics) ratio(ctx context.Context, ds *dataset.Dataset, r Ratio) (*dataset.Vector[float64], RatioQuality, error) {
	num, err := ds.Real(r.Numerator)
	if err != nil {
		return nil, RatioQuality{}, err
	}
	den, err := ds.Real(r.Denominator)
	if err != nil {
		return nil, RatioQuality{}, err
	}

	rows := ds.NumRows()
	b := dataset.NewBuilder[float64](dataset.TypeReal, rows)
	var nulls, inf, nan atomic.Int64
	err = dataset.ForEachPartition(ctx, rows, m.cfg.Partitions, func(_ context.Context, _ int, rg dataset.Range) error {
		for i := rg.Lo; i < rg.Hi; i++ {
			a, aok := num.Get(i)
			d, dok := den.Get(i)
			if !aok || !dok {
				b.SetNull(i)
				nulls.Add(1)
				continue
			}
			v := a / d
			switch {
			case math.IsNaN(v):
				nan.Add(1)
			case math.IsInf(v, 0):
				inf.Add(1)
			}
			b.Set(i, v)
		}
		return nil
	})
	if err != nil {
		return nil, RatioQuality{}, err
	}
	return b.Build(), RatioQuality{
		Output:   r.Output,
		Nulls:    int(nulls.Load()),
		Infinite: int(inf.Load()),
		NaN:      int(nan.Load()),
	}, nil
}
