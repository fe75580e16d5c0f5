package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/taxilake/trips/pkg/dataset"
	"github.com/malbeclabs/taxilake/trips/pkg/taxi"
)

const (
	CountColumn = "count"
	sumSuffix   = "_sum"
	avgSuffix   = "_avg"
)

func SumColumn(col string) string { return col + sumSuffix }
func AvgColumn(col string) string { return col + avgSuffix }

// Table is one named aggregate result.
type Table struct {
	Name string
	Data *dataset.Dataset
}

type Config struct {
	Logger     *slog.Logger
	Dimensions []Dimension
	// Columns are summed and averaged in every dimension that is not CountOnly.
	Columns    []string
	Partitions int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Dimensions == nil {
		cfg.Dimensions = TripDimensions
	}
	if cfg.Columns == nil {
		cfg.Columns = taxi.AggregatedColumns
	}
	seen := make(map[string]struct{}, len(cfg.Dimensions))
	for _, d := range cfg.Dimensions {
		if err := d.validate(); err != nil {
			return err
		}
		if _, ok := seen[d.Table]; ok {
			return fmt.Errorf("duplicate aggregate table %s", d.Table)
		}
		seen[d.Table] = struct{}{}
	}
	return nil
}

// Aggregator computes grouped count, sum and average rollups. Each dimension
// is aggregated per partition and the partials are merged in partition
// order, so equal inputs give identical tables.
type Aggregator struct {
	cfg Config
}

func New(cfg Config) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{cfg: cfg}, nil
}

func (a *Aggregator) Name() string { return "aggregator" }

// Run computes every configured dimension concurrently.
func (a *Aggregator) Run(ctx context.Context, ds *dataset.Dataset) ([]Table, error) {
	tables := make([]Table, len(a.cfg.Dimensions))
	g, ctx := errgroup.WithContext(ctx)
	for i, dim := range a.cfg.Dimensions {
		g.Go(func() error {
			start := time.Now()
			t, err := a.Aggregate(ctx, ds, dim)
			if err != nil {
				return fmt.Errorf("failed to aggregate %s: %w", dim.Table, err)
			}
			tables[i] = t
			a.cfg.Logger.Debug("aggregated dimension", "table", dim.Table, "groups", t.Data.NumRows(), "duration", time.Since(start))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tables, nil
}

// metric is one summed column of the input.
type metric struct {
	name    string
	integer bool
	ints    *dataset.Vector[int64]
	reals   *dataset.Vector[float64]
}

type groupState struct {
	count int64
	// n counts the non-null values feeding sums[j]/isums[j].
	n     []int64
	isums []int64
	sums  []float64
}

func newGroupState(m int) *groupState {
	return &groupState{n: make([]int64, m), isums: make([]int64, m), sums: make([]float64, m)}
}

func (s *groupState) merge(o *groupState) {
	s.count += o.count
	for j := range s.n {
		s.n[j] += o.n[j]
		s.isums[j] += o.isums[j]
		s.sums[j] += o.sums[j]
	}
}

// Aggregate computes a single dimension.
func (a *Aggregator) Aggregate(ctx context.Context, ds *dataset.Dataset, dim Dimension) (Table, error) {
	if err := dim.validate(); err != nil {
		return Table{}, err
	}
	extract := make([]func(int) keyPart, len(dim.Keys))
	for i, k := range dim.Keys {
		fn, err := k.extractor(ds)
		if err != nil {
			return Table{}, fmt.Errorf("key %s: %w", k.Name, err)
		}
		extract[i] = fn
	}

	var metrics []metric
	if !dim.CountOnly {
		for _, name := range a.cfg.Columns {
			m, err := resolveMetric(ds, name)
			if err != nil {
				return Table{}, err
			}
			metrics = append(metrics, m)
		}
	}

	parts := dataset.Partitions(ds.NumRows(), a.cfg.Partitions)
	partials := make([]map[groupKey]*groupState, len(parts))
	err := dataset.ForEachPartition(ctx, ds.NumRows(), a.cfg.Partitions, func(_ context.Context, p int, r dataset.Range) error {
		groups := make(map[groupKey]*groupState)
		for i := r.Lo; i < r.Hi; i++ {
			var key groupKey
			for k, fn := range extract {
				key[k] = fn(i)
			}
			st, ok := groups[key]
			if !ok {
				st = newGroupState(len(metrics))
				groups[key] = st
			}
			st.count++
			for j, m := range metrics {
				if m.integer {
					if v, ok := m.ints.Get(i); ok {
						st.isums[j] += v
						st.n[j]++
					}
				} else if v, ok := m.reals.Get(i); ok {
					st.sums[j] += v
					st.n[j]++
				}
			}
		}
		partials[p] = groups
		return nil
	})
	if err != nil {
		return Table{}, err
	}

	merged := make(map[groupKey]*groupState)
	for _, groups := range partials {
		for k, st := range groups {
			if cur, ok := merged[k]; ok {
				cur.merge(st)
			} else {
				merged[k] = st
			}
		}
	}
	keys := make([]groupKey, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)

	data, err := buildTable(dim, metrics, keys, merged)
	if err != nil {
		return Table{}, err
	}
	return Table{Name: dim.Table, Data: data}, nil
}

func resolveMetric(ds *dataset.Dataset, name string) (metric, error) {
	col, err := ds.Column(name)
	if err != nil {
		return metric{}, err
	}
	switch col.Type() {
	case dataset.TypeInteger:
		v, err := dataset.As[int64](col)
		return metric{name: name, integer: true, ints: v}, err
	case dataset.TypeReal:
		v, err := dataset.As[float64](col)
		return metric{name: name, reals: v}, err
	default:
		return metric{}, fmt.Errorf("column %s has non-numeric type %s", name, col.Type())
	}
}

// OutputSchema is the schema of the table produced for dim.
func OutputSchema(dim Dimension, columns []string, columnTypes func(string) dataset.Type) (dataset.Schema, error) {
	var fields []dataset.Field
	for _, k := range dim.Keys {
		fields = append(fields, dataset.Field{Name: k.Name, Type: k.Type, Nullable: true})
	}
	fields = append(fields, dataset.Field{Name: CountColumn, Type: dataset.TypeInteger})
	if !dim.CountOnly {
		for _, c := range columns {
			sumType := dataset.TypeReal
			if columnTypes(c) == dataset.TypeInteger {
				sumType = dataset.TypeInteger
			}
			fields = append(fields,
				dataset.Field{Name: SumColumn(c), Type: sumType, Nullable: true},
				dataset.Field{Name: AvgColumn(c), Type: dataset.TypeReal, Nullable: true},
			)
		}
	}
	return dataset.NewSchema(fields...)
}

func buildTable(dim Dimension, metrics []metric, keys []groupKey, groups map[groupKey]*groupState) (*dataset.Dataset, error) {
	n := len(keys)
	names := make([]string, len(metrics))
	types := make(map[string]dataset.Type, len(metrics))
	for j, m := range metrics {
		names[j] = m.name
		types[m.name] = dataset.TypeReal
		if m.integer {
			types[m.name] = dataset.TypeInteger
		}
	}
	schema, err := OutputSchema(dim, names, func(c string) dataset.Type { return types[c] })
	if err != nil {
		return nil, err
	}

	var cols []dataset.Column
	for k, key := range dim.Keys {
		switch key.Type {
		case dataset.TypeText:
			b := dataset.NewBuilder[string](dataset.TypeText, n)
			for r, gk := range keys {
				if gk[k].valid {
					b.Set(r, gk[k].s)
				}
			}
			cols = append(cols, b.Build())
		case dataset.TypeDate:
			b := dataset.NewBuilder[time.Time](dataset.TypeDate, n)
			for r, gk := range keys {
				if gk[k].valid {
					b.Set(r, fromDayNumber(gk[k].i))
				}
			}
			cols = append(cols, b.Build())
		default:
			b := dataset.NewBuilder[int64](dataset.TypeInteger, n)
			for r, gk := range keys {
				if gk[k].valid {
					b.Set(r, gk[k].i)
				}
			}
			cols = append(cols, b.Build())
		}
	}

	counts := make([]int64, n)
	for r, gk := range keys {
		counts[r] = groups[gk].count
	}
	cols = append(cols, dataset.NewInteger(counts, nil))

	for j, m := range metrics {
		avg := dataset.NewBuilder[float64](dataset.TypeReal, n)
		if m.integer {
			sum := dataset.NewBuilder[int64](dataset.TypeInteger, n)
			for r, gk := range keys {
				st := groups[gk]
				if st.n[j] > 0 {
					sum.Set(r, st.isums[j])
					avg.Set(r, float64(st.isums[j])/float64(st.n[j]))
				}
			}
			cols = append(cols, sum.Build(), avg.Build())
			continue
		}
		sum := dataset.NewBuilder[float64](dataset.TypeReal, n)
		for r, gk := range keys {
			st := groups[gk]
			if st.n[j] > 0 {
				sum.Set(r, st.sums[j])
				avg.Set(r, st.sums[j]/float64(st.n[j]))
			}
		}
		cols = append(cols, sum.Build(), avg.Build())
	}
	return dataset.New(schema, cols...)
}
