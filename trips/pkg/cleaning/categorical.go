package cleaning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/malbeclabs/taxilake/trips/pkg/dataset"
	"github.com/malbeclabs/taxilake/trips/pkg/taxi"
)

// DefaultCategoricalColumns are upper-cased unless configured otherwise.
var DefaultCategoricalColumns = []string{taxi.ColPaymentType}

type CategoricalConfig struct {
	Logger     *slog.Logger
	Columns    []string
	Partitions int
}

func (cfg *CategoricalConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Columns == nil {
		cfg.Columns = DefaultCategoricalColumns
	}
	return nil
}

// CategoricalNormalizer upper-cases text labels so that "Cash", "CASH" and
// "cash" collapse into one category.
type CategoricalNormalizer struct {
	cfg CategoricalConfig
}

func NewCategoricalNormalizer(cfg CategoricalConfig) (*CategoricalNormalizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &CategoricalNormalizer{cfg: cfg}, nil
}

func (c *CategoricalNormalizer) Name() string { return "categorical_normalizer" }

func (c *CategoricalNormalizer) Apply(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, error) {
	out := ds
	for _, name := range c.cfg.Columns {
		field, ok := ds.Schema().Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: categorical column %q", ErrConfig, name)
		}
		if field.Type != dataset.TypeText {
			return nil, fmt.Errorf("%w: categorical column %q has type %s", ErrConfig, name, field.Type)
		}
		src, err := ds.Text(name)
		if err != nil {
			return nil, err
		}
		b := dataset.NewBuilder[string](dataset.TypeText, ds.NumRows())
		err = dataset.ForEachPartition(ctx, ds.NumRows(), c.cfg.Partitions, func(_ context.Context, _ int, r dataset.Range) error {
			for i := r.Lo; i < r.Hi; i++ {
				if v, ok := src.Get(i); ok {
					b.Set(i, strings.ToUpper(v))
				} else {
					b.SetNull(i)
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to normalize %s: %w", name, err)
		}
		out, err = out.With(field, b.Build())
		if err != nil {
			return nil, err
		}
		c.cfg.Logger.Debug("normalized categorical column", "column", name)
	}
	return out, nil
}
