package cleaning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/malbeclabs/taxilake/trips/pkg/dataset"
)

type DeduplicatorConfig struct {
	Logger     *slog.Logger
	Partitions int
}

func (cfg *DeduplicatorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// DedupReport is the row count delta of one deduplication.
type DedupReport struct {
	Before  int
	After   int
	Removed int
}

// Deduplicator removes rows whose every column equals an earlier row.
// Fingerprints are hashed in parallel; the first row of each fingerprint is
// kept, so running it on its own output is a no-op.
type Deduplicator struct {
	cfg DeduplicatorConfig
}

func NewDeduplicator(cfg DeduplicatorConfig) (*Deduplicator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Deduplicator{cfg: cfg}, nil
}

func (d *Deduplicator) Name() string { return "deduplicator" }

func (d *Deduplicator) Apply(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, *DedupReport, error) {
	rows := ds.NumRows()
	fps := make([]dataset.Fingerprint, rows)
	err := dataset.ForEachPartition(ctx, rows, d.cfg.Partitions, func(_ context.Context, _ int, r dataset.Range) error {
		fp := dataset.NewFingerprinter(ds)
		for i := r.Lo; i < r.Hi; i++ {
			fps[i] = fp.Row(i)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fingerprint rows: %w", err)
	}

	seen := make(map[dataset.Fingerprint]struct{}, rows)
	keep := make([]int, 0, rows)
	for i, fp := range fps {
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		keep = append(keep, i)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	report := &DedupReport{Before: rows, After: len(keep), Removed: rows - len(keep)}
	d.cfg.Logger.Info("deduplicated trips", "before", report.Before, "after", report.After, "removed", report.Removed)
	if report.Removed == 0 {
		return ds, report, nil
	}
	return ds.Take(keep), report, nil
}
