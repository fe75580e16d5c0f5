package cleaning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/malbeclabs/taxilake/trips/pkg/dataset"
	"github.com/malbeclabs/taxilake/trips/pkg/taxi"
)

type TimeNormalizerConfig struct {
	Logger     *slog.Logger
	Layout     string
	Policy     TimeParserPolicy
	Location   *time.Location
	Partitions int
}

func (cfg *TimeNormalizerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Layout == "" {
		cfg.Layout = DefaultTimestampLayout
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyLegacy
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	switch cfg.Policy {
	case PolicyLegacy:
		if _, err := compileLenientLayout(cfg.Layout); err != nil {
			return err
		}
	case PolicyCorrected:
	default:
		return fmt.Errorf("unknown time parser policy %q", cfg.Policy)
	}
	return nil
}

// TimeReport counts the row-level outcomes of timestamp normalization.
type TimeReport struct {
	PickupParseFailures  int
	DropoffParseFailures int
	NullDurations        int
	NegativeDurations    int
	ZeroDurations        int
}

// TimeNormalizer parses the pickup and dropoff text columns into timestamps
// and appends the trip duration in seconds. Unparseable values become null.
type TimeNormalizer struct {
	cfg     TimeNormalizerConfig
	lenient *lenientLayout
}

func NewTimeNormalizer(cfg TimeNormalizerConfig) (*TimeNormalizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := &TimeNormalizer{cfg: cfg}
	if cfg.Policy == PolicyLegacy {
		l, err := compileLenientLayout(cfg.Layout)
		if err != nil {
			return nil, err
		}
		n.lenient = l
	}
	return n, nil
}

func (n *TimeNormalizer) Name() string { return "time_normalizer" }

// Parse converts one timestamp string using the configured policy.
func (n *TimeNormalizer) Parse(s string) (time.Time, bool) {
	if n.lenient != nil {
		return n.lenient.parse(s, n.cfg.Location)
	}
	t, err := time.ParseInLocation(n.cfg.Layout, s, n.cfg.Location)
	if err != nil {
		return time.Time{}, false
	}
	return t.Truncate(time.Second), true
}

func (n *TimeNormalizer) Apply(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, *TimeReport, error) {
	pickupText, err := ds.Text(taxi.ColPickupDateTime)
	if err != nil {
		return nil, nil, err
	}
	dropoffText, err := ds.Text(taxi.ColDropoffDateTime)
	if err != nil {
		return nil, nil, err
	}

	rows := ds.NumRows()
	pickup := dataset.NewBuilder[time.Time](dataset.TypeTimestamp, rows)
	dropoff := dataset.NewBuilder[time.Time](dataset.TypeTimestamp, rows)
	duration := dataset.NewBuilder[int64](dataset.TypeInteger, rows)

	var pickupFailures, dropoffFailures, nullDur, negDur, zeroDur atomic.Int64
	err = dataset.ForEachPartition(ctx, rows, n.cfg.Partitions, func(_ context.Context, _ int, r dataset.Range) error {
		for i := r.Lo; i < r.Hi; i++ {
			p, pok := n.parseCell(pickupText, i, pickup, &pickupFailures)
			d, dok := n.parseCell(dropoffText, i, dropoff, &dropoffFailures)
			if !pok || !dok {
				duration.SetNull(i)
				nullDur.Add(1)
				continue
			}
			secs := d.Unix() - p.Unix()
			duration.Set(i, secs)
			switch {
			case secs < 0:
				negDur.Add(1)
			case secs == 0:
				zeroDur.Add(1)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to normalize timestamps: %w", err)
	}

	out, err := ds.With(dataset.Field{Name: taxi.ColPickupDateTime, Type: dataset.TypeTimestamp, Nullable: true}, pickup.Build())
	if err != nil {
		return nil, nil, err
	}
	out, err = out.With(dataset.Field{Name: taxi.ColDropoffDateTime, Type: dataset.TypeTimestamp, Nullable: true}, dropoff.Build())
	if err != nil {
		return nil, nil, err
	}
	out, err = out.With(dataset.Field{Name: taxi.ColDuration, Type: dataset.TypeInteger, Nullable: true}, duration.Build())
	if err != nil {
		return nil, nil, err
	}

	report := &TimeReport{
		PickupParseFailures:  int(pickupFailures.Load()),
		DropoffParseFailures: int(dropoffFailures.Load()),
		NullDurations:        int(nullDur.Load()),
		NegativeDurations:    int(negDur.Load()),
		ZeroDurations:        int(zeroDur.Load()),
	}
	if report.PickupParseFailures > 0 || report.DropoffParseFailures > 0 {
		n.cfg.Logger.Warn("unparseable timestamps set to null",
			"pickup", report.PickupParseFailures, "dropoff", report.DropoffParseFailures, "layout", n.cfg.Layout, "policy", n.cfg.Policy)
	}
	if report.NegativeDurations > 0 {
		n.cfg.Logger.Warn("trips with negative duration", "count", report.NegativeDurations)
	}
	return out, report, nil
}

func (n *TimeNormalizer) parseCell(src *dataset.Vector[string], i int, dst *dataset.Builder[time.Time], failures *atomic.Int64) (time.Time, bool) {
	s, ok := src.Get(i)
	if !ok {
		dst.SetNull(i)
		return time.Time{}, false
	}
	t, ok := n.Parse(s)
	if !ok {
		failures.Add(1)
		dst.SetNull(i)
		return time.Time{}, false
	}
	dst.Set(i, t)
	return t, true
}
