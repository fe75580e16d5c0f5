package cleaning

import (
	"errors"
	"math"
	"testing"

	"github.com/malbeclabs/taxilake/trips/pkg/dataset"
	"github.com/malbeclabs/taxilake/trips/pkg/taxi"
	taxitesting "github.com/malbeclabs/taxilake/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

func TestTaxiLake_Cleaning_DerivedMetrics(t *testing.T) {
	t.Parallel()

	ds := taxitesting.RawDataset(t,
		taxitesting.CMTTrip(),
		taxitesting.Trip(taxitesting.WithFare(0, 0)),
		taxitesting.Trip(func(tr *taxi.RawTrip) {
			tr.TripDistance = taxi.Ptr(0.0)
			tr.FareAmt = taxi.Ptr(0.0)
			tr.TotalAmt = taxi.Ptr(-1.0)
		}),
		taxitesting.Trip(func(tr *taxi.RawTrip) { tr.FareAmt = nil }),
	)
	m, err := NewDerivedMetrics(DerivedMetricsConfig{Logger: taxitesting.NewLogger(), Partitions: 3})
	require.NoError(t, err)
	out, report, err := m.Apply(t.Context(), ds)
	require.NoError(t, err)

	names := out.Schema().Names()
	require.Equal(t, []string{taxi.ColFarePerDist, taxi.ColTAmtPerDist}, names[len(names)-2:])

	fpd, err := out.Real(taxi.ColFarePerDist)
	require.NoError(t, err)
	tpd, err := out.Real(taxi.ColTAmtPerDist)
	require.NoError(t, err)

	v, _ := fpd.Get(0)
	require.Equal(t, 0.2, v)
	v, _ = tpd.Get(0)
	require.InDelta(t, 2.0/11.5, v, 1e-12)

	v, ok := fpd.Get(1)
	require.True(t, ok)
	require.True(t, math.IsInf(v, 1), "x/0 is +Inf")

	v, ok = fpd.Get(2)
	require.True(t, ok)
	require.True(t, math.IsNaN(v), "0/0 is NaN")
	v, _ = tpd.Get(2)
	require.Equal(t, 0.0, math.Abs(v))

	require.True(t, fpd.IsNull(3), "null fare gives null ratio")
	require.False(t, tpd.IsNull(3))

	require.Equal(t, []RatioQuality{
		{Output: taxi.ColFarePerDist, Nulls: 1, Infinite: 1, NaN: 1},
		{Output: taxi.ColTAmtPerDist, Infinite: 1},
	}, report.Ratios)

	t.Run("missing operand is an error", func(t *testing.T) {
		t.Parallel()
		narrow, err := ds.Drop(taxi.ColFareAmt)
		require.NoError(t, err)
		_, _, err = m.Apply(t.Context(), narrow)
		require.ErrorIs(t, err, dataset.ErrColumnNotFound)
	})
}

func TestTaxiLake_Cleaning_CategoricalNormalizer(t *testing.T) {
	t.Parallel()

	ds := taxitesting.RawDataset(t,
		taxitesting.CMTTrip(),
		taxitesting.Trip(taxitesting.WithPayment("CASH")),
		taxitesting.Trip(taxitesting.WithPayment("credit")),
		taxitesting.Trip(func(tr *taxi.RawTrip) { tr.PaymentType = nil }),
	)
	c, err := NewCategoricalNormalizer(CategoricalConfig{Logger: taxitesting.NewLogger()})
	require.NoError(t, err)

	once, err := c.Apply(t.Context(), ds)
	require.NoError(t, err)
	twice, err := c.Apply(t.Context(), once)
	require.NoError(t, err)

	for _, out := range []*dataset.Dataset{once, twice} {
		payment, err := out.Text(taxi.ColPaymentType)
		require.NoError(t, err)
		got := make([]any, out.NumRows())
		for i := range got {
			got[i] = payment.Value(i)
		}
		require.Equal(t, []any{"CASH", "CASH", "CREDIT", nil}, got)
	}
	require.Equal(t, ds.Schema().Names(), once.Schema().Names())

	t.Run("unknown column is a configuration error", func(t *testing.T) {
		t.Parallel()
		c, err := NewCategoricalNormalizer(CategoricalConfig{Logger: taxitesting.NewLogger(), Columns: []string{"nope"}})
		require.NoError(t, err)
		_, err = c.Apply(t.Context(), ds)
		require.ErrorIs(t, err, ErrConfig)
	})

	t.Run("non-text column is a configuration error", func(t *testing.T) {
		t.Parallel()
		c, err := NewCategoricalNormalizer(CategoricalConfig{Logger: taxitesting.NewLogger(), Columns: []string{taxi.ColFareAmt}})
		require.NoError(t, err)
		_, err = c.Apply(t.Context(), ds)
		require.ErrorIs(t, err, ErrConfig)
	})
}

func TestTaxiLake_Cleaning_Deduplicator(t *testing.T) {
	t.Parallel()

	newDedup := func(t *testing.T) *Deduplicator {
		d, err := NewDeduplicator(DeduplicatorConfig{Logger: taxitesting.NewLogger(), Partitions: 3})
		require.NoError(t, err)
		return d
	}

	t.Run("removes exact duplicates and keeps the first", func(t *testing.T) {
		t.Parallel()
		ds := taxitesting.RawDataset(t,
			taxitesting.CMTTrip(),
			taxitesting.Trip(taxitesting.WithVendor("VTS")),
			taxitesting.CMTTrip(),
			taxitesting.Trip(taxitesting.WithVendor("VTS")),
			taxitesting.CMTTrip(),
			taxi.RawTrip{},
			taxi.RawTrip{},
		)
		out, report, err := newDedup(t).Apply(t.Context(), ds)
		require.NoError(t, err)
		require.Equal(t, &DedupReport{Before: 7, After: 3, Removed: 4}, report)

		vendor, err := out.Text(taxi.ColVendorName)
		require.NoError(t, err)
		require.Equal(t, "CMT", vendor.Value(0))
		require.Equal(t, "VTS", vendor.Value(1))
		require.Nil(t, vendor.Value(2))
	})

	t.Run("is idempotent", func(t *testing.T) {
		t.Parallel()
		ds := taxitesting.RawDataset(t, taxitesting.CMTTrip(), taxitesting.CMTTrip(), taxitesting.Trip(taxitesting.WithPayment("CASH")))
		d := newDedup(t)
		once, r1, err := d.Apply(t.Context(), ds)
		require.NoError(t, err)
		twice, r2, err := d.Apply(t.Context(), once)
		require.NoError(t, err)
		require.Equal(t, 2, r1.After)
		require.Equal(t, r1.After, r2.After)
		require.Equal(t, 0, r2.Removed)
		require.Same(t, once, twice)
	})

	t.Run("rows differing in one field are kept", func(t *testing.T) {
		t.Parallel()
		ds := taxitesting.RawDataset(t,
			taxitesting.CMTTrip(),
			taxitesting.Trip(func(tr *taxi.RawTrip) { tr.TipAmt = taxi.Ptr(1.01) }),
			taxitesting.Trip(func(tr *taxi.RawTrip) { tr.TipAmt = nil }),
		)
		_, report, err := newDedup(t).Apply(t.Context(), ds)
		require.NoError(t, err)
		require.Equal(t, 0, report.Removed)
	})

	t.Run("empty dataset", func(t *testing.T) {
		t.Parallel()
		out, report, err := newDedup(t).Apply(t.Context(), taxitesting.RawDataset(t))
		require.NoError(t, err)
		require.Equal(t, 0, out.NumRows())
		require.Equal(t, &DedupReport{}, report)
	})
}

func TestTaxiLake_Cleaning_SchemaValidator(t *testing.T) {
	t.Parallel()

	v := NewSchemaValidator(taxi.RawSchema)
	ds := taxitesting.RawDataset(t, taxitesting.CMTTrip())
	require.NoError(t, v.Validate(ds))

	narrow, err := ds.Drop(taxi.ColVendorName)
	require.NoError(t, err)
	err = v.Validate(narrow)
	require.ErrorIs(t, err, ErrSchemaMismatch)

	var sme *SchemaMismatchError
	require.True(t, errors.As(err, &sme))
	require.Equal(t, dataset.DiscrepancyMissing, sme.Discrepancies[0].Kind)
	require.Equal(t, taxi.ColVendorName, sme.Discrepancies[0].ColumnName)
}
