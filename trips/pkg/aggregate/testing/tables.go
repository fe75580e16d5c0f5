package aggregatetesting

import (
	"testing"

	"github.com/malbeclabs/taxilake/trips/pkg/aggregate"
	"github.com/malbeclabs/taxilake/trips/pkg/cleaning"
	"github.com/malbeclabs/taxilake/trips/pkg/taxi"
	taxitesting "github.com/malbeclabs/taxilake/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

// Tables aggregates three trips: CMT at 11:05, VTS at 23:10 and a DDS trip
// with an unparseable pickup and no payment type, so the hour and payment
// tables each carry a null key group.
func Tables(t *testing.T) []aggregate.Table {
	t.Helper()
	log := taxitesting.NewLogger()

	raw := taxitesting.RawDataset(t,
		taxitesting.CMTTrip(),
		taxitesting.Trip(
			taxitesting.WithVendor("VTS"),
			taxitesting.WithPickup("2009-01-04 23:10:00"),
			taxitesting.WithDropoff("2009-01-04 23:20:00"),
			taxitesting.WithPayment("CASH"),
		),
		taxitesting.Trip(
			taxitesting.WithVendor("DDS"),
			taxitesting.WithPickup("not a time"),
			func(tr *taxi.RawTrip) { tr.PaymentType = nil },
		),
	)

	tn, err := cleaning.NewTimeNormalizer(cleaning.TimeNormalizerConfig{Logger: log})
	require.NoError(t, err)
	ds, _, err := tn.Apply(t.Context(), raw)
	require.NoError(t, err)

	agg, err := aggregate.New(aggregate.Config{Logger: log})
	require.NoError(t, err)
	tables, err := agg.Run(t.Context(), ds)
	require.NoError(t, err)
	return tables
}

// Table returns the named table from tables.
func Table(t *testing.T, tables []aggregate.Table, name string) aggregate.Table {
	t.Helper()
	for _, tb := range tables {
		if tb.Name == name {
			return tb
		}
	}
	require.FailNow(t, "aggregate table not found", name)
	return aggregate.Table{}
}
