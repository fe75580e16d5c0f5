package taxitesting

import (
	"testing"

	"github.com/malbeclabs/taxilake/trips/pkg/dataset"
	"github.com/malbeclabs/taxilake/trips/pkg/taxi"
	"github.com/stretchr/testify/require"
)

// CMTTrip is a short cash trip on 2009-01-03 whose unreliable columns are
// empty, as they are in most of the 2009 source data.
func CMTTrip() taxi.RawTrip {
	return taxi.RawTrip{
		VendorName:      taxi.Ptr("CMT"),
		PickupDateTime:  taxi.Ptr("2009-01-03 11:05:27"),
		DropoffDateTime: taxi.Ptr("2009-01-03 11:10:55"),
		PassengerCount:  taxi.Ptr[int64](1),
		TripDistance:    taxi.Ptr(2.0),
		PaymentType:     taxi.Ptr("Cash"),
		FareAmt:         taxi.Ptr(10.0),
		Surcharge:       taxi.Ptr(0.5),
		TipAmt:          taxi.Ptr(1.0),
		TollsAmt:        taxi.Ptr(0.0),
		TotalAmt:        taxi.Ptr(11.5),
	}
}

// Trip returns CMTTrip with the given overrides applied.
func Trip(opts ...func(*taxi.RawTrip)) taxi.RawTrip {
	tr := CMTTrip()
	for _, o := range opts {
		o(&tr)
	}
	return tr
}

func WithVendor(v string) func(*taxi.RawTrip) {
	return func(tr *taxi.RawTrip) { tr.VendorName = taxi.Ptr(v) }
}

func WithPickup(s string) func(*taxi.RawTrip) {
	return func(tr *taxi.RawTrip) { tr.PickupDateTime = taxi.Ptr(s) }
}

func WithDropoff(s string) func(*taxi.RawTrip) {
	return func(tr *taxi.RawTrip) { tr.DropoffDateTime = taxi.Ptr(s) }
}

func WithPayment(s string) func(*taxi.RawTrip) {
	return func(tr *taxi.RawTrip) { tr.PaymentType = taxi.Ptr(s) }
}

func WithFare(fare, total float64) func(*taxi.RawTrip) {
	return func(tr *taxi.RawTrip) {
		tr.FareAmt = taxi.Ptr(fare)
		tr.TotalAmt = taxi.Ptr(total)
	}
}

// RawDataset builds a raw trips dataset from the given rows.
func RawDataset(t *testing.T, trips ...taxi.RawTrip) *dataset.Dataset {
	t.Helper()
	ds, err := taxi.BuildRaw(trips)
	require.NoError(t, err)
	return ds
}
