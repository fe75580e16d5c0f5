package taxi

import (
	"github.com/malbeclabs/taxilake/trips/pkg/dataset"
)

// RawTrip is one ingested trip row. Nil fields are nulls.
type RawTrip struct {
	VendorName      *string
	PickupDateTime  *string
	DropoffDateTime *string
	PassengerCount  *int64
	TripDistance    *float64
	RateCode        *float64
	StoreAndForward *float64
	PaymentType     *string
	FareAmt         *float64
	Surcharge       *float64
	MTATax          *float64
	TipAmt          *float64
	TollsAmt        *float64
	TotalAmt        *float64
}

// BuildRaw assembles trips into a dataset with RawSchema.
func BuildRaw(trips []RawTrip) (*dataset.Dataset, error) {
	n := len(trips)
	vendor := dataset.NewBuilder[string](dataset.TypeText, n)
	pickup := dataset.NewBuilder[string](dataset.TypeText, n)
	dropoff := dataset.NewBuilder[string](dataset.TypeText, n)
	passengers := dataset.NewBuilder[int64](dataset.TypeInteger, n)
	payment := dataset.NewBuilder[string](dataset.TypeText, n)

	realCols := make([]*dataset.Builder[float64], 9)
	for i := range realCols {
		realCols[i] = dataset.NewBuilder[float64](dataset.TypeReal, n)
	}

	for i, tr := range trips {
		setPtr(vendor, i, tr.VendorName)
		setPtr(pickup, i, tr.PickupDateTime)
		setPtr(dropoff, i, tr.DropoffDateTime)
		setPtr(passengers, i, tr.PassengerCount)
		setPtr(payment, i, tr.PaymentType)
		for j, v := range []*float64{
			tr.TripDistance, tr.RateCode, tr.StoreAndForward, tr.FareAmt, tr.Surcharge,
			tr.MTATax, tr.TipAmt, tr.TollsAmt, tr.TotalAmt,
		} {
			setPtr(realCols[j], i, v)
		}
	}

	return dataset.New(RawSchema,
		vendor.Build(),
		pickup.Build(),
		dropoff.Build(),
		passengers.Build(),
		realCols[0].Build(), // Trip_Distance
		realCols[1].Build(), // Rate_Code
		realCols[2].Build(), // store_and_forward
		payment.Build(),
		realCols[3].Build(), // Fare_Amt
		realCols[4].Build(), // surcharge
		realCols[5].Build(), // mta_tax
		realCols[6].Build(), // Tip_Amt
		realCols[7].Build(), // Tolls_Amt
		realCols[8].Build(), // Total_Amt
	)
}

func setPtr[T any](b *dataset.Builder[T], i int, v *T) {
	if v == nil {
		b.SetNull(i)
		return
	}
	b.Set(i, *v)
}

// Ptr returns a pointer to v, for building RawTrip literals.
func Ptr[T any](v T) *T {
	return &v
}
