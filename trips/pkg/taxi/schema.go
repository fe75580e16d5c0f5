package taxi

import "github.com/malbeclabs/taxilake/trips/pkg/dataset"

// Raw trip columns, in source order.
const (
	ColVendorName      = "vendor_name"
	ColPickupDateTime  = "Trip_Pickup_DateTime"
	ColDropoffDateTime = "Trip_Dropoff_DateTime"
	ColPassengerCount  = "Passenger_Count"
	ColTripDistance    = "Trip_Distance"
	ColRateCode        = "Rate_Code"
	ColStoreAndForward = "store_and_forward"
	ColPaymentType     = "Payment_Type"
	ColFareAmt         = "Fare_Amt"
	ColSurcharge       = "surcharge"
	ColMTATax          = "mta_tax"
	ColTipAmt          = "Tip_Amt"
	ColTollsAmt        = "Tolls_Amt"
	ColTotalAmt        = "Total_Amt"
)

// Derived trip columns.
const (
	ColDuration    = "duration"
	ColFarePerDist = "fare_per_dist"
	ColTAmtPerDist = "tamt_per_dist"
)

// RawSchema is the pre-clean trip schema produced by ingestion.
var RawSchema = dataset.MustSchema(
	dataset.Field{Name: ColVendorName, Type: dataset.TypeText, Nullable: true},
	dataset.Field{Name: ColPickupDateTime, Type: dataset.TypeText, Nullable: true},
	dataset.Field{Name: ColDropoffDateTime, Type: dataset.TypeText, Nullable: true},
	dataset.Field{Name: ColPassengerCount, Type: dataset.TypeInteger, Nullable: true},
	dataset.Field{Name: ColTripDistance, Type: dataset.TypeReal, Nullable: true},
	dataset.Field{Name: ColRateCode, Type: dataset.TypeReal, Nullable: true},
	dataset.Field{Name: ColStoreAndForward, Type: dataset.TypeReal, Nullable: true},
	dataset.Field{Name: ColPaymentType, Type: dataset.TypeText, Nullable: true},
	dataset.Field{Name: ColFareAmt, Type: dataset.TypeReal, Nullable: true},
	dataset.Field{Name: ColSurcharge, Type: dataset.TypeReal, Nullable: true},
	dataset.Field{Name: ColMTATax, Type: dataset.TypeReal, Nullable: true},
	dataset.Field{Name: ColTipAmt, Type: dataset.TypeReal, Nullable: true},
	dataset.Field{Name: ColTollsAmt, Type: dataset.TypeReal, Nullable: true},
	dataset.Field{Name: ColTotalAmt, Type: dataset.TypeReal, Nullable: true},
)

// CleanedSchema is the contract every cleaned dataset must match exactly.
var CleanedSchema = dataset.MustSchema(
	dataset.Field{Name: ColVendorName, Type: dataset.TypeText, Nullable: true},
	dataset.Field{Name: ColPickupDateTime, Type: dataset.TypeTimestamp, Nullable: true},
	dataset.Field{Name: ColDropoffDateTime, Type: dataset.TypeTimestamp, Nullable: true},
	dataset.Field{Name: ColPassengerCount, Type: dataset.TypeInteger, Nullable: true},
	dataset.Field{Name: ColTripDistance, Type: dataset.TypeReal, Nullable: true},
	dataset.Field{Name: ColPaymentType, Type: dataset.TypeText, Nullable: true},
	dataset.Field{Name: ColFareAmt, Type: dataset.TypeReal, Nullable: true},
	dataset.Field{Name: ColSurcharge, Type: dataset.TypeReal, Nullable: true},
	dataset.Field{Name: ColTipAmt, Type: dataset.TypeReal, Nullable: true},
	dataset.Field{Name: ColTollsAmt, Type: dataset.TypeReal, Nullable: true},
	dataset.Field{Name: ColTotalAmt, Type: dataset.TypeReal, Nullable: true},
	dataset.Field{Name: ColDuration, Type: dataset.TypeInteger, Nullable: true},
	dataset.Field{Name: ColFarePerDist, Type: dataset.TypeReal, Nullable: true},
	dataset.Field{Name: ColTAmtPerDist, Type: dataset.TypeReal, Nullable: true},
)

// UnreliableColumns are expected to be eliminated by the null-density filter.
var UnreliableColumns = []string{ColRateCode, ColStoreAndForward, ColMTATax}

// AggregatedColumns are summed and averaged by every rollup.
var AggregatedColumns = []string{
	ColPassengerCount,
	ColTripDistance,
	ColFareAmt,
	ColSurcharge,
	ColTipAmt,
	ColTollsAmt,
	ColTotalAmt,
	ColDuration,
}
