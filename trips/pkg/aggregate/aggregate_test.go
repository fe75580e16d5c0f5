package aggregate

import (
	"math"
	"testing"
	"time"

	"github.com/malbeclabs/taxilake/trips/pkg/cleaning"
	"github.com/malbeclabs/taxilake/trips/pkg/dataset"
	"github.com/malbeclabs/taxilake/trips/pkg/taxi"
	taxitesting "github.com/malbeclabs/taxilake/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

func normalized(t *testing.T, trips ...taxi.RawTrip) *dataset.Dataset {
	t.Helper()
	n, err := cleaning.NewTimeNormalizer(cleaning.TimeNormalizerConfig{Logger: taxitesting.NewLogger()})
	require.NoError(t, err)
	ds, _, err := n.Apply(t.Context(), taxitesting.RawDataset(t, trips...))
	require.NoError(t, err)
	return ds
}

func newAggregator(t *testing.T, partitions int) *Aggregator {
	t.Helper()
	a, err := New(Config{Logger: taxitesting.NewLogger(), Partitions: partitions})
	require.NoError(t, err)
	return a
}

func tableByName(t *testing.T, tables []Table, name string) *dataset.Dataset {
	t.Helper()
	for _, tb := range tables {
		if tb.Name == name {
			return tb.Data
		}
	}
	t.Fatalf("table %s not found", name)
	return nil
}

func TestTaxiLake_Aggregate_Config(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.EqualError(t, err, "logger is required")

	_, err = New(Config{Logger: taxitesting.NewLogger(), Dimensions: []Dimension{{Table: "x"}}})
	require.Error(t, err)

	_, err = New(Config{Logger: taxitesting.NewLogger(), Dimensions: []Dimension{
		{Table: "x", Keys: []Key{VendorKey}},
		{Table: "x", Keys: []Key{PaymentKey}},
	}})
	require.Error(t, err)

	_, err = New(Config{Logger: taxitesting.NewLogger(), Dimensions: []Dimension{
		{Table: "x", Keys: []Key{{Name: "k", Type: dataset.TypeReal, Source: taxi.ColFareAmt}}},
	}})
	require.Error(t, err)
}

func TestTaxiLake_Aggregate_Hour(t *testing.T) {
	t.Parallel()

	ds := normalized(t,
		taxitesting.Trip(taxitesting.WithPickup("2009-01-03 23:01:00"), taxitesting.WithDropoff("2009-01-03 23:11:00")),
		taxitesting.CMTTrip(),
	)
	tb, err := newAggregator(t, 2).Aggregate(t.Context(), ds, Dimension{Table: "trips_by_hour", Keys: []Key{PickupHourKey}})
	require.NoError(t, err)
	require.Equal(t, "trips_by_hour", tb.Name)
	require.Equal(t, 2, tb.Data.NumRows())

	hours, err := tb.Data.Integer("pickup_hour")
	require.NoError(t, err)
	counts, err := tb.Data.Integer(CountColumn)
	require.NoError(t, err)
	for i, want := range []int64{11, 23} {
		h, ok := hours.Get(i)
		require.True(t, ok)
		require.Equal(t, want, h)
		c, _ := counts.Get(i)
		require.Equal(t, int64(1), c)
	}

	duration, err := tb.Data.Integer(SumColumn(taxi.ColDuration))
	require.NoError(t, err)
	d, _ := duration.Get(0)
	require.Equal(t, int64(328), d)
	d, _ = duration.Get(1)
	require.Equal(t, int64(600), d)
}

func TestTaxiLake_Aggregate_Schema(t *testing.T) {
	t.Parallel()

	tables, err := newAggregator(t, 1).Run(t.Context(), normalized(t, taxitesting.CMTTrip()))
	require.NoError(t, err)
	require.Len(t, tables, len(TripDimensions))
	for i, tb := range tables {
		require.Equal(t, TripDimensions[i].Table, tb.Name)
	}

	byVendor := tableByName(t, tables, "trips_by_vendor")
	require.Equal(t, []string{
		"vendor_name", "count",
		"Passenger_Count_sum", "Passenger_Count_avg",
		"Trip_Distance_sum", "Trip_Distance_avg",
		"Fare_Amt_sum", "Fare_Amt_avg",
		"surcharge_sum", "surcharge_avg",
		"Tip_Amt_sum", "Tip_Amt_avg",
		"Tolls_Amt_sum", "Tolls_Amt_avg",
		"Total_Amt_sum", "Total_Amt_avg",
		"duration_sum", "duration_avg",
	}, byVendor.Schema().Names())

	passengers, _ := byVendor.Schema().Lookup("Passenger_Count_sum")
	require.Equal(t, dataset.TypeInteger, passengers.Type)
	fare, _ := byVendor.Schema().Lookup("Fare_Amt_sum")
	require.Equal(t, dataset.TypeReal, fare.Type)
	avg, _ := byVendor.Schema().Lookup("duration_avg")
	require.Equal(t, dataset.TypeReal, avg.Type)

	cross := tableByName(t, tables, "trips_by_vendor_payment_type")
	require.Equal(t, []string{"vendor_name", "Payment_Type", "count"}, cross.Schema().Names())

	date, _ := tableByName(t, tables, "trips_by_date").Schema().Lookup("pickup_date")
	require.Equal(t, dataset.TypeDate, date.Type)
}

func TestTaxiLake_Aggregate_CalendarKeys(t *testing.T) {
	t.Parallel()

	// 2009-01-03 is a Saturday in ISO week 1; 2008-12-28 is a Sunday in ISO week 52.
	ds := normalized(t,
		taxitesting.CMTTrip(),
		taxitesting.Trip(taxitesting.WithPickup("2008-12-28 08:00:00"), taxitesting.WithDropoff("2008-12-28 08:30:00")),
	)
	tables, err := newAggregator(t, 2).Run(t.Context(), ds)
	require.NoError(t, err)

	keyValues := func(table, col string) []any {
		data := tableByName(t, tables, table)
		c, err := data.Column(col)
		require.NoError(t, err)
		out := make([]any, data.NumRows())
		for i := range out {
			out[i] = c.Value(i)
		}
		return out
	}

	require.Equal(t, []any{
		time.Date(2008, 12, 28, 0, 0, 0, 0, time.UTC),
		time.Date(2009, 1, 3, 0, 0, 0, 0, time.UTC),
	}, keyValues("trips_by_date", "pickup_date"))
	require.Equal(t, []any{int64(1), int64(52)}, keyValues("trips_by_week", "pickup_week"))
	require.Equal(t, []any{int64(3), int64(28)}, keyValues("trips_by_day_of_month", "pickup_day_of_month"))
	require.Equal(t, []any{int64(1), int64(7)}, keyValues("trips_by_day_of_week", "pickup_day_of_week"))
}

func TestTaxiLake_Aggregate_NullKeys(t *testing.T) {
	t.Parallel()

	ds := normalized(t,
		taxitesting.CMTTrip(),
		taxitesting.Trip(taxitesting.WithPickup("garbage")),
		taxitesting.Trip(taxitesting.WithPickup("also garbage")),
		taxitesting.Trip(func(tr *taxi.RawTrip) { tr.VendorName = nil }),
	)
	tables, err := newAggregator(t, 3).Run(t.Context(), ds)
	require.NoError(t, err)

	byHour := tableByName(t, tables, "trips_by_hour")
	require.Equal(t, 2, byHour.NumRows())
	require.Equal(t, nil, byHour.Row(0)[0], "null group sorts first")
	require.Equal(t, int64(2), byHour.Row(0)[1])
	require.Equal(t, int64(11), byHour.Row(1)[0])
	require.Equal(t, int64(2), byHour.Row(1)[1])

	durSum, err := byHour.Column(SumColumn(taxi.ColDuration))
	require.NoError(t, err)
	require.Nil(t, durSum.Value(0), "all-null group has null sum")
	durAvg, err := byHour.Column(AvgColumn(taxi.ColDuration))
	require.NoError(t, err)
	require.Nil(t, durAvg.Value(0))
	require.Equal(t, 328.0, durAvg.Value(1))

	byVendor := tableByName(t, tables, "trips_by_vendor")
	require.Equal(t, []any{nil, "CMT"}, []any{byVendor.Row(0)[0], byVendor.Row(1)[0]})
	require.Equal(t, []any{int64(1), int64(3)}, []any{byVendor.Row(0)[1], byVendor.Row(1)[1]})
}

func TestTaxiLake_Aggregate_Properties(t *testing.T) {
	t.Parallel()

	var trips []taxi.RawTrip
	vendors := []string{"CMT", "VTS", "DDS"}
	payments := []string{"Cash", "CASH", "Credit", "No Charge"}
	for i := range 200 {
		pickup := time.Date(2009, 1, 1+i%28, i%24, i%60, 0, 0, time.UTC)
		dropoff := pickup.Add(time.Duration(60+i*7) * time.Second)
		tr := taxitesting.Trip(
			taxitesting.WithVendor(vendors[i%len(vendors)]),
			taxitesting.WithPayment(payments[i%len(payments)]),
			taxitesting.WithPickup(pickup.Format(cleaning.DefaultTimestampLayout)),
			taxitesting.WithDropoff(dropoff.Format(cleaning.DefaultTimestampLayout)),
			taxitesting.WithFare(2.5+float64(i%17), 3.0+float64(i%23)),
		)
		tr.TipAmt = taxi.Ptr(float64(i%5) * 0.25)
		if i%11 == 0 {
			tr.TipAmt = nil
		}
		tr.PassengerCount = taxi.Ptr(int64(1 + i%4))
		trips = append(trips, tr)
	}
	// Undefined values are summed as they are, not skipped.
	inf := taxitesting.Trip(taxitesting.WithVendor("YCAB"))
	inf.TipAmt = taxi.Ptr(math.Inf(1))
	nan := taxitesting.Trip(taxitesting.WithVendor("ZCAB"), taxitesting.WithPickup("2009-01-05 06:00:00"), taxitesting.WithDropoff("2009-01-05 06:10:00"))
	nan.TipAmt = taxi.Ptr(math.NaN())
	trips = append(trips, inf, nan)
	ds := normalized(t, trips...)

	serial, err := newAggregator(t, 1).Run(t.Context(), ds)
	require.NoError(t, err)
	parallel, err := newAggregator(t, 7).Run(t.Context(), ds)
	require.NoError(t, err)

	for ti, tb := range parallel {
		t.Run(tb.Name, func(t *testing.T) {
			data := tb.Data
			counts, err := data.Integer(CountColumn)
			require.NoError(t, err)

			var total int64
			for i := range data.NumRows() {
				c, _ := counts.Get(i)
				total += c
			}
			require.Equal(t, int64(ds.NumRows()), total, "counts are conserved")

			dim := TripDimensions[ti]
			require.Equal(t, dim.Table, tb.Name)
			if !dim.CountOnly {
				for _, col := range taxi.AggregatedColumns {
					requireMeanConsistency(t, ds, data, dim, col)
				}
			}

			other := serial[ti].Data
			require.Equal(t, other.NumRows(), data.NumRows())
			for i := range data.NumRows() {
				for j, v := range data.Row(i) {
					if f, ok := v.(float64); ok {
						requireFloat(t, other.Row(i)[j].(float64), f)
						continue
					}
					require.Equal(t, other.Row(i)[j], v)
				}
			}
		})
	}
}

func requireFloat(t *testing.T, expected, actual float64) {
	t.Helper()
	switch {
	case math.IsNaN(expected):
		require.True(t, math.IsNaN(actual), "expected NaN, got %v", actual)
	case math.IsInf(expected, 0):
		require.Equal(t, expected, actual)
	default:
		require.InDelta(t, expected, actual, 1e-9*math.Max(1, math.Abs(expected)))
	}
}

// tableKey rebuilds the group key of one output row.
func tableKey(t *testing.T, data *dataset.Dataset, dim Dimension, row int) groupKey {
	t.Helper()
	var key groupKey
	for k, kd := range dim.Keys {
		c, err := data.Column(kd.Name)
		require.NoError(t, err)
		switch v := c.Value(row).(type) {
		case nil:
		case string:
			key[k] = keyPart{valid: true, s: v}
		case int64:
			key[k] = keyPart{valid: true, i: v}
		case time.Time:
			key[k] = keyPart{valid: true, i: dayNumber(v)}
		default:
			t.Fatalf("unexpected key value %T", v)
		}
	}
	return key
}

// requireMeanConsistency recomputes the non-null count and sum of col per
// group from the input and checks both the sum and avg = sum / non-null.
func requireMeanConsistency(t *testing.T, ds, data *dataset.Dataset, dim Dimension, col string) {
	t.Helper()

	extract := make([]func(int) keyPart, len(dim.Keys))
	for k, kd := range dim.Keys {
		fn, err := kd.extractor(ds)
		require.NoError(t, err)
		extract[k] = fn
	}
	type totals struct {
		n    int64
		isum int64
		sum  float64
	}
	want := make(map[groupKey]*totals)
	src, err := ds.Column(col)
	require.NoError(t, err)
	for i := range ds.NumRows() {
		var key groupKey
		for k, fn := range extract {
			key[k] = fn(i)
		}
		tot, ok := want[key]
		if !ok {
			tot = &totals{}
			want[key] = tot
		}
		switch v := src.Value(i).(type) {
		case nil:
		case int64:
			tot.n++
			tot.isum += v
		case float64:
			tot.n++
			tot.sum += v
		}
	}

	sums, err := data.Column(SumColumn(col))
	require.NoError(t, err)
	avgs, err := data.Real(AvgColumn(col))
	require.NoError(t, err)
	require.Len(t, want, data.NumRows())
	for r := range data.NumRows() {
		tot, ok := want[tableKey(t, data, dim, r)]
		require.True(t, ok, "row %d has no input group", r)
		avg, avgOK := avgs.Get(r)
		if tot.n == 0 {
			require.Nil(t, sums.Value(r), "%s: all-null group has null sum", col)
			require.False(t, avgOK, "%s: all-null group has null avg", col)
			continue
		}
		require.True(t, avgOK)
		switch s := sums.Value(r).(type) {
		case int64:
			require.Equal(t, tot.isum, s, "%s sum", col)
			requireFloat(t, float64(s)/float64(tot.n), avg)
		case float64:
			requireFloat(t, tot.sum, s)
			requireFloat(t, s/float64(tot.n), avg)
		default:
			t.Fatalf("%s: unexpected sum value %T", col, s)
		}
	}
}

func TestTaxiLake_Aggregate_UndefinedValuesPassThrough(t *testing.T) {
	t.Parallel()

	inf := taxitesting.Trip(taxitesting.WithVendor("VTS"))
	inf.TipAmt = taxi.Ptr(math.Inf(-1))
	nan := taxitesting.Trip(taxitesting.WithVendor("DDS"))
	nan.TipAmt = taxi.Ptr(math.NaN())
	ds := normalized(t, taxitesting.CMTTrip(), inf, nan)

	tables, err := newAggregator(t, 3).Run(t.Context(), ds)
	require.NoError(t, err)
	byVendor := tableByName(t, tables, "trips_by_vendor")
	sums, err := byVendor.Real(SumColumn(taxi.ColTipAmt))
	require.NoError(t, err)
	avgs, err := byVendor.Real(AvgColumn(taxi.ColTipAmt))
	require.NoError(t, err)

	// Rows sort CMT, DDS, VTS.
	s, _ := sums.Get(0)
	require.Equal(t, 1.0, s)
	s, ok := sums.Get(1)
	require.True(t, ok)
	require.True(t, math.IsNaN(s))
	a, _ := avgs.Get(1)
	require.True(t, math.IsNaN(a))
	s, _ = sums.Get(2)
	require.True(t, math.IsInf(s, -1))
	a, _ = avgs.Get(2)
	require.True(t, math.IsInf(a, -1))

	byHour := tableByName(t, tables, "trips_by_hour")
	hourSums, err := byHour.Real(SumColumn(taxi.ColTipAmt))
	require.NoError(t, err)
	require.Equal(t, 1, byHour.NumRows())
	s, _ = hourSums.Get(0)
	require.True(t, math.IsNaN(s), "NaN absorbs -Inf in a shared group")
}

func TestTaxiLake_Aggregate_DistantDates(t *testing.T) {
	t.Parallel()

	pickups := []string{
		"1600-01-01 10:00:00",
		"1650-06-15 10:00:00",
		"2300-01-01 10:00:00",
		"2400-06-01 10:00:00",
	}
	trips := make([]taxi.RawTrip, 0, len(pickups)*2)
	for _, p := range pickups {
		dropoff := p[:11] + "10:20:00"
		tr := taxitesting.Trip(taxitesting.WithPickup(p), taxitesting.WithDropoff(dropoff))
		trips = append(trips, tr, tr)
	}
	ds := normalized(t, trips...)

	dim := Dimension{Table: "trips_by_date", Keys: []Key{PickupDateKey}}
	tb, err := newAggregator(t, 2).Aggregate(t.Context(), ds, dim)
	require.NoError(t, err)
	require.Equal(t, len(pickups), tb.Data.NumRows(), "one group per distinct date")

	dates, err := tb.Data.Column("pickup_date")
	require.NoError(t, err)
	counts, err := tb.Data.Integer(CountColumn)
	require.NoError(t, err)
	want := []time.Time{
		time.Date(1600, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(1650, 6, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2400, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	for i, d := range want {
		require.Equal(t, d, dates.Value(i))
		c, _ := counts.Get(i)
		require.Equal(t, int64(2), c)
	}
}

func TestTaxiLake_Aggregate_DayNumber(t *testing.T) {
	t.Parallel()

	for _, d := range []time.Time{
		time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(1582, 10, 15, 0, 0, 0, 0, time.UTC),
		time.Date(1969, 12, 31, 0, 0, 0, 0, time.UTC),
		time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC),
	} {
		require.Equal(t, d, fromDayNumber(dayNumber(d)), d.String())
	}
	require.Equal(t, int64(-1), dayNumber(time.Date(1969, 12, 31, 23, 59, 59, 0, time.UTC)))
	require.Equal(t, int64(0), dayNumber(time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)))
}
