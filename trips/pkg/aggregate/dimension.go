package aggregate

import (
	"fmt"
	"time"

	"github.com/malbeclabs/taxilake/trips/pkg/dataset"
	"github.com/malbeclabs/taxilake/trips/pkg/taxi"
)

// Key is one grouping column of an aggregate table. Text keys copy Source;
// other keys are derived from the Source timestamp by Derive.
type Key struct {
	Name   string
	Type   dataset.Type
	Source string
	Derive func(time.Time) int64
}

// Dimension describes one aggregate table.
type Dimension struct {
	Table string
	Keys  []Key
	// CountOnly omits the per-column sum and average.
	CountOnly bool
}

const secondsPerDay = 24 * 60 * 60

// dayNumber counts calendar days since 1970-01-01. It works on Unix seconds
// rather than time.Duration, which only spans about 292 years.
func dayNumber(t time.Time) int64 {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return floorDiv(d.Unix(), secondsPerDay)
}

func fromDayNumber(n int64) time.Time {
	return time.Unix(n*secondsPerDay, 0).UTC()
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

var (
	VendorKey  = Key{Name: taxi.ColVendorName, Type: dataset.TypeText, Source: taxi.ColVendorName}
	PaymentKey = Key{Name: taxi.ColPaymentType, Type: dataset.TypeText, Source: taxi.ColPaymentType}

	PickupHourKey = Key{
		Name: "pickup_hour", Type: dataset.TypeInteger, Source: taxi.ColPickupDateTime,
		Derive: func(t time.Time) int64 { return int64(t.Hour()) },
	}
	PickupDateKey = Key{
		Name: "pickup_date", Type: dataset.TypeDate, Source: taxi.ColPickupDateTime,
		Derive: dayNumber,
	}
	PickupWeekKey = Key{
		Name: "pickup_week", Type: dataset.TypeInteger, Source: taxi.ColPickupDateTime,
		Derive: func(t time.Time) int64 {
			_, w := t.ISOWeek()
			return int64(w)
		},
	}
	PickupDayOfMonthKey = Key{
		Name: "pickup_day_of_month", Type: dataset.TypeInteger, Source: taxi.ColPickupDateTime,
		Derive: func(t time.Time) int64 { return int64(t.Day()) },
	}
	// PickupDayOfWeekKey numbers days 1 (Sunday) through 7 (Saturday).
	PickupDayOfWeekKey = Key{
		Name: "pickup_day_of_week", Type: dataset.TypeInteger, Source: taxi.ColPickupDateTime,
		Derive: func(t time.Time) int64 { return int64(t.Weekday()) + 1 },
	}
)

// TripDimensions are the rollups produced for every run.
var TripDimensions = []Dimension{
	{Table: "trips_by_vendor", Keys: []Key{VendorKey}},
	{Table: "trips_by_hour", Keys: []Key{PickupHourKey}},
	{Table: "trips_by_date", Keys: []Key{PickupDateKey}},
	{Table: "trips_by_week", Keys: []Key{PickupWeekKey}},
	{Table: "trips_by_day_of_month", Keys: []Key{PickupDayOfMonthKey}},
	{Table: "trips_by_day_of_week", Keys: []Key{PickupDayOfWeekKey}},
	{Table: "trips_by_payment_type", Keys: []Key{PaymentKey}},
	{Table: "trips_by_vendor_payment_type", Keys: []Key{VendorKey, PaymentKey}, CountOnly: true},
}

// maxKeys bounds the number of grouping columns of a dimension.
const maxKeys = 2

func (d Dimension) validate() error {
	if d.Table == "" {
		return fmt.Errorf("dimension has no table name")
	}
	if len(d.Keys) == 0 || len(d.Keys) > maxKeys {
		return fmt.Errorf("dimension %s must have 1 to %d keys", d.Table, maxKeys)
	}
	for _, k := range d.Keys {
		switch {
		case k.Derive == nil && k.Type != dataset.TypeText:
			return fmt.Errorf("dimension %s: key %s without Derive must be text", d.Table, k.Name)
		case k.Derive != nil && k.Type != dataset.TypeInteger && k.Type != dataset.TypeDate:
			return fmt.Errorf("dimension %s: derived key %s must be integer or date", d.Table, k.Name)
		}
	}
	return nil
}

// keyPart is one grouping value; the zero value is the null key.
type keyPart struct {
	valid bool
	s     string
	i     int64
}

type groupKey [maxKeys]keyPart

func comparePart(a, b keyPart) int {
	switch {
	case a.valid != b.valid:
		if !a.valid {
			return -1
		}
		return 1
	case a.s != b.s:
		if a.s < b.s {
			return -1
		}
		return 1
	case a.i != b.i:
		if a.i < b.i {
			return -1
		}
		return 1
	}
	return 0
}

func compareKeys(a, b groupKey) int {
	for i := range a {
		if c := comparePart(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

// extractor returns a function producing the key part of row i.
func (k Key) extractor(ds *dataset.Dataset) (func(i int) keyPart, error) {
	if k.Derive == nil {
		col, err := ds.Text(k.Source)
		if err != nil {
			return nil, err
		}
		return func(i int) keyPart {
			v, ok := col.Get(i)
			return keyPart{valid: ok, s: v}
		}, nil
	}
	col, err := ds.Timestamp(k.Source)
	if err != nil {
		return nil, err
	}
	return func(i int) keyPart {
		t, ok := col.Get(i)
		if !ok {
			return keyPart{}
		}
		return keyPart{valid: true, i: k.Derive(t)}
	}, nil
}
