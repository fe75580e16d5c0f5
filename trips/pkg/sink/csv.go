package sink

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/malbeclabs/taxilake/trips/pkg/dataset"
)

const (
	DefaultTimestampLayout = "2006-01-02 15:04:05"
	dateLayout             = "2006-01-02"
)

// EncodeCSV writes ds as CSV in schema column order. Nulls are empty cells,
// reals use the shortest exact form (including +Inf, -Inf and NaN).
func EncodeCSV(w io.Writer, ds *dataset.Dataset, header bool, timestampLayout string) error {
	if timestampLayout == "" {
		timestampLayout = DefaultTimestampLayout
	}
	cw := csv.NewWriter(w)
	if header {
		if err := cw.Write(ds.Schema().Names()); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}

	record := make([]string, ds.NumCols())
	for i := range ds.NumRows() {
		for j := range ds.NumCols() {
			record[j] = formatCell(ds.ColumnAt(j), i, timestampLayout)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCell(c dataset.Column, i int, timestampLayout string) string {
	if c.IsNull(i) {
		return ""
	}
	switch v := c.Value(i).(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		if c.Type() == dataset.TypeDate {
			return v.Format(dateLayout)
		}
		return v.Format(timestampLayout)
	default:
		return fmt.Sprint(v)
	}
}
