package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/malbeclabs/taxilake/trips/pkg/dataset"
	"github.com/malbeclabs/taxilake/trips/pkg/objectstore"
	"github.com/malbeclabs/taxilake/trips/pkg/taxi"
)

var ErrMalformed = errors.New("malformed trip record")

type Config struct {
	Logger *slog.Logger
	// Store is required for s3:// sources.
	Store *objectstore.Store
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Loader reads raw trips from a CSV file on disk or in S3.
type Loader struct {
	cfg Config
}

func NewLoader(cfg Config) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Loader{cfg: cfg}, nil
}

// Load reads source, a local path or an s3:// URI.
func (l *Loader) Load(ctx context.Context, source string) (*dataset.Dataset, error) {
	var rc io.ReadCloser
	if objectstore.IsURI(source) {
		if l.cfg.Store == nil {
			return nil, fmt.Errorf("no object store configured for %s", source)
		}
		loc, err := objectstore.ParseURI(source)
		if err != nil {
			return nil, err
		}
		rc, err = l.cfg.Store.Open(ctx, loc)
		if err != nil {
			return nil, err
		}
	} else {
		f, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("failed to open source: %w", err)
		}
		rc = f
	}
	defer rc.Close()

	ds, err := ReadCSV(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", source, err)
	}
	l.cfg.Logger.Info("loaded raw trips", "source", source, "rows", ds.NumRows())
	return ds, nil
}

// ReadCSV parses a headed CSV into the raw trip schema. Columns are matched
// by header name and extra columns are ignored. Empty cells are null;
// unparseable numbers fail the whole read.
func ReadCSV(ctx context.Context, r io.Reader) (*dataset.Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: missing header", ErrMalformed)
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		pos[h] = i
	}
	idx := make([]int, taxi.RawSchema.Len())
	for j, name := range taxi.RawSchema.Names() {
		i, ok := pos[name]
		if !ok {
			return nil, fmt.Errorf("%w: header has no %s column", ErrMalformed, name)
		}
		idx[j] = i
	}

	var trips []taxi.RawTrip
	for line := 2; ; line++ {
		if line%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		tr, err := parseTrip(rec, idx)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		trips = append(trips, tr)
	}
	return taxi.BuildRaw(trips)
}

func parseTrip(rec []string, idx []int) (taxi.RawTrip, error) {
	p := fieldParser{rec: rec, idx: idx}
	tr := taxi.RawTrip{
		VendorName:      p.text(0),
		PickupDateTime:  p.text(1),
		DropoffDateTime: p.text(2),
		PassengerCount:  p.integer(3, taxi.ColPassengerCount),
		TripDistance:    p.real(4, taxi.ColTripDistance),
		RateCode:        p.real(5, taxi.ColRateCode),
		StoreAndForward: p.real(6, taxi.ColStoreAndForward),
		PaymentType:     p.text(7),
		FareAmt:         p.real(8, taxi.ColFareAmt),
		Surcharge:       p.real(9, taxi.ColSurcharge),
		MTATax:          p.real(10, taxi.ColMTATax),
		TipAmt:          p.real(11, taxi.ColTipAmt),
		TollsAmt:        p.real(12, taxi.ColTollsAmt),
		TotalAmt:        p.real(13, taxi.ColTotalAmt),
	}
	return tr, p.err
}

// fieldParser records the first parse error and yields nulls afterwards.
type fieldParser struct {
	rec []string
	idx []int
	err error
}

func (p *fieldParser) cell(j int) (string, bool) {
	i := p.idx[j]
	if i >= len(p.rec) {
		return "", false
	}
	s := strings.TrimSpace(p.rec[i])
	return s, s != ""
}

func (p *fieldParser) text(j int) *string {
	s, ok := p.cell(j)
	if !ok {
		return nil
	}
	return &s
}

func (p *fieldParser) integer(j int, name string) *int64 {
	s, ok := p.cell(j)
	if !ok || p.err != nil {
		return nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &v
	}
	// Some extracts write counts as "1.0".
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		p.err = fmt.Errorf("%w: %s=%q is not an integer", ErrMalformed, name, s)
		return nil
	}
	v := int64(f)
	return &v
}

func (p *fieldParser) real(j int, name string) *float64 {
	s, ok := p.cell(j)
	if !ok || p.err != nil {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.err = fmt.Errorf("%w: %s=%q is not a number", ErrMalformed, name, s)
		return nil
	}
	return &v
}
