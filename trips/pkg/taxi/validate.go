package taxi

import (
	"errors"
	"fmt"

	"github.com/malbeclabs/taxilake/trips/pkg/dataset"
)

var ErrRawSchema = errors.New("raw trips do not match the input schema")

// RawSchemaError describes why an ingested dataset was rejected.
type RawSchemaError struct {
	Discrepancies []dataset.Discrepancy
	Violations    []DomainViolation
	// ViolationCount includes violations beyond those listed.
	ViolationCount int
}

// DomainViolation is a value outside its column's domain.
type DomainViolation struct {
	Row    int
	Column string
	Value  any
}

func (e *RawSchemaError) Error() string {
	if len(e.Discrepancies) > 0 {
		return fmt.Sprintf("%s: %s", ErrRawSchema, dataset.FormatDiscrepancies(e.Discrepancies))
	}
	msg := fmt.Sprintf("%s: %d out-of-domain values", ErrRawSchema, e.ViolationCount)
	if len(e.Violations) > 0 {
		v := e.Violations[0]
		msg += fmt.Sprintf(", first at row %d: %s=%v", v.Row, v.Column, v.Value)
	}
	return msg
}

func (e *RawSchemaError) Unwrap() error { return ErrRawSchema }

// maxReportedViolations bounds the violations kept in a RawSchemaError.
const maxReportedViolations = 100

// ValidateRaw checks that ds has the raw trip schema and that passenger
// counts and trip distances are non-negative.
func ValidateRaw(ds *dataset.Dataset) error {
	if d := dataset.Compare(RawSchema, ds.Schema()); len(d) > 0 {
		return &RawSchemaError{Discrepancies: d}
	}

	passengers, err := ds.Integer(ColPassengerCount)
	if err != nil {
		return err
	}
	distance, err := ds.Real(ColTripDistance)
	if err != nil {
		return err
	}

	var violations []DomainViolation
	total := 0
	for i := range ds.NumRows() {
		if v, ok := passengers.Get(i); ok && v < 0 {
			total++
			if len(violations) < maxReportedViolations {
				violations = append(violations, DomainViolation{Row: i, Column: ColPassengerCount, Value: v})
			}
		}
		if v, ok := distance.Get(i); ok && v < 0 {
			total++
			if len(violations) < maxReportedViolations {
				violations = append(violations, DomainViolation{Row: i, Column: ColTripDistance, Value: v})
			}
		}
	}
	if total > 0 {
		return &RawSchemaError{Violations: violations, ViolationCount: total}
	}
	return nil
}
