package cleaning

import (
	"errors"
	"fmt"

	"github.com/malbeclabs/taxilake/trips/pkg/dataset"
)

var (
	ErrConfig         = errors.New("invalid cleaning configuration")
	ErrSchemaMismatch = errors.New("cleaned schema does not match the declared schema")
)

// SchemaMismatchError lists every difference from the declared schema.
type SchemaMismatchError struct {
	Discrepancies []dataset.Discrepancy
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("%s: %s", ErrSchemaMismatch, dataset.FormatDiscrepancies(e.Discrepancies))
}

func (e *SchemaMismatchError) Unwrap() error { return ErrSchemaMismatch }

// SchemaValidator asserts that a dataset has exactly the declared schema.
type SchemaValidator struct {
	expected dataset.Schema
}

func NewSchemaValidator(expected dataset.Schema) *SchemaValidator {
	return &SchemaValidator{expected: expected}
}

func (v *SchemaValidator) Name() string { return "schema_validator" }

func (v *SchemaValidator) Validate(ds *dataset.Dataset) error {
	if d := dataset.Compare(v.expected, ds.Schema()); len(d) > 0 {
		return &SchemaMismatchError{Discrepancies: d}
	}
	return nil
}
