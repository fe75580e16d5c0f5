package dataset

import (
	"fmt"
	"strings"
)

// DiscrepancyKind classifies a difference between two schemas.
type DiscrepancyKind string

const (
	DiscrepancyMissing  DiscrepancyKind = "missing"
	DiscrepancyExtra    DiscrepancyKind = "extra"
	DiscrepancyType     DiscrepancyKind = "type"
	DiscrepancyNullable DiscrepancyKind = "nullable"
	DiscrepancyPosition DiscrepancyKind = "position"
)

// Discrepancy is one difference between an expected and an actual schema.
type Discrepancy struct {
	Kind             DiscrepancyKind
	ColumnName       string
	ExpectedType     Type
	ActualType       Type
	ExpectedNullable bool
	ActualNullable   bool
	ExpectedPosition int
	ActualPosition   int
}

func (d Discrepancy) String() string {
	switch d.Kind {
	case DiscrepancyMissing:
		return fmt.Sprintf("%s: missing (expected %s at position %d)", d.ColumnName, d.ExpectedType, d.ExpectedPosition)
	case DiscrepancyExtra:
		return fmt.Sprintf("%s: unexpected column at position %d", d.ColumnName, d.ActualPosition)
	case DiscrepancyType:
		return fmt.Sprintf("%s: type %s, expected %s", d.ColumnName, d.ActualType, d.ExpectedType)
	case DiscrepancyNullable:
		return fmt.Sprintf("%s: nullable=%t, expected nullable=%t", d.ColumnName, d.ActualNullable, d.ExpectedNullable)
	case DiscrepancyPosition:
		return fmt.Sprintf("%s: at position %d, expected %d", d.ColumnName, d.ActualPosition, d.ExpectedPosition)
	default:
		return d.ColumnName + ": " + string(d.Kind)
	}
}

// Compare lists every way actual differs from expected. Column names are
// compared exactly; an empty result means the schemas are equal.
func Compare(expected, actual Schema) []Discrepancy {
	var out []Discrepancy
	for ei, want := range expected.fields {
		ai, ok := actual.Index(want.Name)
		if !ok {
			out = append(out, Discrepancy{
				Kind:             DiscrepancyMissing,
				ColumnName:       want.Name,
				ExpectedType:     want.Type,
				ExpectedNullable: want.Nullable,
				ExpectedPosition: ei,
				ActualPosition:   -1,
			})
			continue
		}
		got := actual.fields[ai]
		if got.Type != want.Type {
			out = append(out, Discrepancy{
				Kind:             DiscrepancyType,
				ColumnName:       want.Name,
				ExpectedType:     want.Type,
				ActualType:       got.Type,
				ExpectedPosition: ei,
				ActualPosition:   ai,
			})
		}
		if got.Nullable != want.Nullable {
			out = append(out, Discrepancy{
				Kind:             DiscrepancyNullable,
				ColumnName:       want.Name,
				ExpectedNullable: want.Nullable,
				ActualNullable:   got.Nullable,
				ExpectedPosition: ei,
				ActualPosition:   ai,
			})
		}
		if ai != ei {
			out = append(out, Discrepancy{
				Kind:             DiscrepancyPosition,
				ColumnName:       want.Name,
				ExpectedPosition: ei,
				ActualPosition:   ai,
			})
		}
	}
	for ai, got := range actual.fields {
		if _, ok := expected.Index(got.Name); !ok {
			out = append(out, Discrepancy{
				Kind:             DiscrepancyExtra,
				ColumnName:       got.Name,
				ActualType:       got.Type,
				ActualNullable:   got.Nullable,
				ExpectedPosition: -1,
				ActualPosition:   ai,
			})
		}
	}
	return out
}

// FormatDiscrepancies joins discrepancies into one line.
func FormatDiscrepancies(ds []Discrepancy) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = d.String()
	}
	return strings.Join(parts, "; ")
}
