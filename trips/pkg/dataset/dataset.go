package dataset

import (
	"errors"
	"fmt"
	"time"
)

var ErrColumnNotFound = errors.New("column not found")

// Dataset is an immutable, schema-typed set of equal-length columns.
// Derived datasets share the vectors they do not replace.
type Dataset struct {
	schema Schema
	cols   []Column
	rows   int
}

// New validates the columns against the schema and returns a Dataset.
func New(schema Schema, cols ...Column) (*Dataset, error) {
	if len(cols) != schema.Len() {
		return nil, fmt.Errorf("schema has %d fields but %d columns were given", schema.Len(), len(cols))
	}
	rows := 0
	for i, c := range cols {
		f := schema.Field(i)
		if c == nil {
			return nil, fmt.Errorf("column %q is nil", f.Name)
		}
		if c.Type() != f.Type {
			return nil, fmt.Errorf("column %q has type %s, schema declares %s", f.Name, c.Type(), f.Type)
		}
		if i == 0 {
			rows = c.Len()
		} else if c.Len() != rows {
			return nil, fmt.Errorf("column %q has %d rows, expected %d", f.Name, c.Len(), rows)
		}
		if !f.Nullable && c.NullCount() > 0 {
			return nil, fmt.Errorf("column %q is not nullable but has %d nulls", f.Name, c.NullCount())
		}
	}
	return &Dataset{schema: schema, cols: append([]Column(nil), cols...), rows: rows}, nil
}

func (d *Dataset) Schema() Schema { return d.schema }
func (d *Dataset) NumRows() int   { return d.rows }
func (d *Dataset) NumCols() int   { return len(d.cols) }

func (d *Dataset) ColumnAt(i int) Column { return d.cols[i] }

// Column returns the named column.
func (d *Dataset) Column(name string) (Column, error) {
	i, ok := d.schema.Index(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
	}
	return d.cols[i], nil
}

func (d *Dataset) Text(name string) (*Vector[string], error)       { return typed[string](d, name) }
func (d *Dataset) Integer(name string) (*Vector[int64], error)     { return typed[int64](d, name) }
func (d *Dataset) Real(name string) (*Vector[float64], error)      { return typed[float64](d, name) }
func (d *Dataset) Timestamp(name string) (*Vector[time.Time], error) {
	return typed[time.Time](d, name)
}

func typed[T any](d *Dataset, name string) (*Vector[T], error) {
	c, err := d.Column(name)
	if err != nil {
		return nil, err
	}
	v, err := As[T](c)
	if err != nil {
		return nil, fmt.Errorf("column %q: %w", name, err)
	}
	return v, nil
}

// Drop returns a dataset without the named columns.
func (d *Dataset) Drop(names ...string) (*Dataset, error) {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := d.schema.Index(n); !ok {
			return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, n)
		}
		drop[n] = struct{}{}
	}
	fields := make([]Field, 0, d.schema.Len())
	cols := make([]Column, 0, d.schema.Len())
	for i, f := range d.schema.fields {
		if _, ok := drop[f.Name]; ok {
			continue
		}
		fields = append(fields, f)
		cols = append(cols, d.cols[i])
	}
	return &Dataset{schema: Schema{fields: fields}, cols: cols, rows: d.rows}, nil
}

// With replaces the named column in place, or appends it when absent.
func (d *Dataset) With(f Field, c Column) (*Dataset, error) {
	if c.Type() != f.Type {
		return nil, fmt.Errorf("column %q has type %s, field declares %s", f.Name, c.Type(), f.Type)
	}
	if c.Len() != d.rows && len(d.cols) > 0 {
		return nil, fmt.Errorf("column %q has %d rows, expected %d", f.Name, c.Len(), d.rows)
	}
	fields := d.schema.Fields()
	cols := append([]Column(nil), d.cols...)
	if i, ok := d.schema.Index(f.Name); ok {
		fields[i] = f
		cols[i] = c
	} else {
		fields = append(fields, f)
		cols = append(cols, c)
	}
	return New(Schema{fields: fields}, cols...)
}

// Select returns a dataset with exactly the named columns in the given order.
func (d *Dataset) Select(names ...string) (*Dataset, error) {
	fields := make([]Field, len(names))
	cols := make([]Column, len(names))
	for j, n := range names {
		i, ok := d.schema.Index(n)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, n)
		}
		fields[j] = d.schema.fields[i]
		cols[j] = d.cols[i]
	}
	schema, err := NewSchema(fields...)
	if err != nil {
		return nil, err
	}
	return &Dataset{schema: schema, cols: cols, rows: d.rows}, nil
}

// Take returns a dataset holding the given rows in the given order.
func (d *Dataset) Take(rows []int) *Dataset {
	cols := make([]Column, len(d.cols))
	for i, c := range d.cols {
		cols[i] = c.Take(rows)
	}
	return &Dataset{schema: d.schema, cols: cols, rows: len(rows)}
}

// Row returns the values of row i in schema order.
func (d *Dataset) Row(i int) []any {
	row := make([]any, len(d.cols))
	for j, c := range d.cols {
		row[j] = c.Value(i)
	}
	return row
}
