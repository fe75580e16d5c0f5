package dataset

import (
	"fmt"
	"math"
	"time"
)

// Column is a typed, immutable vector of nullable values.
type Column interface {
	Type() Type
	Len() int
	IsNull(i int) bool
	NullCount() int
	// Value returns nil for nulls, otherwise a string, int64, float64 or time.Time.
	Value(i int) any
	Take(rows []int) Column
}

// Vector is the Column implementation for every supported type.
type Vector[T any] struct {
	typ    Type
	values []T
	valid  []bool
	nulls  int
}

func newVector[T any](typ Type, values []T, valid []bool) *Vector[T] {
	if valid != nil && len(valid) != len(values) {
		panic(fmt.Sprintf("dataset: %d values but %d validity entries", len(values), len(valid)))
	}
	v := &Vector[T]{typ: typ, values: values, valid: valid}
	for _, ok := range valid {
		if !ok {
			v.nulls++
		}
	}
	return v
}

// NewText returns a text column. A nil valid slice means no nulls.
func NewText(values []string, valid []bool) *Vector[string] {
	return newVector(TypeText, values, valid)
}

func NewInteger(values []int64, valid []bool) *Vector[int64] {
	return newVector(TypeInteger, values, valid)
}

func NewReal(values []float64, valid []bool) *Vector[float64] {
	return newVector(TypeReal, values, valid)
}

func NewTimestamp(values []time.Time, valid []bool) *Vector[time.Time] {
	return newVector(TypeTimestamp, values, valid)
}

// NewDate returns a date column holding copies of values truncated to
// midnight UTC. values is not modified.
func NewDate(values []time.Time, valid []bool) *Vector[time.Time] {
	return newVector(TypeDate, truncateDates(make([]time.Time, len(values)), values), valid)
}

func truncateDates(dst, src []time.Time) []time.Time {
	for i, t := range src {
		dst[i] = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return dst
}

func (v *Vector[T]) Type() Type     { return v.typ }
func (v *Vector[T]) Len() int       { return len(v.values) }
func (v *Vector[T]) NullCount() int { return v.nulls }

func (v *Vector[T]) IsNull(i int) bool {
	return v.valid != nil && !v.valid[i]
}

// Get returns the value at i and whether it is non-null.
func (v *Vector[T]) Get(i int) (T, bool) {
	if v.IsNull(i) {
		var zero T
		return zero, false
	}
	return v.values[i], true
}

func (v *Vector[T]) Value(i int) any {
	if v.IsNull(i) {
		return nil
	}
	return v.values[i]
}

func (v *Vector[T]) Take(rows []int) Column {
	values := make([]T, len(rows))
	var valid []bool
	if v.valid != nil {
		valid = make([]bool, len(rows))
	}
	for j, i := range rows {
		values[j] = v.values[i]
		if valid != nil {
			valid[j] = v.valid[i]
		}
	}
	return newVector(v.typ, values, valid)
}

// Builder fills a fixed-length vector. Distinct indexes may be set from
// different goroutines.
type Builder[T any] struct {
	typ    Type
	values []T
	valid  []bool
}

func NewBuilder[T any](typ Type, n int) *Builder[T] {
	valid := make([]bool, n)
	return &Builder[T]{typ: typ, values: make([]T, n), valid: valid}
}

func (b *Builder[T]) Set(i int, v T) {
	b.values[i] = v
	b.valid[i] = true
}

func (b *Builder[T]) SetNull(i int) {
	var zero T
	b.values[i] = zero
	b.valid[i] = false
}

func (b *Builder[T]) Build() *Vector[T] {
	if b.typ == TypeDate {
		if dates, ok := any(b.values).([]time.Time); ok {
			// The builder owns its values, so they are truncated in place.
			return any(newVector(TypeDate, truncateDates(dates, dates), b.valid)).(*Vector[T])
		}
	}
	return newVector(b.typ, b.values, b.valid)
}

// IsMissing reports whether row i is null, or NaN in a real column.
func IsMissing(c Column, i int) bool {
	if c.IsNull(i) {
		return true
	}
	if r, ok := c.(*Vector[float64]); ok {
		return math.IsNaN(r.values[i])
	}
	return false
}

// As asserts a column to its concrete vector type.
func As[T any](c Column) (*Vector[T], error) {
	v, ok := c.(*Vector[T])
	if !ok {
		var zero T
		return nil, fmt.Errorf("column of type %s is not a %T vector", c.Type(), zero)
	}
	return v, nil
}
