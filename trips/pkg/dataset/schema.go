package dataset

import (
	"fmt"
	"strings"
)

// Type is the semantic type of a column.
type Type int

const (
	TypeText Type = iota + 1
	TypeInteger
	TypeReal
	TypeTimestamp
	TypeDate
)

func (t Type) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeInteger:
		return "integer"
	case TypeReal:
		return "real"
	case TypeTimestamp:
		return "timestamp"
	case TypeDate:
		return "date"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Field describes one column of a schema.
type Field struct {
	Name     string
	Type     Type
	Nullable bool
}

// String renders the field as "name:type" with a "?" suffix when nullable.
func (f Field) String() string {
	s := f.Name + ":" + f.Type.String()
	if f.Nullable {
		s += "?"
	}
	return s
}

// Schema is an ordered list of uniquely named fields.
type Schema struct {
	fields []Field
}

// NewSchema builds a schema, rejecting empty or duplicate column names.
func NewSchema(fields ...Field) (Schema, error) {
	seen := make(map[string]struct{}, len(fields))
	for i, f := range fields {
		if f.Name == "" {
			return Schema{}, fmt.Errorf("field %d has an empty name", i)
		}
		if _, ok := seen[f.Name]; ok {
			return Schema{}, fmt.Errorf("duplicate column %q", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return Schema{fields: append([]Field(nil), fields...)}, nil
}

// MustSchema is NewSchema for package-level declarations.
func MustSchema(fields ...Field) Schema {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s Schema) Len() int { return len(s.fields) }

func (s Schema) Field(i int) Field { return s.fields[i] }

// Fields returns a copy of the fields in order.
func (s Schema) Fields() []Field {
	return append([]Field(nil), s.fields...)
}

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// Index returns the position of the named column.
func (s Schema) Index(name string) (int, bool) {
	for i, f := range s.fields {
		if f.Name == name {
			return i, true
		}
	}
	return -1, false
}

// Lookup returns the named field.
func (s Schema) Lookup(name string) (Field, bool) {
	i, ok := s.Index(name)
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Equal reports whether both schemas have the same ordered fields.
func (s Schema) Equal(other Schema) bool {
	if len(s.fields) != len(other.fields) {
		return false
	}
	for i := range s.fields {
		if s.fields[i] != other.fields[i] {
			return false
		}
	}
	return true
}

func (s Schema) String() string {
	parts := make([]string, len(s.fields))
	for i, f := range s.fields {
		parts[i] = f.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
