package dataset

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTaxiLake_Dataset_Fingerprint(t *testing.T) {
	t.Parallel()

	t.Run("equal rows share a fingerprint", func(t *testing.T) {
		t.Parallel()
		ts := time.Date(2009, 1, 3, 11, 5, 27, 0, time.UTC)
		ds, err := New(
			MustSchema(
				Field{Name: "s", Type: TypeText, Nullable: true},
				Field{Name: "t", Type: TypeTimestamp, Nullable: true},
				Field{Name: "f", Type: TypeReal, Nullable: true},
			),
			NewText([]string{"CMT", "CMT", "VTS"}, nil),
			NewTimestamp([]time.Time{ts, ts, ts}, nil),
			NewReal([]float64{2.0, 2.0, 2.0}, nil),
		)
		require.NoError(t, err)
		fp := NewFingerprinter(ds)
		a, b, c := fp.Row(0), fp.Row(1), fp.Row(2)
		require.Equal(t, a, b)
		require.NotEqual(t, a, c)
		require.Len(t, a.String(), 64)
	})

	t.Run("field boundaries cannot be forged", func(t *testing.T) {
		t.Parallel()
		schema := MustSchema(
			Field{Name: "a", Type: TypeText},
			Field{Name: "b", Type: TypeText},
		)
		ds, err := New(schema,
			NewText([]string{"x|", "x"}, nil),
			NewText([]string{"y", "|y"}, nil),
		)
		require.NoError(t, err)
		fp := NewFingerprinter(ds)
		require.NotEqual(t, fp.Row(0), fp.Row(1))
	})

	t.Run("null differs from empty string and zero", func(t *testing.T) {
		t.Parallel()
		ds, err := New(
			MustSchema(Field{Name: "s", Type: TypeText, Nullable: true}, Field{Name: "n", Type: TypeInteger, Nullable: true}),
			NewText([]string{"", ""}, []bool{true, false}),
			NewInteger([]int64{0, 0}, []bool{false, true}),
		)
		require.NoError(t, err)
		fp := NewFingerprinter(ds)
		require.NotEqual(t, fp.Row(0), fp.Row(1))
	})

	t.Run("NaN and negative zero are canonical", func(t *testing.T) {
		t.Parallel()
		negZero := math.Copysign(0, -1)
		ds, err := New(
			MustSchema(Field{Name: "f", Type: TypeReal}),
			NewReal([]float64{math.NaN(), math.Float64frombits(0x7ff8000000000001), 0, negZero}, nil),
		)
		require.NoError(t, err)
		fp := NewFingerprinter(ds)
		require.Equal(t, fp.Row(0), fp.Row(1))
		require.Equal(t, fp.Row(2), fp.Row(3))
		require.NotEqual(t, fp.Row(0), fp.Row(2))
	})

	t.Run("type is part of the encoding", func(t *testing.T) {
		t.Parallel()
		a, err := New(MustSchema(Field{Name: "v", Type: TypeInteger}), NewInteger([]int64{1}, nil))
		require.NoError(t, err)
		b, err := New(MustSchema(Field{Name: "v", Type: TypeReal}), NewReal([]float64{math.Float64frombits(1)}, nil))
		require.NoError(t, err)
		require.NotEqual(t, NewFingerprinter(a).Row(0), NewFingerprinter(b).Row(0))
	})
}

func TestTaxiLake_Dataset_Compare(t *testing.T) {
	t.Parallel()

	expected := MustSchema(
		Field{Name: "a", Type: TypeText, Nullable: true},
		Field{Name: "b", Type: TypeInteger, Nullable: true},
		Field{Name: "c", Type: TypeReal, Nullable: true},
	)

	t.Run("equal schemas", func(t *testing.T) {
		t.Parallel()
		require.Empty(t, Compare(expected, expected))
	})

	t.Run("reports every difference", func(t *testing.T) {
		t.Parallel()
		actual := MustSchema(
			Field{Name: "b", Type: TypeReal, Nullable: false},
			Field{Name: "a", Type: TypeText, Nullable: true},
			Field{Name: "d", Type: TypeText, Nullable: true},
		)
		got := Compare(expected, actual)
		kinds := map[string][]DiscrepancyKind{}
		for _, d := range got {
			kinds[d.ColumnName] = append(kinds[d.ColumnName], d.Kind)
		}
		require.Equal(t, []DiscrepancyKind{DiscrepancyPosition}, kinds["a"])
		require.Equal(t, []DiscrepancyKind{DiscrepancyType, DiscrepancyNullable, DiscrepancyPosition}, kinds["b"])
		require.Equal(t, []DiscrepancyKind{DiscrepancyMissing}, kinds["c"])
		require.Equal(t, []DiscrepancyKind{DiscrepancyExtra}, kinds["d"])
		require.Contains(t, FormatDiscrepancies(got), "c: missing")
	})
}
