package record

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWithPreservesOrderAndImmutability(t *testing.T) {
	r1 := New("raw line")
	r2 := r1.With("a", IntVal(1)).With("b", StrVal("x"))
	r3 := r2.With("a", IntVal(99)) // overwrite keeps position

	require.Equal(t, 0, r1.Len())
	require.Equal(t, []string{"a", "b"}, r2.Keys())
	require.Equal(t, []string{"a", "b"}, r3.Keys())
	require.Equal(t, int64(1), r2.Get("a").Int)
	require.Equal(t, int64(99), r3.Get("a").Int)
	require.Equal(t, "raw line", r3.Raw)
}

func TestGetMissingIsNull(t *testing.T) {
	r := New("x")
	require.True(t, r.Get("nope").IsNull())
	require.False(t, r.Has("nope"))
}

func TestProjectOrderAndMissing(t *testing.T) {
	r := New("").With("a", IntVal(1)).With("b", IntVal(2)).With("c", IntVal(3))
	p := r.Project([]string{"c", "a", "ghost"})
	require.Equal(t, []string{"c", "a"}, p.Keys())
	require.Equal(t, 3, r.Len()) // original untouched
}

func TestWithout(t *testing.T) {
	r := New("").With("a", IntVal(1)).With("b", IntVal(2)).With("c", IntVal(3))
	w := r.Without([]string{"b"})
	require.Equal(t, []string{"a", "c"}, w.Keys())
}

func TestAsFloatCoercions(t *testing.T) {
	for _, tc := range []struct {
		v    Value
		want float64
		ok   bool
	}{
		{IntVal(7), 7, true},
		{FloatVal(2.5), 2.5, true},
		{StrVal("404"), 404, true},
		{StrVal(" 3.14 "), 3.14, true},
		{StrVal("abc"), 0, false},
		{Null(), 0, false},
		{BoolVal(true), 0, false},
	} {
		got, ok := tc.v.AsFloat()
		require.Equal(t, tc.ok, ok, tc.v.AsString())
		if ok {
			require.Equal(t, tc.want, got)
		}
	}
}

func TestAsStringNullIsEmpty(t *testing.T) {
	require.Equal(t, "", Null().AsString())
	require.Equal(t, "true", BoolVal(true).AsString())
	require.Equal(t, "[1, two]", ArrayVal([]Value{IntVal(1), StrVal("two")}).AsString())
}

func TestEqualUnifiesIntAndFloat(t *testing.T) {
	require.True(t, IntVal(3).Equal(FloatVal(3.0)))
	require.False(t, IntVal(3).Equal(StrVal("3")))
	require.True(t, Null().Equal(Null()))
	require.False(t, Null().Equal(StrVal("")))
}
