package persist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// NewPostgres itself requires a live Postgres+pgvector instance and is
// exercised only against a real deployment. These cover the pure-Go
// helpers the driver methods depend on.

func TestToFloat32ToFloat64RoundTrip(t *testing.T) {
	in := []float64{0.1, -0.5, 3.25}
	out := toFloat64(toFloat32(in))
	require.InDeltaSlice(t, in, out, 1e-6)
}

func TestToFloat64_EmptyInputReturnsNil(t *testing.T) {
	require.Nil(t, toFloat64(nil))
}

func TestPqStringArray_ValueAndScanRoundTrip(t *testing.T) {
	a := pqStringArray{"reflection", `quoted "tag"`, "plain"}
	v, err := a.Value()
	require.NoError(t, err)

	var got pqStringArray
	require.NoError(t, got.Scan(v))
	require.Equal(t, pqStringArray([]string{"reflection", `quoted "tag"`, "plain"}), got)
}

func TestPqStringArray_ValueEmpty(t *testing.T) {
	var a pqStringArray
	v, err := a.Value()
	require.NoError(t, err)
	require.Equal(t, "{}", v)
}

func TestPqStringArray_ScanEmptyBraces(t *testing.T) {
	var a pqStringArray
	require.NoError(t, a.Scan("{}"))
	require.Nil(t, a)
}

func TestPqStringArray_ScanNil(t *testing.T) {
	a := pqStringArray{"x"}
	require.NoError(t, a.Scan(nil))
	require.Nil(t, a)
}

func TestPqStringArray_ScanUnsupportedType(t *testing.T) {
	var a pqStringArray
	require.Error(t, a.Scan(42))
}
