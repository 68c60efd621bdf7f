package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestReduceFullRankPassthrough(t *testing.T) {
	// Two independent atoms observed directly: the basis is the identity
	// and everything in its span survives.
	h0 := mat.NewDense(2, 2, []float64{
		1, 0,
		0, 1,
	})
	w0 := mat.NewDense(3, 2, []float64{
		1, 0,
		0, 1,
		0.5, 0.5,
	})

	h, w, selected, err := Reduce(h0, w0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, selected)
	assert.True(t, mat.EqualApprox(h0, h, 1e-12))
	assert.True(t, mat.EqualApprox(w0, w, 1e-12))
}

func TestReduceDropsUnrepresentableOutputs(t *testing.T) {
	// Only the first atom is observed; outputs needing the second drop out.
	h0 := mat.NewDense(1, 2, []float64{1, 0})
	w0 := mat.NewDense(3, 2, []float64{
		1, 0, // representable
		0, 1, // not representable
		0.5, 0.5, // not representable
	})

	h, w, selected, err := Reduce(h0, w0)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, selected)

	_, hCols := h.Dims()
	assert.Equal(t, 1, hCols)
	assert.InDelta(t, 1.0, w.At(0, 0), 1e-12)
}

func TestReduceRedundantRows(t *testing.T) {
	// Two sensors observing the same location collapse to a rank-one basis;
	// both input rows map to the same coordinate.
	h0 := mat.NewDense(2, 2, []float64{
		0.25, 0.75,
		0.25, 0.75,
	})
	w0 := mat.NewDense(2, 2, []float64{
		0.25, 0.75,
		1, 0,
	})

	h, w, selected, err := Reduce(h0, w0)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, selected)

	hRows, hCols := h.Dims()
	assert.Equal(t, 2, hRows)
	assert.Equal(t, 1, hCols)
	assert.InDelta(t, h.At(0, 0), h.At(1, 0), 1e-12)

	wRows, _ := w.Dims()
	assert.Equal(t, 1, wRows)
}

func TestReduceCombination(t *testing.T) {
	// Observing a 40/60 mixture and one atom directly spans the second atom
	// too: every output of the two-atom space survives.
	h0 := mat.NewDense(2, 2, []float64{
		0.4, 0.6,
		1, 0,
	})
	w0 := mat.NewDense(3, 2, []float64{
		1, 0,
		0, 1,
		0.4, 0.6,
	})

	_, w, selected, err := Reduce(h0, w0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, selected)

	// Basis is RREF = identity, so reduced W equals w0.
	assert.True(t, mat.EqualApprox(w0, w, 1e-9))
}

func TestReduceErrors(t *testing.T) {
	_, _, _, err := Reduce(mat.NewDense(1, 2, []float64{0, 0}), mat.NewDense(1, 2, []float64{1, 0}))
	assert.Error(t, err)

	_, _, _, err = Reduce(mat.NewDense(1, 2, nil), mat.NewDense(1, 3, nil))
	assert.Error(t, err)
}
