// Package fusion implements the sensor fusion kernel: statespace reduction,
// noise covariance modeling, and the generalized-least-squares blend that
// combines location-weighted sensor readings into per-location estimates.
package fusion

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"
)

// pivotTol is the magnitude below which a value is treated as zero during
// row reduction. Weight matrices are built from exact rationals, so anything
// smaller is float conversion noise.
const pivotTol = 1e-9

// Reducer implements statespace reduction for the mapper.
type Reducer struct{}

// Reduce collapses the atomic statespace to the row basis of h0. Input rows
// are re-expressed in that basis; output rows that fall outside it (locations
// not representable from the observed inputs) are dropped. Returns the
// reduced H and W plus the indices of the surviving output rows.
func (Reducer) Reduce(h0, w0 *mat.Dense) (*mat.Dense, *mat.Dense, []int, error) {
	return Reduce(h0, w0)
}

// Reduce is the function form of Reducer.Reduce.
func Reduce(h0, w0 *mat.Dense) (*mat.Dense, *mat.Dense, []int, error) {
	mRows, n := h0.Dims()
	wRows, wCols := w0.Dims()
	if wCols != n {
		return nil, nil, nil, eris.Errorf("fusion: column mismatch H0=%d W0=%d", n, wCols)
	}

	basis, pivots := rowReduce(h0)
	k := len(pivots)
	if k == 0 {
		return nil, nil, nil, eris.New("fusion: input matrix has rank zero")
	}

	// Because the basis is in reduced row echelon form, the coordinates of
	// any rowspace vector are just its entries at the pivot columns.
	h := mat.NewDense(mRows, k, nil)
	for i := 0; i < mRows; i++ {
		for j, p := range pivots {
			h.Set(i, j, h0.At(i, p))
		}
	}

	var selected []int
	var wData []float64
	for i := 0; i < wRows; i++ {
		coords := make([]float64, k)
		for j, p := range pivots {
			coords[j] = w0.At(i, p)
		}
		if representable(w0.RawRowView(i), coords, basis) {
			selected = append(selected, i)
			wData = append(wData, coords...)
		}
	}
	if len(selected) == 0 {
		return nil, nil, nil, eris.New("fusion: no output locations representable")
	}

	w := mat.NewDense(len(selected), k, wData)
	return h, w, selected, nil
}

// rowReduce returns the reduced row echelon basis of the rowspace of a and
// the pivot column indices, using partial pivoting.
func rowReduce(a *mat.Dense) (*mat.Dense, []int) {
	rows, cols := a.Dims()
	r := mat.DenseCopyOf(a)
	var pivots []int
	rank := 0
	for col := 0; col < cols && rank < rows; col++ {
		// Largest magnitude entry in this column at or below the rank row.
		best, bestAbs := -1, pivotTol
		for i := rank; i < rows; i++ {
			if abs := math.Abs(r.At(i, col)); abs > bestAbs {
				best, bestAbs = i, abs
			}
		}
		if best < 0 {
			continue
		}
		swapRows(r, rank, best)
		scaleRow(r, rank, 1/r.At(rank, col))
		for i := 0; i < rows; i++ {
			if i == rank {
				continue
			}
			if f := r.At(i, col); f != 0 {
				addScaledRow(r, i, rank, -f)
			}
		}
		pivots = append(pivots, col)
		rank++
	}
	return mat.DenseCopyOf(r.Slice(0, rank, 0, cols)), pivots
}

// representable reports whether row equals coords·basis within tolerance.
func representable(row, coords []float64, basis *mat.Dense) bool {
	k, n := basis.Dims()
	for j := 0; j < n; j++ {
		recon := 0.0
		for i := 0; i < k; i++ {
			recon += coords[i] * basis.At(i, j)
		}
		if math.Abs(recon-row[j]) > pivotTol {
			return false
		}
	}
	return true
}

func swapRows(a *mat.Dense, i, j int) {
	if i == j {
		return
	}
	_, cols := a.Dims()
	for c := 0; c < cols; c++ {
		vi, vj := a.At(i, c), a.At(j, c)
		a.Set(i, c, vj)
		a.Set(j, c, vi)
	}
}

func scaleRow(a *mat.Dense, i int, f float64) {
	_, cols := a.Dims()
	for c := 0; c < cols; c++ {
		a.Set(i, c, a.At(i, c)*f)
	}
}

// addScaledRow adds f times row j to row i.
func addScaledRow(a *mat.Dense, i, j int, f float64) {
	_, cols := a.Dims()
	for c := 0; c < cols; c++ {
		a.Set(i, c, a.At(i, c)+f*a.At(j, c))
	}
}
