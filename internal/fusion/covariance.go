package fusion

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"
)

// CovarianceModel estimates the sensor noise covariance from a history of
// sensor errors. Rows of the noise matrix are weeks, columns are inputs; NaN
// marks a week where an input produced no reading.
type CovarianceModel interface {
	Matrix(noise *mat.Dense) (*mat.Dense, error)
}

// BlendDiagonal2 averages the empirical second-moment matrix of past sensor
// errors with its own diagonal. Halving the off-diagonal mass keeps the
// matrix invertible when inputs are perfectly correlated (e.g. two sensors
// for the same location) while preserving each input's own variance.
type BlendDiagonal2 struct{}

// Matrix implements CovarianceModel.
func (BlendDiagonal2) Matrix(noise *mat.Dense) (*mat.Dense, error) {
	weeks, inputs := noise.Dims()
	if weeks == 0 || inputs == 0 {
		return nil, eris.New("fusion: empty noise history")
	}

	r := mat.NewDense(inputs, inputs, nil)
	for i := 0; i < inputs; i++ {
		for j := i; j < inputs; j++ {
			// Pairwise second moment over weeks where both inputs reported.
			// Sensor errors are assumed mean-zero.
			sum, count := 0.0, 0
			for t := 0; t < weeks; t++ {
				a, b := noise.At(t, i), noise.At(t, j)
				if math.IsNaN(a) || math.IsNaN(b) {
					continue
				}
				sum += a * b
				count++
			}
			if count == 0 {
				if i == j {
					return nil, eris.Errorf("fusion: input %d has no error history", i)
				}
				continue
			}
			moment := sum / float64(count)
			if i == j {
				r.Set(i, i, moment)
			} else {
				r.Set(i, j, moment/2)
				r.Set(j, i, moment/2)
			}
		}
	}
	return r, nil
}
