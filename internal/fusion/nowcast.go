package fusion

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"

	"github.com/brookslogan/nowcast-template/internal/statespace"
)

// Estimate is a fused per-location estimate with uncertainty.
type Estimate struct {
	Location string
	Value    float64
	Stdev    float64
}

// Fuse blends readings z with noise covariance R through the statespace
// matrices H and W: the generalized-least-squares state estimate is
// x̂ = (HᵀR⁻¹H)⁻¹HᵀR⁻¹z with covariance P = (HᵀR⁻¹H)⁻¹, projected to output
// space as Wx̂ with variances diag(WPWᵀ).
func Fuse(z *mat.VecDense, r, h, w *mat.Dense) (*mat.VecDense, []float64, error) {
	var rInv mat.Dense
	if err := rInv.Inverse(r); err != nil {
		return nil, nil, eris.Wrap(err, "fusion: noise covariance not invertible")
	}

	var htRinv mat.Dense
	htRinv.Mul(h.T(), &rInv)

	var m mat.Dense
	m.Mul(&htRinv, h)
	var p mat.Dense
	if err := p.Inverse(&m); err != nil {
		return nil, nil, eris.Wrap(err, "fusion: normal matrix not invertible")
	}

	var htRinvZ mat.VecDense
	htRinvZ.MulVec(&htRinv, z)
	var x mat.VecDense
	x.MulVec(&p, &htRinvZ)

	var y mat.VecDense
	y.MulVec(w, &x)

	var wp mat.Dense
	wp.Mul(w, &p)
	var s mat.Dense
	s.Mul(&wp, w.T())

	rows, _ := s.Dims()
	variances := make([]float64, rows)
	for i := 0; i < rows; i++ {
		variances[i] = s.At(i, i)
	}
	return &y, variances, nil
}

// ComputeNowcast produces fused estimates for every representable output
// location, given the readings and error history of the inputs.
//
// inputs names the location of each reading (duplicates allowed when several
// sensors cover one location). noise holds past errors of those inputs, one
// row per week. season and excludeLocations are passed through to the
// statespace mapper.
func ComputeNowcast(
	inputs []string,
	mapper *statespace.Mapper,
	noise *mat.Dense,
	readings []float64,
	cov CovarianceModel,
	season int,
	excludeLocations []string,
) ([]Estimate, error) {
	if len(inputs) != len(readings) {
		return nil, eris.Errorf("fusion: %d inputs but %d readings", len(inputs), len(readings))
	}

	ss, err := mapper.DetermineStatespace(inputs, season, excludeLocations)
	if err != nil {
		return nil, err
	}

	r, err := cov.Matrix(noise)
	if err != nil {
		return nil, err
	}

	z := mat.NewVecDense(len(readings), readings)
	y, variances, err := Fuse(z, r, ss.H, ss.W)
	if err != nil {
		return nil, err
	}

	estimates := make([]Estimate, len(ss.OutputLocations))
	for i, loc := range ss.OutputLocations {
		estimates[i] = Estimate{
			Location: loc,
			Value:    y.AtVec(i),
			Stdev:    math.Sqrt(variances[i]),
		}
	}
	return estimates, nil
}
