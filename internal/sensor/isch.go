// Package sensor produces per-location, per-week scalar sensor readings by
// fitting regressions against ground truth, and orchestrates batch updates of
// those readings.
package sensor

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"

	"github.com/brookslogan/nowcast-template/internal/datasource"
	"github.com/brookslogan/nowcast-template/internal/epiweek"
)

const (
	ischName     = "isch"
	ischFeatures = 7

	// Training windows end at least this many weeks before the as-of week,
	// so the label of the last instance cannot leak into the test period.
	ischTrainGap = 5

	// Rule of thumb: at least 10 instances per feature and at least a full
	// year of them; beyond 50 per feature, keep only the most recent.
	minInstancesPerFeature = 10
	maxInstancesPerFeature = 50
	minInstancesFloor      = 52
)

// ISCH is the intercept-sin-cos-holiday regression. It predicts the target
// one week past the as-of week from a fixed 7-dimensional feature vector:
// intercept, four holiday-week indicators covering the next four weeks, and
// the sine/cosine of the week's angular position within its year.
type ISCH struct {
	location string
	weeks    []epiweek.Week
	index    map[epiweek.Week]int
	truth    map[int]float64
	avail    []int

	coeffs       *mat.VecDense
	trainingWeek epiweek.Week
	trained      bool
}

// NewISCH indexes the source's ground-truth series for one location.
func NewISCH(location string, source datasource.DataSource) *ISCH {
	m := &ISCH{
		location: location,
		index:    make(map[epiweek.Week]int),
		truth:    make(map[int]float64),
	}
	for i, w := range source.Weeks() {
		m.weeks = append(m.weeks, w)
		m.index[w] = i
		if v, ok := source.TruthValue(w, location); ok {
			m.truth[i] = v
			m.avail = append(m.avail, i)
		}
	}
	return m
}

// features returns the fixed feature vector for a week.
func (m *ISCH) features(w epiweek.Week) []float64 {
	x := make([]float64, ischFeatures)
	x[0] = 1
	for holiday := 0; holiday < 4; holiday++ {
		if w.Add(holiday).IsHoliday() {
			x[1+holiday] = 1
		}
	}
	year, week := w.Split()
	offset := 2 * math.Pi * float64(week) / float64(epiweek.NumWeeks(year))
	x[5] = math.Sin(offset)
	x[6] = math.Cos(offset)
	return x
}

// Train fits the model on the window ending at least ischTrainGap weeks
// before asOf (and before the last week with data). Each training instance
// pairs a week's features with the following week's truth.
func (m *ISCH) Train(asOf epiweek.Week) error {
	idx, ok := m.index[asOf]
	if !ok {
		return fitErr(InsufficientHistory, ischName, m.location, asOf,
			"week outside the data range")
	}
	if len(m.avail) < 3 {
		return fitErr(InsufficientHistory, ischName, m.location, asOf,
			"only %d weeks of truth available", len(m.avail))
	}

	i1 := m.avail[2]
	lastIdx := m.avail[len(m.avail)-1]
	i2 := idx - ischTrainGap
	if lastIdx-1 < i2 {
		i2 = lastIdx - 1
	}
	if i2 < i1 {
		return fitErr(InsufficientHistory, ischName, m.location, asOf,
			"available data is too fresh; %d more weeks needed", i1-i2)
	}

	var xData []float64
	var yData []float64
	for i := i1; i <= i2; i++ {
		label, ok := m.truth[i+1]
		if !ok {
			continue
		}
		xData = append(xData, m.features(m.weeks[i])...)
		yData = append(yData, label)
	}

	n := len(yData)
	minInstances := minInstancesPerFeature * ischFeatures
	if minInstances < minInstancesFloor {
		minInstances = minInstancesFloor
	}
	if n < minInstances {
		return fitErr(InsufficientTrainingData, ischName, m.location, asOf,
			"found %d training instances, need %d", n, minInstances)
	}
	if maxN := maxInstancesPerFeature * ischFeatures; n > maxN {
		xData = xData[(n-maxN)*ischFeatures:]
		yData = yData[n-maxN:]
		n = maxN
	}

	x := mat.NewDense(n, ischFeatures, xData)
	y := mat.NewVecDense(n, yData)

	coeffs, err := solveOLS(x, y, nil)
	if err != nil {
		return eris.Wrapf(err, "isch %s: fit", m.location)
	}
	m.coeffs = coeffs
	m.trainingWeek = asOf
	m.trained = true
	return nil
}

// Predict returns the prediction for the week following asOf, using the
// fitted coefficients.
func (m *ISCH) Predict(asOf epiweek.Week) (float64, error) {
	if !m.trained {
		return 0, eris.New("isch: predict before train")
	}
	if m.trainingWeek > asOf {
		return 0, fitErr(FutureTraining, ischName, m.location, asOf,
			"trained on %s", m.trainingWeek)
	}
	return mat.Dot(mat.NewVecDense(ischFeatures, m.features(asOf)), m.coeffs), nil
}

// TrainPredict trains on asOf and returns the one-week-ahead prediction.
func (m *ISCH) TrainPredict(asOf epiweek.Week) (float64, error) {
	if err := m.Train(asOf); err != nil {
		return 0, err
	}
	return m.Predict(asOf)
}

// solveOLS solves the (weighted) normal equations (XᵗWX)⁻¹XᵗWY. A nil
// weights vector means ordinary least squares.
func solveOLS(x *mat.Dense, y *mat.VecDense, weights *mat.VecDense) (*mat.VecDense, error) {
	n, k := x.Dims()

	xw := x
	if weights != nil {
		w := mat.NewDense(n, n, nil)
		for i := 0; i < n; i++ {
			w.Set(i, i, weights.AtVec(i))
		}
		prod := mat.NewDense(n, k, nil)
		prod.Mul(w, x)
		xw = prod
	}

	var xtx mat.Dense
	xtx.Mul(x.T(), xw)
	var xtxInv mat.Dense
	if err := xtxInv.Inverse(&xtx); err != nil {
		return nil, eris.Wrap(err, "normal matrix not invertible")
	}

	var xty mat.VecDense
	if weights != nil {
		var wy mat.VecDense
		wy.MulVec(diagFromVec(weights), y)
		xty.MulVec(x.T(), &wy)
	} else {
		xty.MulVec(x.T(), y)
	}

	beta := mat.NewVecDense(k, nil)
	beta.MulVec(&xtxInv, &xty)
	return beta, nil
}

func diagFromVec(v *mat.VecDense) *mat.Dense {
	n := v.Len()
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, v.AtVec(i))
	}
	return d
}
