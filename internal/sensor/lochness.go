package sensor

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/brookslogan/nowcast-template/internal/datasource"
	"github.com/brookslogan/nowcast-template/internal/epiweek"
)

// SignalFunc fetches the raw covariate series for a location over an
// inclusive week range, keyed by the week the covariate was observed.
type SignalFunc func(ctx context.Context, location string, from, to epiweek.Week) (map[epiweek.Week][]float64, error)

const (
	// weeksPerYear is the mean number of epiweeks per year, used by the
	// weight kernel and the periodic bias terms.
	weeksPerYear = 52.2

	// seasonalBumpWidth controls how fast the same-time-of-year bonus
	// decays, in weeks.
	seasonalBumpWidth = 4.0

	// kernelFloor guarantees no training week gets exactly zero weight.
	kernelFloor = 0.05

	// Periodic bias terms are only identified with at least this many
	// instances spanning at least a full year.
	minSeasonalInstances = 26
	minSeasonalSpan      = 52
)

// KernelWeight returns the training weight of a week at distance d (in
// weeks) from the target. The kernel favors weeks at the same time of year,
// decays exponentially with distance, and suppresses the immediately
// preceding weeks so the label cannot trivially leak into the fit.
func KernelWeight(d int) float64 {
	dw := float64(d)
	seasonal := math.Mod(dw, weeksPerYear)
	if weeksPerYear-seasonal < seasonal {
		seasonal = weeksPerYear - seasonal
	}
	bump := math.Exp(-(seasonal / seasonalBumpWidth) * (seasonal / seasonalBumpWidth))
	recent := math.Exp2(-dw / weeksPerYear)
	suppress := 1 - math.Exp2(-dw)
	return (kernelFloor + (1-kernelFloor)*bump) * recent * suppress
}

// periodicBias returns sine/cosine of a week's angular position within the
// mean year, anchored at the first week of 2000.
func periodicBias(w epiweek.Week) (float64, float64) {
	offset := math.Mod(float64(w.Delta(epiweek.Join(2000, 1))), weeksPerYear)
	angle := 2 * math.Pi * offset / weeksPerYear
	return math.Sin(angle), math.Cos(angle)
}

// LochNess fits a time-decayed, seasonally-weighted least-squares regression
// from a covariate signal to the ground truth, and applies it to the week
// after the as-of week. The covariate may lead the truth by a configurable
// number of weeks.
type LochNess struct {
	name   string
	source datasource.DataSource
	signal SignalFunc
	shift  int
}

// NewLochNess builds a fitter for one named signal. shift is the number of
// weeks the covariate leads the truth (a covariate observed on week t is
// paired with truth on week t+shift).
func NewLochNess(name string, source datasource.DataSource, signal SignalFunc, shift int) *LochNess {
	return &LochNess{name: name, source: source, signal: signal, shift: shift}
}

// Fit trains on data available as of asOf and returns the prediction for the
// following week. The valid flag requests strict real-time discipline; with
// this source all truth values are final, so it only gates the signal fetch.
func (l *LochNess) Fit(ctx context.Context, location string, asOf epiweek.Week, valid bool) (float64, error) {
	weeks := l.source.Weeks()
	if len(weeks) == 0 {
		return 0, fitErr(InsufficientSignalHistory, l.name, location, asOf, "empty data range")
	}
	first := weeks[0]
	target := asOf.Add(1)

	raw, err := l.signal(ctx, location, first.Add(-l.shift), target.Add(-l.shift))
	if err != nil {
		return 0, err
	}

	// Re-key observations by the truth week they describe.
	signal := make(map[epiweek.Week][]float64, len(raw))
	for w, values := range raw {
		signal[w.Add(l.shift)] = values
	}

	targetValues, ok := signal[target]
	if !ok {
		return 0, fitErr(SignalUnavailable, l.name, location, asOf,
			"no covariate for %s", target)
	}
	covariates := len(targetValues)

	minRows := minInstancesPerFeature * covariates
	if minRows < minInstancesFloor {
		minRows = minInstancesFloor
	}
	if len(signal) < minRows {
		return 0, fitErr(InsufficientSignalHistory, l.name, location, asOf,
			"signal available for %d weeks, need %d", len(signal), minRows)
	}

	// Align covariates with ground truth, dropping weeks with no label.
	type instance struct {
		week epiweek.Week
		x    []float64
		y    float64
	}
	var instances []instance
	dropped := 0
	for w, values := range signal {
		if w == target {
			continue
		}
		label, ok := l.source.TruthValue(w, location)
		if !ok {
			dropped++
			continue
		}
		instances = append(instances, instance{week: w, x: values, y: label})
	}
	if dropped > 0 {
		zap.L().Warn("dropped signal weeks with unavailable ground truth",
			zap.String("sensor", l.name),
			zap.String("location", location),
			zap.Int("dropped", dropped),
			zap.Int("total", len(signal)),
		)
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].week < instances[j].week })

	if len(instances) < minRows-1 {
		return 0, fitErr(InsufficientLabelHistory, l.name, location, asOf,
			"ground truth available for %d weeks, need %d", len(instances), minRows-1)
	}

	n := len(instances)
	span := instances[n-1].week.Delta(instances[0].week)
	seasonal := n >= minSeasonalInstances && span >= minSeasonalSpan

	cols := covariates + 1
	if seasonal {
		cols += 2
	}
	xData := make([]float64, 0, n*cols)
	yData := make([]float64, n)
	wData := make([]float64, n)
	for i, inst := range instances {
		xData = append(xData, inst.x...)
		xData = append(xData, 1)
		if seasonal {
			s, c := periodicBias(inst.week)
			xData = append(xData, s, c)
		}
		yData[i] = inst.y
		wData[i] = KernelWeight(target.Delta(inst.week))
	}

	beta, err := solveOLS(
		mat.NewDense(n, cols, xData),
		mat.NewVecDense(n, yData),
		mat.NewVecDense(n, wData),
	)
	if err != nil {
		return 0, err
	}

	obs := make([]float64, 0, cols)
	obs = append(obs, targetValues...)
	obs = append(obs, 1)
	if seasonal {
		s, c := periodicBias(target)
		obs = append(obs, s, c)
	}
	return mat.Dot(mat.NewVecDense(cols, obs), beta), nil
}
