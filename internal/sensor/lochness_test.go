package sensor

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brookslogan/nowcast-template/internal/epiweek"
)

func TestKernelWeight(t *testing.T) {
	// Zero weight at the target itself, positive everywhere behind it.
	assert.Zero(t, KernelWeight(0))
	for d := 1; d <= 300; d++ {
		assert.Greater(t, KernelWeight(d), 0.0, "d=%d", d)
	}

	// The immediately preceding week is suppressed relative to slightly
	// older ones.
	assert.Less(t, KernelWeight(1), KernelWeight(3))

	// Same-time-last-year beats half a year ago despite being older.
	assert.Greater(t, KernelWeight(52), KernelWeight(26))

	// Weight halves roughly every year at the seasonal peak.
	assert.Greater(t, KernelWeight(52), KernelWeight(104))
	assert.Greater(t, KernelWeight(104), KernelWeight(156))
}

// signalFrom serves one scalar covariate per week out of a fixed series,
// clipped to the requested range.
func signalFrom(series map[epiweek.Week]float64) SignalFunc {
	return func(_ context.Context, _ string, from, to epiweek.Week) (map[epiweek.Week][]float64, error) {
		out := make(map[epiweek.Week][]float64)
		for _, w := range epiweek.Range(from, to) {
			if v, ok := series[w]; ok {
				out[w] = []float64{v}
			}
		}
		return out, nil
	}
}

// wavySource fills n weeks with a trending, oscillating truth series that
// keeps the regression design full rank.
func wavySource(n int) *fakeSource {
	src := newFakeSource(epiweek.Join(2010, 40), n)
	for i, w := range src.weeks {
		src.setTruth("nat", w, 10+0.05*float64(i)+2*math.Sin(0.7*float64(i)))
	}
	return src
}

func TestLochNessFitPerfectSignal(t *testing.T) {
	src := wavySource(120)
	series := make(map[epiweek.Week]float64)
	for w, v := range src.truth["nat"] {
		series[w] = v
	}

	asOf := src.weeks[110]
	target := asOf.Add(1)
	ln := NewLochNess("ght", src, signalFrom(series), 0)

	got, err := ln.Fit(context.Background(), "nat", asOf, false)
	require.NoError(t, err)

	// The covariate equals the truth, so the weighted fit recovers the
	// identity and the prediction is the target's covariate itself.
	want := src.truth["nat"][target]
	assert.InDelta(t, want, got, 1e-6)
}

func TestLochNessShiftedSignal(t *testing.T) {
	src := wavySource(120)
	asOf := src.weeks[110]
	target := asOf.Add(1)

	const shift = 4
	// A covariate observed on week w describes the truth on week w+shift.
	series := make(map[epiweek.Week]float64)
	for w, v := range src.truth["nat"] {
		series[w.Add(-shift)] = v
	}

	var gotFrom, gotTo epiweek.Week
	signal := func(ctx context.Context, location string, from, to epiweek.Week) (map[epiweek.Week][]float64, error) {
		gotFrom, gotTo = from, to
		return signalFrom(series)(ctx, location, from, to)
	}

	got, err := NewLochNess("nsnd4", src, signal, shift).Fit(context.Background(), "nat", asOf, false)
	require.NoError(t, err)

	assert.Equal(t, src.weeks[0].Add(-shift), gotFrom)
	assert.Equal(t, target.Add(-shift), gotTo)
	assert.InDelta(t, src.truth["nat"][target], got, 1e-6)
}

func TestLochNessMinimumSignalBoundary(t *testing.T) {
	src := wavySource(120)
	asOf := src.weeks[110]
	target := asOf.Add(1)

	// Exactly 52 signal weeks including the target: the 51 labelled
	// instances meet the floor and the fit succeeds. The 50-week span
	// keeps the seasonal columns out of the design.
	series := make(map[epiweek.Week]float64)
	for i := 60; i <= 111; i++ {
		series[src.weeks[i]] = src.truth["nat"][src.weeks[i]]
	}
	got, err := NewLochNess("ght", src, signalFrom(series), 0).Fit(context.Background(), "nat", asOf, false)
	require.NoError(t, err)
	assert.InDelta(t, src.truth["nat"][target], got, 1e-6)

	// One week fewer falls below the floor.
	delete(series, src.weeks[60])
	_, err = NewLochNess("ght", src, signalFrom(series), 0).Fit(context.Background(), "nat", asOf, false)
	var fe *FitError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, InsufficientSignalHistory, fe.Kind)
}

func TestLochNessEmptyDataRange(t *testing.T) {
	src := &fakeSource{truth: make(map[string]map[epiweek.Week]float64)}
	ln := NewLochNess("ght", src, signalFrom(nil), 0)

	_, err := ln.Fit(context.Background(), "nat", epiweek.Join(2015, 10), false)
	var fe *FitError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, InsufficientSignalHistory, fe.Kind)
}

func TestLochNessSignalUnavailable(t *testing.T) {
	src := wavySource(120)
	series := make(map[epiweek.Week]float64)
	for w, v := range src.truth["nat"] {
		series[w] = v
	}
	asOf := src.weeks[110]
	delete(series, asOf.Add(1))

	_, err := NewLochNess("ght", src, signalFrom(series), 0).Fit(context.Background(), "nat", asOf, false)
	var fe *FitError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, SignalUnavailable, fe.Kind)
	assert.Equal(t, "ght", fe.Sensor)
}

func TestLochNessInsufficientSignalHistory(t *testing.T) {
	src := wavySource(120)
	asOf := src.weeks[110]
	target := asOf.Add(1)

	// Only the last ten weeks of signal, far short of the 52 required.
	series := make(map[epiweek.Week]float64)
	for d := 0; d < 10; d++ {
		series[target.Add(-d)] = 1.0
	}

	_, err := NewLochNess("ght", src, signalFrom(series), 0).Fit(context.Background(), "nat", asOf, false)
	var fe *FitError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, InsufficientSignalHistory, fe.Kind)
}

func TestLochNessInsufficientLabelHistory(t *testing.T) {
	// Plenty of signal weeks, but truth only exists for twenty of them.
	src := newFakeSource(epiweek.Join(2010, 40), 120)
	for i := 0; i < 20; i++ {
		src.setTruth("nat", src.weeks[i], float64(i))
	}
	series := make(map[epiweek.Week]float64)
	for _, w := range src.weeks {
		series[w] = 1.0
	}

	asOf := src.weeks[110]
	_, err := NewLochNess("ght", src, signalFrom(series), 0).Fit(context.Background(), "nat", asOf, false)
	var fe *FitError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, InsufficientLabelHistory, fe.Kind)
	assert.True(t, fe.Recoverable())
}

func TestLochNessSignalError(t *testing.T) {
	src := wavySource(120)
	signal := func(context.Context, string, epiweek.Week, epiweek.Week) (map[epiweek.Week][]float64, error) {
		return nil, eris.New("upstream down")
	}

	_, err := NewLochNess("ght", src, signal, 0).Fit(context.Background(), "nat", src.weeks[110], false)
	require.Error(t, err)
	var fe *FitError
	assert.False(t, errors.As(err, &fe))
}
