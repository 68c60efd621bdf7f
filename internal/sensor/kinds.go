package sensor

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/brookslogan/nowcast-template/internal/datasource"
	"github.com/brookslogan/nowcast-template/internal/epiweek"
)

// Kind identifies a sensor implementation. The set is closed so dispatch is
// an exhaustive switch rather than a name-to-function map.
type Kind int

const (
	// KindISCH is the intercept-sin-cos-holiday regression; it needs no
	// external covariate signal.
	KindISCH Kind = iota
	// KindGHT regresses the search-trends signal onto the truth.
	KindGHT
	// KindNSND4 regresses the dashboard signal shifted four weeks ahead.
	KindNSND4
	// KindNSND7 regresses the dashboard signal shifted seven weeks ahead.
	KindNSND7
)

// Kinds lists every known sensor kind.
func Kinds() []Kind {
	return []Kind{KindISCH, KindGHT, KindNSND4, KindNSND7}
}

func (k Kind) String() string {
	switch k {
	case KindISCH:
		return "isch"
	case KindGHT:
		return "ght"
	case KindNSND4:
		return "nsnd4"
	case KindNSND7:
		return "nsnd7"
	}
	return "unknown"
}

// ParseKind maps a sensor name to its Kind.
func ParseKind(name string) (Kind, error) {
	for _, k := range Kinds() {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, eris.Errorf("sensor: unknown sensor %q", name)
}

// Fitter dispatches fitting requests to the sensor implementations.
type Fitter struct {
	source datasource.DataSource
	ght    SignalFunc
	nsnd   SignalFunc
}

// NewFitter wires the fitting strategies to their data. ght and nsnd supply
// the covariate series for the loch-ness sensors.
func NewFitter(source datasource.DataSource, ght, nsnd SignalFunc) *Fitter {
	return &Fitter{source: source, ght: ght, nsnd: nsnd}
}

// Fit trains the sensor for (kind, location) on data available as of asOf
// and returns the prediction for the following week.
func (f *Fitter) Fit(ctx context.Context, kind Kind, location string, asOf epiweek.Week, valid bool) (float64, error) {
	switch kind {
	case KindISCH:
		return NewISCH(location, f.source).TrainPredict(asOf)
	case KindGHT:
		return NewLochNess("ght", f.source, f.ght, 0).Fit(ctx, location, asOf, valid)
	case KindNSND4:
		return NewLochNess("nsnd4", f.source, f.nsnd, 4).Fit(ctx, location, asOf, valid)
	case KindNSND7:
		return NewLochNess("nsnd7", f.source, f.nsnd, 7).Fit(ctx, location, asOf, valid)
	}
	return 0, eris.Errorf("sensor: unknown kind %d", kind)
}
