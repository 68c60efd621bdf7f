package main

import (
	"encoding/json"
	"math"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/brookslogan/nowcast-template/internal/datasource"
	"github.com/brookslogan/nowcast-template/internal/epiweek"
	"github.com/brookslogan/nowcast-template/internal/fusion"
	"github.com/brookslogan/nowcast-template/internal/statespace"
)

var (
	fuseWeek    int
	fuseExclude []string
)

var fuseCmd = &cobra.Command{
	Use:   "fuse",
	Short: "Fuse stored sensor readings into a one-week nowcast",
	Long: `Collects every stored sensor reading for one epiweek, estimates the
sensors' noise covariance from their past errors against the ground truth, and
fuses the readings into population-weighted estimates for every location the
readings can represent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		week := epiweek.Week(fuseWeek)
		if err := week.Check(); err != nil {
			return eris.Wrap(err, "--week")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		g, err := initGeo()
		if err != nil {
			return err
		}
		client := initClient()
		source := initSource(client, st, g)

		inputs, readings, noise, err := collectInputs(source, week)
		if err != nil {
			return err
		}

		mapper := statespace.NewMapper(g, fusion.Reducer{})
		estimates, err := fusion.ComputeNowcast(
			inputs, mapper, noise, readings, fusion.BlendDiagonal2{},
			week.Season(), fuseExclude,
		)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"epiweek":   week.String(),
			"estimates": estimates,
		})
	},
}

// collectInputs gathers the readings available for the target week and each
// reading's error history against the ground truth, one noise row per past
// week with unavailable entries as NaN.
func collectInputs(source datasource.DataSource, week epiweek.Week) ([]string, []float64, *mat.Dense, error) {
	type input struct {
		name     string
		location string
	}

	var (
		inputs   []input
		locs     []string
		readings []float64
	)
	for _, name := range source.Sensors() {
		for _, loc := range source.SensorLocations() {
			v, ok := source.SensorValue(week, loc, name)
			if !ok {
				continue
			}
			inputs = append(inputs, input{name: name, location: loc})
			locs = append(locs, loc)
			readings = append(readings, v)
		}
	}
	if len(inputs) == 0 {
		return nil, nil, nil, eris.Errorf("no stored readings for %s", week)
	}

	var past []epiweek.Week
	for _, w := range source.Weeks() {
		if w < week {
			past = append(past, w)
		}
	}
	if len(past) == 0 {
		return nil, nil, nil, eris.Errorf("no weeks before %s to estimate noise from", week)
	}

	noise := mat.NewDense(len(past), len(inputs), nil)
	for i, w := range past {
		for j, in := range inputs {
			reading, okR := source.SensorValue(w, in.location, in.name)
			truth, okT := source.TruthValue(w, in.location)
			if okR && okT {
				noise.Set(i, j, reading-truth)
			} else {
				noise.Set(i, j, math.NaN())
			}
		}
	}

	zap.L().Info("collected fusion inputs",
		zap.Stringer("epiweek", week),
		zap.Int("inputs", len(inputs)),
		zap.Int("noise_weeks", len(past)))
	return locs, readings, noise, nil
}

func init() {
	fuseCmd.Flags().IntVar(&fuseWeek, "week", 0, "epiweek to nowcast (required)")
	fuseCmd.Flags().StringSliceVar(&fuseExclude, "exclude", nil, "output locations to exclude")
	_ = fuseCmd.MarkFlagRequired("week")
	rootCmd.AddCommand(fuseCmd)
}
