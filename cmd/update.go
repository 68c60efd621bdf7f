package main

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brookslogan/nowcast-template/internal/epiweek"
	"github.com/brookslogan/nowcast-template/internal/sensor"
)

var (
	updateFirst  int
	updateLast   int
	updateWeek   int
	updateValid  bool
	updateDryRun bool
)

// pairPattern matches one name-location pair, e.g. "ght-nat" or "isch-all".
var pairPattern = regexp.MustCompile(`^([a-z0-9]+)-([a-z0-9_]+)$`)

var updateCmd = &cobra.Command{
	Use:   "update <name-location>[,<name-location>...]",
	Short: "Fit sensors and store the readings",
	Long: `Fits each named sensor at each named location over every week that
needs a reading, and upserts the results. The location "all" expands to every
location the data source covers, e.g. "ght-all,isch-nat".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pairs, err := parsePairs(args[0])
		if err != nil {
			return err
		}
		first, last, err := parseWeekRange(updateFirst, updateLast, updateWeek)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		g, err := initGeo()
		if err != nil {
			return err
		}
		client := initClient()
		source := initSource(client, st, g)
		if err := source.Prefetch(ctx); err != nil {
			zap.L().Warn("prefetch incomplete", zap.Error(err))
		}

		fitter := sensor.NewFitter(source, source.TrendsSignal, source.DashboardSignal)
		updater := sensor.NewUpdater(st, fitter, source)

		readings, err := updater.Update(ctx, pairs, sensor.UpdateOptions{
			Target:    cfg.Sensor.Target,
			FirstWeek: first,
			LastWeek:  last,
			Valid:     updateValid,
			DryRun:    updateDryRun,
		})
		if err != nil {
			return err
		}

		fmt.Printf("stored %d readings\n", len(readings))
		return nil
	},
}

// parsePairs splits and validates a comma-separated list of name-location
// pairs.
func parsePairs(arg string) ([]sensor.Pair, error) {
	var pairs []sensor.Pair
	for _, raw := range strings.Split(arg, ",") {
		m := pairPattern.FindStringSubmatch(raw)
		if m == nil {
			return nil, eris.Errorf("invalid sensor-location pair %q", raw)
		}
		kind, err := sensor.ParseKind(m[1])
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, sensor.Pair{Kind: kind, Location: m[2]})
	}
	if len(pairs) == 0 {
		return nil, eris.New("no sensor-location pairs given")
	}
	return pairs, nil
}

// parseWeekRange validates the --first/--last/--week flags. --week pins the
// run to a single week and excludes the range flags.
func parseWeekRange(first, last, week int) (epiweek.Week, epiweek.Week, error) {
	if week != 0 {
		if first != 0 || last != 0 {
			return 0, 0, eris.New("--week cannot be combined with --first or --last")
		}
		w := epiweek.Week(week)
		if err := w.Check(); err != nil {
			return 0, 0, err
		}
		return w, w, nil
	}
	f, l := epiweek.Week(first), epiweek.Week(last)
	if f != 0 {
		if err := f.Check(); err != nil {
			return 0, 0, err
		}
	}
	if l != 0 {
		if err := l.Check(); err != nil {
			return 0, 0, err
		}
	}
	if f != 0 && l != 0 && f > l {
		return 0, 0, eris.Errorf("first week %s is after last week %s", f, l)
	}
	return f, l, nil
}

func init() {
	updateCmd.Flags().IntVar(&updateFirst, "first", 0, "first epiweek to fit (default: resume after stored readings)")
	updateCmd.Flags().IntVar(&updateLast, "last", 0, "last epiweek to fit (default: latest data week)")
	updateCmd.Flags().IntVar(&updateWeek, "week", 0, "fit a single epiweek (excludes --first/--last)")
	updateCmd.Flags().BoolVar(&updateValid, "valid", false, "require final rather than preliminary covariate data")
	updateCmd.Flags().BoolVar(&updateDryRun, "dry-run", false, "run the full fit but roll back instead of committing")
	rootCmd.AddCommand(updateCmd)
}
