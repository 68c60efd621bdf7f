package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brookslogan/nowcast-template/internal/store"
)

var (
	targetFirst int
	targetLast  int
	targetWeek  int
)

var targetCmd = &cobra.Command{
	Use:   "target [location...]",
	Short: "Ingest ground-truth target values",
	Long: `Fetches the ground-truth surveillance series for the given locations
(default: every location in the geography) and upserts the values, so nowcasts
and sensor error histories can be computed offline.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		first, last, err := parseWeekRange(targetFirst, targetLast, targetWeek)
		if err != nil {
			return err
		}
		if first == 0 || last == 0 {
			df, dl := dataRange()
			if first == 0 {
				first = df
			}
			if last == 0 {
				last = dl
			}
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		locations := args
		if len(locations) == 0 {
			g, err := initGeo()
			if err != nil {
				return err
			}
			locations = g.Catalog()
		}

		client := initClient()
		session, err := st.Begin(ctx)
		if err != nil {
			return err
		}
		defer session.Rollback(ctx) //nolint:errcheck // no-op after commit

		total := 0
		for _, loc := range locations {
			rows, err := client.Truth(ctx, loc, first, last)
			if err != nil {
				return err
			}
			for _, row := range rows {
				err := session.UpsertTruth(ctx, store.Truth{
					Target:   cfg.Sensor.Target,
					Location: loc,
					Epiweek:  row.Epiweek,
					Value:    row.Value,
				})
				if err != nil {
					return err
				}
			}
			total += len(rows)
			zap.L().Info("target ingested",
				zap.String("location", loc), zap.Int("rows", len(rows)))
		}

		if err := session.Commit(ctx); err != nil {
			return err
		}
		fmt.Printf("upserted %d target values\n", total)
		return nil
	},
}

func init() {
	targetCmd.Flags().IntVar(&targetFirst, "first", 0, "first epiweek to ingest")
	targetCmd.Flags().IntVar(&targetLast, "last", 0, "last epiweek to ingest")
	targetCmd.Flags().IntVar(&targetWeek, "week", 0, "ingest a single epiweek (excludes --first/--last)")
	rootCmd.AddCommand(targetCmd)
}
