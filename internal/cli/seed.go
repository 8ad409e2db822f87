package cli

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/resort-booking/internal/repository"
	"github.com/iliyamo/resort-booking/internal/seed"
)

func newSeedCmd() *cobra.Command {
	var (
		days int
		file string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the demo catalog (Kayak Tour and friends) with time slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			cat, err := seed.Default()
			if file != "" {
				var doc []byte
				if doc, err = os.ReadFile(file); err == nil {
					cat, err = seed.Parse(doc)
				}
			}
			if err != nil {
				return err
			}

			db, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			store := repository.NewSQLStore(db)

			res, err := cat.Load(cmd.Context(), store, store, loc, days, time.Now())
			if err != nil {
				return err
			}
			log.Info().Int("offerings", res.Offerings).Int("slots", res.Slots).Int("skipped", res.Skipped).Msg("catalog seeded")
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().IntVar(&days, "days", 14, "number of days of time slots to create")
	cmd.Flags().StringVar(&file, "file", "", "catalog YAML to load instead of the built-in demo catalog")
	return cmd
}
