package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/govnewsbr/pipeline/internal/app"
	"github.com/govnewsbr/pipeline/internal/pipeline"
	"github.com/govnewsbr/pipeline/internal/scraper"
)

const dateFlagLayout = "2006-01-02"

func newScrapeCmd() *cobra.Command {
	var (
		minDate     string
		maxDate     string
		agencies    []string
		sequential  bool
		allowUpdate bool
		forceSave   bool
	)

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape agency portals and merge the results into the dataset",
		Long: `Collects news from the configured agency portals within a publication
date window, reconciles them against the canonical dataset, persists the
merged result and projects new items into the search engine.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			window, err := parseWindow(minDate, maxDate)
			if err != nil {
				return err
			}

			opts := pipeline.Options{
				Window:      window,
				Policy:      app.DefaultPolicy(allowUpdate),
				Agencies:    agencies,
				Sequential:  sequential,
				Parallelism: appInstance.Config().Scraper.Parallelism,
				ForceSave:   forceSave,
				Topic:       appInstance.Config().PubSub.Topic,
			}

			_, err = appInstance.Runner().Run(cmd.Context(), opts)
			return err
		},
	}

	cmd.Flags().StringVar(&minDate, "min-date", "", "earliest publication date to collect (YYYY-MM-DD)")
	cmd.Flags().StringVar(&maxDate, "max-date", "", "latest publication date to collect (YYYY-MM-DD, default open)")
	cmd.Flags().StringSliceVar(&agencies, "agencies", nil, "restrict the run to these agency codes")
	cmd.Flags().BoolVar(&sequential, "sequential", false, "scrape agencies one at a time")
	cmd.Flags().BoolVar(&allowUpdate, "allow-update", false, "overwrite records already in the dataset instead of skipping them")
	cmd.Flags().BoolVar(&forceSave, "force-save", false, "persist the dataset even when nothing changed")
	_ = cmd.MarkFlagRequired("min-date")

	return cmd
}

func parseWindow(minDate, maxDate string) (scraper.Window, error) {
	min, err := time.Parse(dateFlagLayout, minDate)
	if err != nil {
		return scraper.Window{}, fmt.Errorf("invalid --min-date %q: expected YYYY-MM-DD", minDate)
	}
	w := scraper.Window{MinDate: min}
	if maxDate != "" {
		max, err := time.Parse(dateFlagLayout, maxDate)
		if err != nil {
			return scraper.Window{}, fmt.Errorf("invalid --max-date %q: expected YYYY-MM-DD", maxDate)
		}
		if max.Before(min) {
			return scraper.Window{}, fmt.Errorf("--max-date %s is before --min-date %s", maxDate, minDate)
		}
		w.MaxDate = max
	}
	return w, nil
}
