package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/govnewsbr/pipeline/internal/pipeline"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Reproject the entire dataset into the search engine",
		Long: `Reads the full canonical dataset and upserts every record into the
search collection. Used after schema changes or to repair a drifted
index; upserts make it safe to run at any time.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			logger := appInstance.Logger()

			records, err := appInstance.Store().Load(cmd.Context())
			if err != nil {
				return err
			}
			if len(records) == 0 {
				logger.Info("Dataset is empty, nothing to project")
				return nil
			}

			report, err := appInstance.Projector().Project(cmd.Context(), records)
			if err != nil {
				return err
			}
			logger.Info("Reprojection finished",
				zap.Int("indexed", report.Indexed),
				zap.Int("excluded", len(report.Excluded)),
				zap.Int("failed", len(report.FailedIDs)))
			if report.Failed() {
				// The rest of the dataset was indexed, so this maps to the
				// partial-failure exit code rather than a fatal one.
				return fmt.Errorf("%w: %d documents could not be indexed",
					pipeline.ErrPartialFailure, len(report.FailedIDs))
			}
			return nil
		},
	}
	return cmd
}
