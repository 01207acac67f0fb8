package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateFieldCmd() *cobra.Command {
	var phase string

	cmd := &cobra.Command{
		Use:   "migrate-field",
		Short: "Run one phase of the publication-time migration",
		Long: `Upgrades the dataset's publication field from date precision to full
timestamps, one phase at a time: backfill, rename, verify, cleanup.
Each phase is guarded by a ledger so it cannot run out of order, and
rollback restores the snapshot taken before the last phase.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			m := appInstance.Migrator()
			runID := uuid.NewString()
			ctx := cmd.Context()

			switch phase {
			case "backfill":
				err = m.Backfill(ctx, runID)
			case "rename":
				err = m.Rename(ctx, runID)
			case "verify":
				err = m.Verify(ctx, runID)
			case "cleanup":
				err = m.Cleanup(ctx, runID)
			case "rollback":
				err = m.Rollback(ctx, runID)
			case "status":
				current, serr := m.CurrentPhase()
				if serr != nil {
					return serr
				}
				appInstance.Logger().Info("Migration status", zap.String("phase", string(current)))
				return nil
			default:
				return fmt.Errorf("unknown --phase %q: expected backfill, rename, verify, cleanup, rollback or status", phase)
			}
			if err != nil {
				return fmt.Errorf("migration phase %s: %w", phase, err)
			}
			appInstance.Logger().Info("Migration phase finished", zap.String("phase", phase))
			return nil
		},
	}

	cmd.Flags().StringVar(&phase, "phase", "", "migration phase to run")
	_ = cmd.MarkFlagRequired("phase")

	return cmd
}
