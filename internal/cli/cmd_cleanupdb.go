package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCleanupDBCmd() *cobra.Command {
	var olderThan time.Duration
	var vacuum bool

	cmd := &cobra.Command{
		Use:   "cleanupdb",
		Short: "Prune old build data once",
		Long: `Deletes build data belonging to builds that completed longer ago than the
retention horizon. Data of incomplete builds is never touched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			horizon := cfg.Janitor.Horizon
			if olderThan > 0 {
				horizon = olderThan
			}

			mdb, err := openMaster(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = mdb.Close() }()

			ctx := cmd.Context()
			deleted, err := mdb.DeleteOldBuildData(ctx, time.Now().Add(-horizon))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d build data rows older than %s\n", deleted, horizon)

			if vacuum {
				if err := mdb.Vacuum(ctx); err != nil {
					return err
				}
			} else if deleted > 0 {
				if err := mdb.Optimize(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "override the retention horizon (e.g. 720h)")
	cmd.Flags().BoolVar(&vacuum, "vacuum", false, "rebuild the database file after pruning (SQLite only)")
	return cmd
}
