package cli

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forgebuild/forge/internal/janitor"
)

func newJanitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "janitor",
		Short: "Run the retention janitor as a daemon",
		Long: `Prunes old build data on the configured cron schedule until interrupted.
An initial prune runs at startup.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			mdb, err := openMaster(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = mdb.Close() }()

			j := janitor.New(mdb, janitor.Config{
				Schedule: cfg.Janitor.Schedule,
				Horizon:  cfg.Janitor.Horizon,
			}, slog.Default())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if _, err := j.RunOnce(ctx); err != nil {
				return err
			}
			if err := j.Start(); err != nil {
				return err
			}

			<-ctx.Done()
			j.Stop()
			return nil
		},
	}
}
