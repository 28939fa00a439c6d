// Package cli implements the forge command-line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/forgebuild/forge/internal/config"
	"github.com/forgebuild/forge/internal/db"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "CI master database tooling",
	Long: `forge manages the relational store of a forge CI master.

Commands:
  forge migrate     Apply pending schema migrations
  forge cleanupdb   Prune old build data once
  forge janitor     Run the retention janitor as a daemon`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.forge/forge.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newCleanupDBCmd())
	rootCmd.AddCommand(newJanitorCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.forge")
		viper.SetConfigType("yaml")
		viper.SetConfigName("forge")
	}

	viper.SetEnvPrefix("FORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}

	setupLogging()
}

// setupLogging installs the default slog logger at the configured level.
func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	} else {
		switch viper.GetString("log.level") {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// loadConfig loads and validates the forge configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openMaster opens the master database per the loaded configuration.
func openMaster(cfg *config.Config) (*db.MasterDB, error) {
	if cfg.Database.DSN == "" {
		return db.OpenMasterDefault()
	}
	return db.OpenMasterWithDialect(cfg.Database.DSN, cfg.Dialect())
}
