// Command duneweaver controls Dune Weaver sand tables: it serves the HTTP
// API and Home Assistant bridge, and offers one-shot commands for runs and
// schedule inspection.
package main

import (
	"fmt"
	"os"

	"duneweaver/internal/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is set through ldflags at build time
var version = "dev"

// env is filled before any subcommand runs
type env struct {
	settings *config.Settings
	logger   *zap.Logger
}

func main() {
	e := &env{}

	rootCmd := &cobra.Command{
		Use:           "duneweaver",
		Short:         "Run random and schedule-fitting patterns on Dune Weaver tables",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if e.logger != nil {
				e.logger.Sync()
			}
		},
	}

	serveCmd := newServeCmd(e)
	rootCmd.RunE = serveCmd.RunE

	rootCmd.AddCommand(
		serveCmd,
		newRunCmd(e),
		newScheduleCmd(e),
		newHolidaysCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (e *env) init() error {
	// .env is optional; its absence is reported once the logger exists
	envErr := godotenv.Load()

	settings, err := config.SettingsFromEnv()
	if err != nil {
		return err
	}

	var logger *zap.Logger
	if settings.Debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	if envErr != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	e.settings = settings
	e.logger = logger
	return nil
}
