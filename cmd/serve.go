package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"duneweaver/internal/api"
	"duneweaver/internal/ha"
	"duneweaver/internal/table"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and the Home Assistant bridge (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.serve()
		},
	}
}

func (e *env) serve() error {
	logger := e.logger
	settings := e.settings

	logger.Info("Starting Dune Weaver bridge",
		zap.String("config_dir", settings.ConfigDir),
		zap.String("schedule_file", settings.ScheduleFile),
		zap.String("timezone", settings.Timezone.String()),
		zap.Bool("read_only", settings.ReadOnly))

	if settings.ReadOnly {
		logger.Info("Running in READ-ONLY mode - patterns are selected but never started")
	}

	rt, err := e.newApp()
	if err != nil {
		return err
	}

	var binder table.ButtonBinder
	if settings.HAEnabled() {
		client := ha.NewClient(settings.HAURL, settings.HAToken, logger)
		if err := client.Connect(); err != nil {
			return fmt.Errorf("failed to connect to Home Assistant: %w", err)
		}
		defer client.Disconnect()

		bridge := ha.NewBridge(client, logger)
		binder = bridge
		rt.deps.Notifier = bridge
	} else {
		logger.Info("HA_URL or HA_TOKEN not set, Home Assistant bridge disabled")
	}

	tables := table.NewManager(rt.deps, binder)
	defer tables.Close()

	if err := tables.Load(rt.devices); err != nil {
		logger.Warn("Some tables could not be set up", zap.Error(err))
	}
	if len(tables.Instances()) == 0 {
		return fmt.Errorf("no table could be set up")
	}

	server := api.NewServer(api.Options{
		Registry: rt.registry,
		Tables:   tables,
		Schedule: rt.schedule,
		Resolver: rt.resolver,
		Clock:    rt.clock,
		Location: settings.Timezone,
		Gatherer: rt.prom,
		Logger:   logger,
		Port:     settings.APIPort,
	})
	if err := server.Start(); err != nil {
		return err
	}
	defer server.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Application running. Press Ctrl+C to exit.",
		zap.Int("tables", len(tables.Instances())),
		zap.Int("api_port", settings.APIPort))

	<-sigChan

	logger.Info("Shutting down gracefully...")
	return nil
}
