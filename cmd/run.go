package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"duneweaver/internal/config"
	"duneweaver/internal/table"
	"duneweaver/pkg/service"

	"github.com/spf13/cobra"
)

func newRunCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a pattern on a table once and print the outcome",
	}

	cmd.AddCommand(
		newRunActionCmd(e, "random", "Start a random pattern from the whole catalog", service.ActionRunRandomPattern),
		newRunActionCmd(e, "fitting", "Start a pattern that fits today's schedule", service.ActionRunFittingPattern),
	)
	return cmd
}

func newRunActionCmd(e *env, use, short, action string) *cobra.Command {
	var deviceID string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := e.newApp()
			if err != nil {
				return err
			}

			device, err := pickDevice(rt.devices, deviceID)
			if err != nil {
				return err
			}
			// one-shot runs never schedule
			device.AutoRun = ""

			inst, err := table.Setup(device, rt.deps)
			if err != nil {
				return err
			}
			defer inst.Unload()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			outcome, runErr := rt.registry.Call(ctx, device.ID, action)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(outcome); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&deviceID, "device", "", "Device id (required when more than one table is configured)")
	return cmd
}

func pickDevice(devices []config.Device, id string) (config.Device, error) {
	if id == "" {
		if len(devices) == 1 {
			return devices[0], nil
		}
		return config.Device{}, fmt.Errorf("%d tables configured, choose one with --device", len(devices))
	}

	for _, d := range devices {
		if d.ID == id {
			return d, nil
		}
	}
	return config.Device{}, fmt.Errorf("device %q not found", id)
}
