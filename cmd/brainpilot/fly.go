package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mindfly/brainpilot/cmd/brainpilot/app"
)

var flyConfigPath string

var flyCmd = &cobra.Command{
	Use:   "fly",
	Short: "Run a piloting session",
	Long:  "fly connects the headset, the interpretation service and the drone, and pilots until interrupted or stopped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		var logLevel slog.LevelVar
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))

		config, err := app.LoadConfig(flyConfigPath)
		if err != nil {
			return err
		}

		if config.Settings.LogLevel != "" {
			var level slog.Level
			if err = level.UnmarshalText([]byte(config.Settings.LogLevel)); err != nil {
				return fmt.Errorf("parsing log level: %w", err)
			}
			logLevel.Set(level)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if err = app.Run(ctx, config, logger); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	flyCmd.Flags().StringVarP(&flyConfigPath, "config", "c", "config.yaml", "Path to the configuration file")
}
