package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/djlord-it/easy-watcher/internal/config"
	"github.com/djlord-it/easy-watcher/internal/history"
	"github.com/djlord-it/easy-watcher/internal/logging"
	"github.com/djlord-it/easy-watcher/internal/registry"
	"github.com/djlord-it/easy-watcher/internal/schedule"
	"github.com/djlord-it/easy-watcher/internal/watcher"
)

// loadConfig loads and validates the configuration.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, invalidConfig(err)
	}
	if err := config.Validate(cfg); err != nil {
		return cfg, invalidConfig(err)
	}
	return cfg, nil
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and watch definitions (no connections made)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			n, err := registry.LoadInto(registry.New(schedule.NewEvaluator()), cfg.WatchesDir)
			if err != nil {
				return invalidConfig(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration valid (%d watches)\n", n)
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print effective configuration as JSON (secrets masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return invalidConfig(err)
			}
			data, err := cfg.MaskedJSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "watcher version %s (commit: %s)\n", version, commit)
		},
	}
}

func newRunOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-once <watch-id>",
		Short: "Execute one watch immediately and print its history record",
		Long:  "Loads the watches, executes the named one on a virtual clock against the configured history backend and prints the stored record as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.TimeWarp = true

			logger, err := logging.New(cfg.LogLevel)
			if err != nil {
				return invalidConfig(err)
			}
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()
			backend, closeBackend, err := openBackend(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeBackend()

			svc, err := watcher.New(cfg, watcher.Deps{Backend: backend}, logger)
			if err != nil {
				return invalidConfig(err)
			}
			if _, err := svc.LoadWatches(cfg.WatchesDir); err != nil {
				return invalidConfig(err)
			}

			rec, execErr := svc.ExecuteNow(ctx, args[0])
			if rec != nil {
				data, err := json.MarshalIndent(history.Document(*rec), "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
			}
			return execErr
		},
	}
}
