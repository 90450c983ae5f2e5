package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	daemonruntime "slipway/daemon"
	"slipway/internal/config"
	"slipway/internal/logging"

	"github.com/spf13/cobra"
)

func main() {
	if err := logging.Configure(logging.LevelInfo, logging.FormatText); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "slipwayd",
		Short: "Slipway build server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, os.Environ())
			if err != nil {
				return err
			}

			level := cfg.LogLevel
			if debug {
				level = logging.LevelDebug
			}
			if err := logging.Configure(level, cfg.LogFormat); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return daemonruntime.Run(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath(), "Config file path")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}

func defaultConfigPath() string {
	return "/etc/slipway/config.yaml"
}
