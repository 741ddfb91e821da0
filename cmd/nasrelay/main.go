package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sipeed/nasrelay/pkg/app"
	"github.com/sipeed/nasrelay/pkg/config"
	"github.com/sipeed/nasrelay/pkg/logger"
)

// set by -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath = envOr("NASRELAY_CONFIG", "")
		envFile    = ".env"
		cfg        *config.Config
	)

	root := &cobra.Command{
		Use:           "nasrelay",
		Short:         "TrueNAS admin relay for chat bot commands and app state alerts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := logger.Init(logger.Config{Format: loaded.Log.Format, Level: loaded.Log.Level}); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			cfg = loaded
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", configPath, "YAML config file (env NASRELAY_CONFIG)")
	root.PersistentFlags().StringVar(&envFile, "env-file", envFile, "dotenv file loaded before the environment is read")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the command dispatcher, state monitor and gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(cfg, version)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}

	var timeout time.Duration
	appsCmd := &cobra.Command{
		Use:   "apps",
		Short: "Print the current app states once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			out, err := app.ListApps(ctx, cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	appsCmd.Flags().DurationVar(&timeout, "timeout", 45*time.Second, "overall deadline for the listing")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "nasrelay", version)
		},
	}

	root.AddCommand(serveCmd, appsCmd, versionCmd)
	return root
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
