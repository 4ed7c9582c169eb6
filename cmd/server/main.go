package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-relay/internal/app"
	"github.com/vovakirdan/wirechat-relay/internal/config"
	"github.com/vovakirdan/wirechat-relay/internal/log"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type serveFlags struct {
	configPath        string
	overrides         config.Config
	presence          bool
	requireMembership bool
}

func newRootCmd() *cobra.Command {
	var flags serveFlags

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat relay server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, &flags)
		},
	}
	f := serve.Flags()
	f.StringVar(&flags.configPath, "config", "", "path to config.yaml")
	f.StringVar(&flags.overrides.Addr, "addr", "", "HTTP listen address")
	f.DurationVar(&flags.overrides.ReadHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
	f.DurationVar(&flags.overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	f.StringVar(&flags.overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.StringVar(&flags.overrides.DatabasePath, "db", "", "SQLite database path")
	f.IntVar(&flags.overrides.SendBuffer, "send-buffer", 0, "outbound events buffered per connection")
	f.IntVar(&flags.overrides.RateLimitPerMinute, "rate-limit", 0, "inbound frames allowed per connection per minute")
	f.BoolVar(&flags.presence, "presence", true, "broadcast user_joined/user_left")
	f.BoolVar(&flags.requireMembership, "require-membership", true, "only room members may join and post")

	root := &cobra.Command{
		Use:          "wirechat-relay",
		Short:        "Real-time chat relay",
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.Flags().AddFlagSet(serve.Flags())

	root.AddCommand(serve, &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wirechat-relay %s\n", version)
		},
	})
	return root
}

func runServe(cmd *cobra.Command, flags *serveFlags) error {
	bootLog := log.New("info")

	cfg, path, err := config.Load(bootLog, flags.configPath)
	if err != nil {
		return err
	}
	cfg.UpdateFrom(flags.overrides)
	if cmd.Flags().Changed("presence") {
		cfg.Presence = flags.presence
	}
	if cmd.Flags().Changed("require-membership") {
		cfg.RequireMembership = flags.requireMembership
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := log.New(cfg.LogLevel)
	logger.Info().Str("config", path).Str("version", version).Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(&cfg, logger)
	if err != nil {
		return err
	}

	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
