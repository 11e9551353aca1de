// Package app holds the bootstrap shared by the binaries: a cobra root command
// that loads configuration, builds the logger, and cancels on SIGINT/SIGTERM.
package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"legal-intake-orchestrator/internal/config"
	"legal-intake-orchestrator/internal/logging"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

type Runtime struct {
	Config config.Config
	Logger *zap.Logger
}

type RunFunc func(ctx context.Context, rt Runtime) error

func NewCommand(use, short string, run RunFunc) *cobra.Command {
	var (
		cfgFile   string
		logLevel  string
		logFormat string
	)

	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("log-format") {
				cfg.LogFormat = logFormat
			}

			logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			logger = logger.With(zap.String("service", use))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, Runtime{Config: cfg, Logger: logger})
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file; environment variables take precedence")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json or console)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", use, Version)
		},
	})
	return cmd
}

func DialTemporal(rt Runtime) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  rt.Config.TemporalAddress,
		Namespace: rt.Config.TemporalNamespace,
		Logger:    logging.NewTemporalLogger(rt.Logger.With(zap.String("component", "temporal"))),
	})
	if err != nil {
		return nil, fmt.Errorf("connect temporal %s: %w", rt.Config.TemporalAddress, err)
	}
	return c, nil
}

func WorkflowID(cfg config.Config, documentID string) string {
	return fmt.Sprintf("%s-%s", cfg.WorkflowIDPrefix, documentID)
}

// Execute runs cmd and reports whether it succeeded.
func Execute(ctx context.Context, cmd *cobra.Command) bool {
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", cmd.Name(), err)
		return false
	}
	return true
}
