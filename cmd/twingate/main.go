package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"twingate/internal/app"
	"twingate/internal/infra/security"
)

type serveOptions struct {
	configPath string
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	root := newRootCmd(logger)
	if err := root.Execute(); err != nil {
		logger.Fatal("command failed", zap.Error(err))
	}
}

func newRootCmd(logger *zap.Logger) *cobra.Command {
	opts := serveOptions{}

	root := &cobra.Command{
		Use:   "twingate",
		Short: "Plugin execution gateway for twin tool calls",
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", opts.configPath, "path to gateway config file")

	root.AddCommand(
		newServeCmd(logger, &opts),
		newValidateCmd(logger, &opts),
		newSandboxExecCmd(logger),
	)

	return root
}

func newServeCmd(logger *zap.Logger, opts *serveOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			cfg, err := app.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			return app.New(logger).Serve(ctx, cfg)
		},
	}

	return cmd
}

func newValidateCmd(logger *zap.Logger, opts *serveOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate plugin manifests without serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			return app.New(logger).ValidateManifests(cfg.Plugins.Dir)
		},
	}

	return cmd
}

// newSandboxExecCmd is the re-exec trampoline for sandboxed plugins.
// The parent launches this binary with the plugin path as argument;
// the trampoline confines itself with seccomp, then execs the plugin
// in place. A failed filter install aborts the launch so the plugin
// never runs unconfined.
func newSandboxExecCmd(logger *zap.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:    security.SandboxExecCommand + " -- <binary> [args...]",
		Hidden: true,
		Args:   cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := security.InstallSandbox(); err != nil {
				logger.Error("sandbox install failed", zap.Error(err))
				return err
			}
			return security.ExecReplace(args)
		},
	}

	return cmd
}

func signalAwareContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
