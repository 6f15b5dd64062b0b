package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/shardmerge/pkg/observability"
)

// diagnosticsShutdownTimeout bounds the diagnostics server drain on exit.
const diagnosticsShutdownTimeout = 5 * time.Second

func newRunCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll the data root and merge new manifests until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoop(cmd, flags)
		},
	}
}

func runLoop(cmd *cobra.Command, flags *globalFlags) error {
	application, err := newApp(flags, observability.ModeDaemon)
	if err != nil {
		return err
	}
	defer application.close()

	driver, err := application.driver()
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	if addr := application.cfg.Server.MetricsAddr; addr != "" {
		srv, srvErr := observability.NewDiagnosticsServer(ctx, observability.DiagnosticsOptions{
			Addr:         addr,
			Metrics:      application.providers.MetricsHandler,
			Ready:        []observability.ReadyCheck{driver.Ready},
			Tracer:       application.providers.Tracer,
			Logger:       application.logger,
			ReadTimeout:  application.cfg.Server.ReadTimeout,
			WriteTimeout: application.cfg.Server.WriteTimeout,
		})
		if srvErr != nil {
			return srvErr
		}

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), diagnosticsShutdownTimeout)
			defer cancel()

			closeErr := srv.Close(shutdownCtx)
			if closeErr != nil {
				application.logger.Warn("diagnostics server shutdown failed", "error", closeErr)
			}
		}()
	}

	return driver.Run(ctx)
}
