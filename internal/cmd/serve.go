package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lakefront/depot/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the probe server",
	Long: `Start the long-running process: connects the object store and the
metadata store, then serves /healthz and /readyz until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := buildApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	srv := server.New(a.cfg.Server.Host, a.cfg.Server.Port, version, a.logger.Named("server"))
	srv.RegisterChecker("objstore", server.CheckerFunc(func(ctx context.Context) error {
		_, err := a.store.BucketExists(ctx)
		return err
	}))
	srv.RegisterChecker("metastore", server.CheckerFunc(a.meta.Ping))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		a.logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
