// Command alert-service hosts the alert pipeline as a long-running HTTP
// service: the DVR posts each fired alert to /webhook, and the dashboard
// reads recent runs over /api/alerts and the /ws push feed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mikeyg42/bialert/internal/api"
	"github.com/mikeyg42/bialert/internal/app"
	"github.com/mikeyg42/bialert/internal/config"
	"github.com/mikeyg42/bialert/internal/logging"
)

func main() {
	var artifactPath string
	flag.StringVar(&artifactPath, "artifact", "artifact.json", "path to the cross-run state file")
	flag.Parse()

	if err := app.LoadSecrets(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load secrets: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Load()

	sync, err := logging.Setup("logs", cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer sync()

	pipeline, err := app.New(cfg, artifactPath)
	if err != nil {
		zap.L().Fatal("failed to initialize pipeline", zap.Error(err))
	}
	defer pipeline.Close()

	var dashboard api.Dashboard
	if pipeline.Audit != nil {
		dashboard = pipeline.Audit
	}
	server := api.NewServer(cfg.Service.Addr, pipeline.Orchestrator, dashboard)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			zap.L().Fatal("server error", zap.Error(err))
		}
	case sig := <-sigCh:
		zap.L().Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			zap.L().Warn("shutdown incomplete", zap.Error(err))
		}
	}
}
