// Command alert-handler processes one camera alert and exits: resolve the
// clip, export it, gatekeep with object detection, render previews, upload,
// notify the workflow webhook, and write the audit record.
//
// Usage: alert-handler <alert-handle> <camera> <timestamp>
// In debug mode the arguments are replayed from artifact.json instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/bialert/internal/alert"
	"github.com/mikeyg42/bialert/internal/app"
	"github.com/mikeyg42/bialert/internal/config"
	"github.com/mikeyg42/bialert/internal/logging"
	"github.com/mikeyg42/bialert/internal/session"
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

	logDir := filepath.Join(filepath.Dir(artifactPath), "logs")
	sync, err := logging.Setup(logDir, cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer sync()

	ref, err := parseRef(cfg, artifactPath, flag.Args())
	if err != nil {
		zap.L().Error("bad invocation", zap.Error(err))
		os.Exit(1)
	}

	pipeline, err := app.New(cfg, artifactPath)
	if err != nil {
		zap.L().Error("failed to initialize pipeline", zap.Error(err))
		os.Exit(1)
	}
	defer pipeline.Close()

	out, err := pipeline.Orchestrator.Run(context.Background(), ref)
	if err != nil {
		zap.L().Error("alert processing failed", zap.Error(err))
		os.Exit(1)
	}

	if out.Rejected {
		zap.L().Info("alert ignored by AI gatekeeper", zap.Float64("confidence", out.Confidence))
		return
	}
	zap.L().Info("alert processed",
		zap.Duration("elapsed", out.Elapsed),
		zap.String("gif_url", out.GifURL),
		zap.Int("jpeg_count", len(out.JpegURLs)))
}

// parseRef builds the alert reference from argv, or from the artifact in
// debug mode so a captured alert can be replayed by hand.
func parseRef(cfg *config.Config, artifactPath string, args []string) (alert.Ref, error) {
	if cfg.Debug {
		a := session.NewStore(artifactPath).Load()
		ref := alert.Ref{Handle: a.Alert, Camera: a.Camera, Timestamp: a.Timestamp}
		if ref.Camera == "" {
			ref.Camera = "FrontYardDW"
		}
		if ref.Timestamp == "" {
			ref.Timestamp = time.Now().Format("3:04:05 PM")
		}
		return ref, nil
	}

	if len(args) < 3 {
		return alert.Ref{}, fmt.Errorf("expecting alert handle, camera name, and timestamp; got %d args", len(args))
	}
	return alert.Ref{Handle: args[0], Camera: args[1], Timestamp: args[2]}, nil
}
