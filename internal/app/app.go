// Package app wires the pipeline's components together for both the CLI
// and service binaries.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mikeyg42/bialert/internal/alert"
	"github.com/mikeyg42/bialert/internal/bi"
	"github.com/mikeyg42/bialert/internal/config"
	"github.com/mikeyg42/bialert/internal/database"
	"github.com/mikeyg42/bialert/internal/detect"
	"github.com/mikeyg42/bialert/internal/export"
	"github.com/mikeyg42/bialert/internal/media"
	"github.com/mikeyg42/bialert/internal/notify"
	"github.com/mikeyg42/bialert/internal/secrets"
	"github.com/mikeyg42/bialert/internal/session"
	"github.com/mikeyg42/bialert/internal/storage"
)

// App bundles the assembled pipeline.
type App struct {
	Config       *config.Config
	Orchestrator *alert.Orchestrator
	Audit        *database.Store // nil when persistence is disabled
}

// LoadSecrets pulls credentials from 1Password into the environment when a
// service account is configured; otherwise the environment is used as-is.
func LoadSecrets() error {
	if !secrets.Enabled() {
		return nil
	}
	fields, err := secrets.LoadItem("SecretsMGMT", "bi_alert_handler_secrets")
	if err != nil {
		return fmt.Errorf("load secrets: %w", err)
	}
	secrets.Export(fields)
	return nil
}

// New assembles the orchestrator and its collaborators from config.
func New(cfg *config.Config, artifactPath string) (*App, error) {
	logger := zap.L().Named("app")

	dvr := bi.NewClient(bi.Config{
		Host:     cfg.BlueIris.Host,
		Username: cfg.BlueIris.Username,
		Password: cfg.BlueIris.Password,
		Timeout:  cfg.BlueIris.Timeout,
	})

	waiter := export.NewWaiter(cfg.Alert.ExportDir, cfg.Alert.WaitTimeout,
		cfg.Alert.PollInterval, cfg.Alert.SettleDelay)

	detector := detect.NewClient(detect.Config{
		Host:    cfg.Detection.Host,
		Timeout: cfg.Detection.Timeout,
	})

	renderer := media.NewRenderer(media.Config{
		WorkDir:     cfg.Media.WorkDir,
		GIFDuration: cfg.Media.GIFDuration,
		GIFFPS:      cfg.Media.GIFFPS,
		MaxWidth:    cfg.Media.MaxWidth,
		JPEGQuality: cfg.Media.JPEGQuality,
	})

	uploader, err := storage.NewUploader(storage.Config{
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKey,
		SecretAccessKey: cfg.Storage.SecretKey,
		UseSSL:          cfg.Storage.UseSSL,
		Bucket:          cfg.Storage.Bucket,
	})
	if err != nil {
		return nil, fmt.Errorf("create uploader: %w", err)
	}

	notifier := notify.NewNotifier(notify.Config{
		URL:        cfg.Webhook.URL,
		AuthHeader: cfg.Webhook.AuthHeader,
		Timeout:    cfg.Webhook.Timeout,
		Retries:    cfg.Webhook.Retries,
	})

	// Persistence is optional: a missing DB host disables it rather than
	// failing the pipeline.
	var audit *database.Store
	var auditIface alert.AuditStore
	if cfg.Database.Host != "" {
		store, err := database.NewStore(cfg.Database.DSN())
		if err != nil {
			logger.Warn("database logging disabled", zap.Error(err))
		} else if err := store.EnsureSchema(context.Background()); err != nil {
			logger.Warn("database logging disabled", zap.Error(err))
			store.Close()
		} else {
			audit = store
			auditIface = store
		}
	}

	var artifacts alert.ArtifactStore
	if artifactPath != "" {
		artifacts = session.NewStore(artifactPath)
	}

	orch := alert.New(cfg, dvr, waiter, detector, renderer, uploader, notifier, auditIface, artifacts)

	return &App{Config: cfg, Orchestrator: orch, Audit: audit}, nil
}

// Close releases held resources.
func (a *App) Close() {
	if a.Audit != nil {
		a.Audit.Close()
	}
}
