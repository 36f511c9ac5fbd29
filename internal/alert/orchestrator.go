package alert

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/bialert/internal/bi"
	"github.com/mikeyg42/bialert/internal/config"
	"github.com/mikeyg42/bialert/internal/database"
	"github.com/mikeyg42/bialert/internal/detect"
)

// Orchestrator drives one alert from resolution to audit. A run is a
// single sequential control flow; concurrent runs share only the DVR
// session cache, which every collaborator tolerates racing on.
type Orchestrator struct {
	cfg       *config.Config
	dvr       DVRClient
	waiter    ExportWaiter
	detector  Detector
	renderer  Renderer
	uploader  Uploader
	notifier  Notifier
	audit     AuditStore    // nil disables persistence
	artifacts ArtifactStore // nil disables session caching
	logger    *zap.Logger
}

// New assembles an orchestrator. audit and artifacts may be nil.
func New(cfg *config.Config, dvr DVRClient, waiter ExportWaiter, detector Detector,
	renderer Renderer, uploader Uploader, notifier Notifier,
	audit AuditStore, artifacts ArtifactStore) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		dvr:       dvr,
		waiter:    waiter,
		detector:  detector,
		renderer:  renderer,
		uploader:  uploader,
		notifier:  notifier,
		audit:     audit,
		artifacts: artifacts,
		logger:    zap.L().Named("orchestrator"),
	}
}

// Run processes one alert end to end. A gatekeeper rejection returns a
// clean Outcome with Rejected set; every other early return is a failure
// that has already attempted a best-effort audit write.
func (o *Orchestrator) Run(ctx context.Context, ref Ref) (Outcome, error) {
	start := time.Now()
	log := o.logger.With(
		zap.String("camera", ref.Camera),
		zap.String("handle", ref.Handle),
		zap.String("timestamp", ref.Timestamp),
	)
	log.Info("received alert")

	if ref.Camera == "" {
		return Outcome{}, o.fail(ctx, ref, fmt.Errorf("alert reference missing camera"))
	}
	if ref.Handle == "" {
		ref.Handle = bi.SentinelHandle
	}

	// SessionReady
	if err := o.ensureSession(ctx, ref); err != nil {
		return Outcome{}, o.fail(ctx, ref, err)
	}

	// ClipResolved
	seg, err := o.resolveSegment(ctx, ref)
	if err != nil {
		return Outcome{}, o.fail(ctx, ref, err)
	}
	log.Info("resolved alert clip",
		zap.String("path", seg.Path),
		zap.Int("offset_ms", seg.OffsetMs),
		zap.Int("duration_ms", seg.DurationMs))

	// Exported
	exportMsec := o.cfg.Alert.ExportDuration(seg.DurationMs)
	job, err := o.dvr.Export(ctx, seg.Path, seg.OffsetMs, exportMsec)
	if err != nil {
		return Outcome{}, o.fail(ctx, ref, err)
	}
	mp4Path, err := o.waiter.Wait(ctx, job)
	if err != nil {
		return Outcome{}, o.fail(ctx, ref, err)
	}
	log.Info("export complete", zap.String("file", mp4Path))

	// Accepted | Rejected
	midFrame, err := o.renderer.ExtractMidFrame(mp4Path, ref.Camera)
	if err != nil {
		o.cleanup(mp4Path)
		return Outcome{}, o.fail(ctx, ref, fmt.Errorf("extract frame for AI analysis: %w", err))
	}

	preds, err := o.detector.DetectObjects(ctx, midFrame, o.cfg.Detection.MinConfidence)
	if err != nil {
		o.cleanup(mp4Path, midFrame)
		return Outcome{}, o.fail(ctx, ref, err)
	}
	accepted, confidence := detect.Gate(preds, o.cfg.Detection.TargetLabel, o.cfg.Detection.MinConfidence)
	if !accepted {
		log.Info("alert rejected by gatekeeper",
			zap.String("label", o.cfg.Detection.TargetLabel),
			zap.Float64("confidence", confidence))
		o.auditRejected(ctx, ref, confidence)
		o.cleanup(mp4Path, midFrame)
		return Outcome{Ref: ref, Rejected: true, Confidence: confidence, Elapsed: time.Since(start)}, nil
	}
	log.Info("alert accepted by gatekeeper", zap.Float64("confidence", confidence))

	// Rendered - a missing GIF is fatal (it is the webhook's primary
	// payload); missing stills are not.
	gifPath, err := o.renderer.RenderGIF(mp4Path, ref.Camera)
	if err != nil {
		o.cleanup(mp4Path, midFrame)
		return Outcome{}, o.fail(ctx, ref, err)
	}
	stills, err := o.renderer.ExtractStills(mp4Path, ref.Camera)
	if err != nil {
		log.Warn("still extraction failed, continuing with mid-frame only", zap.Error(err))
	}
	if len(stills) == 0 {
		stills = []string{midFrame}
	}

	// Uploaded
	gifURL, err := o.uploader.UploadFile(ctx, gifPath, "alerts")
	if err != nil {
		o.cleanup(append(stills, mp4Path, midFrame, gifPath)...)
		return Outcome{}, o.fail(ctx, ref, err)
	}
	jpegURLs := o.uploader.UploadMany(ctx, stills, "alert_frames")

	// Notified
	status, err := o.notifier.SendAlert(ctx, ref.Camera, ref.Timestamp, gifURL, jpegURLs)
	if err != nil {
		o.cleanup(append(stills, mp4Path, midFrame, gifPath)...)
		return Outcome{}, o.fail(ctx, ref, err)
	}
	log.Info("webhook delivered", zap.Int("status", status))

	// Persisted
	o.auditWrite(ctx, database.AlertRecord{
		Camera:      ref.Camera,
		Timestamp:   ref.Timestamp,
		AlertHandle: ref.Handle,
		GifURL:      gifURL,
		JpegURLs:    jpegURLs,
		Success:     true,
		DebugMode:   o.cfg.Debug,
	})
	if o.artifacts != nil {
		if err := o.artifacts.SaveRun(ref.Handle, ref.Camera, ref.Timestamp); err != nil {
			log.Warn("failed to update artifact", zap.Error(err))
		}
	}

	o.cleanup(append(stills, mp4Path, midFrame, gifPath)...)

	out := Outcome{
		Ref:        ref,
		Confidence: confidence,
		GifURL:     gifURL,
		JpegURLs:   jpegURLs,
		Elapsed:    time.Since(start),
	}
	log.Info("run complete",
		zap.Duration("elapsed", out.Elapsed),
		zap.String("gif_url", gifURL),
		zap.Int("jpeg_count", len(jpegURLs)))
	return out, nil
}

// ensureSession reuses the externally cached session when it validates,
// falling back to a fresh login otherwise.
func (o *Orchestrator) ensureSession(ctx context.Context, ref Ref) error {
	if o.artifacts != nil {
		a := o.artifacts.Load()
		if a.HasSession() && o.dvr.ValidateSession(ctx, a.Session, ref.Handle, ref.Camera) {
			o.dvr.SetSession(a.Session)
			o.logger.Info("reusing cached DVR session")
			return nil
		}
		sess, err := o.dvr.Login(ctx)
		if err != nil {
			return err
		}
		if err := o.artifacts.SaveSession(sess); err != nil {
			o.logger.Warn("failed to cache session", zap.Error(err))
		}
		return nil
	}

	_, err := o.dvr.EnsureSession(ctx)
	return err
}

// resolveSegment is the two-tier retrieval: direct handle lookup first,
// then the confidence-filtered alertlist search. A stale or garbled handle
// must reach the fallback, so only not-found falls through; transport and
// auth failures abort.
func (o *Orchestrator) resolveSegment(ctx context.Context, ref Ref) (bi.ClipSegment, error) {
	if ref.Handle != bi.SentinelHandle {
		seg, err := o.dvr.ClipStats(ctx, ref.Handle)
		if err == nil && seg.Path != "" {
			seg.Camera = ref.Camera
			o.logger.Info("using provided alert handle", zap.String("handle", ref.Handle))
			return seg, nil
		}
		var nf *bi.NotFoundError
		if err != nil && !errors.As(err, &nf) {
			return bi.ClipSegment{}, err
		}
		o.logger.Info("handle did not resolve, falling back to alertlist", zap.String("handle", ref.Handle))
	}

	seg, err := o.dvr.FindRecentAIAlert(ctx, ref.Camera, o.cfg.EffectiveLookback(),
		o.cfg.Alert.AIObject, o.cfg.Alert.MinConfidence)
	if err != nil {
		return bi.ClipSegment{}, err
	}
	o.logger.Info("fallback search resolved alert", zap.String("path", seg.Path), zap.Int("confidence", seg.Confidence))
	return seg, nil
}

// fail records a failure audit record best-effort and hands the original
// error back unchanged.
func (o *Orchestrator) fail(ctx context.Context, ref Ref, err error) error {
	o.logger.Error("run failed", zap.String("camera", ref.Camera), zap.Error(err))
	o.auditWrite(ctx, database.AlertRecord{
		Camera:       ref.Camera,
		Timestamp:    ref.Timestamp,
		AlertHandle:  ref.Handle,
		Success:      false,
		ErrorMessage: sql.NullString{String: err.Error(), Valid: true},
		DebugMode:    o.cfg.Debug,
	})
	return err
}

// auditRejected optionally records a gatekeeper rejection. The run ended
// cleanly, so the record carries success=true with an "ignored" note
// rather than counting against the failure stats.
func (o *Orchestrator) auditRejected(ctx context.Context, ref Ref, confidence float64) {
	if !o.cfg.Alert.AuditRejected {
		return
	}
	note := fmt.Sprintf("ignored: %s confidence %.2f below threshold %.2f",
		o.cfg.Detection.TargetLabel, confidence, o.cfg.Detection.MinConfidence)
	o.auditWrite(ctx, database.AlertRecord{
		Camera:       ref.Camera,
		Timestamp:    ref.Timestamp,
		AlertHandle:  ref.Handle,
		Success:      true,
		ErrorMessage: sql.NullString{String: note, Valid: true},
		DebugMode:    o.cfg.Debug,
	})
}

// auditWrite persists one record, logging but never propagating
// persistence failures so they cannot mask the run's primary error.
func (o *Orchestrator) auditWrite(ctx context.Context, rec database.AlertRecord) {
	if o.audit == nil {
		return
	}
	if _, err := o.audit.LogAlert(ctx, rec); err != nil {
		o.logger.Warn("audit write failed", zap.Error(err))
	}
}

// cleanup removes run-local files best-effort. Cleanup errors are logged
// only; they never mask the run's result.
func (o *Orchestrator) cleanup(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			o.logger.Warn("failed to remove local file", zap.String("path", p), zap.Error(err))
		}
	}
}
