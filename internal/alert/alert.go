// Package alert contains the orchestrator: the state machine that takes an
// inbound camera alert from resolution through export, gatekeeping,
// rendering, upload, notification, and audit.
package alert

import (
	"context"
	"time"

	"github.com/mikeyg42/bialert/internal/bi"
	"github.com/mikeyg42/bialert/internal/database"
	"github.com/mikeyg42/bialert/internal/detect"
	"github.com/mikeyg42/bialert/internal/session"
)

// Ref identifies the triggering event as handed to the system. It is
// immutable for the lifetime of a run; the timestamp keeps the origin
// system's human-readable format and is never renormalized.
type Ref struct {
	Camera    string
	Timestamp string
	Handle    string // opaque id, or bi.SentinelHandle for "look it up"
}

// Outcome is the terminal result of a successful (non-failed) run.
// Rejected marks the gatekeeper's clean stop: no render, upload, or notify
// happened and that is not an error.
type Outcome struct {
	Ref        Ref
	Rejected   bool
	Confidence float64 // best gatekeeper confidence for the target label
	GifURL     string
	JpegURLs   []string
	Elapsed    time.Duration
}

// DVRClient is the orchestrator's view of the camera server API.
type DVRClient interface {
	Login(ctx context.Context) (string, error)
	EnsureSession(ctx context.Context) (string, error)
	SetSession(session string)
	ValidateSession(ctx context.Context, session, handle, camera string) bool
	ClipStats(ctx context.Context, handle string) (bi.ClipSegment, error)
	FindRecentAIAlert(ctx context.Context, camera string, lookback time.Duration, object string, minConfidence int) (bi.ClipSegment, error)
	Export(ctx context.Context, path string, startMs, msec int) (bi.ExportJob, error)
}

// ExportWaiter blocks until an export job's output file is ready.
type ExportWaiter interface {
	Wait(ctx context.Context, job bi.ExportJob) (string, error)
}

// Detector submits one frame to the inference service.
type Detector interface {
	DetectObjects(ctx context.Context, imagePath string, minConfidence float64) ([]detect.Prediction, error)
}

// Renderer produces preview media from the exported clip.
type Renderer interface {
	RenderGIF(srcPath, camera string) (string, error)
	ExtractMidFrame(srcPath, camera string) (string, error)
	ExtractStills(srcPath, camera string) ([]string, error)
}

// Uploader pushes rendered assets to object storage.
type Uploader interface {
	UploadFile(ctx context.Context, localPath, prefix string) (string, error)
	UploadMany(ctx context.Context, localPaths []string, prefix string) []string
}

// Notifier delivers the outcome to the downstream workflow webhook.
type Notifier interface {
	SendAlert(ctx context.Context, camera, timestamp, gifURL string, jpegURLs []string) (int, error)
}

// AuditStore persists one record per run.
type AuditStore interface {
	LogAlert(ctx context.Context, rec database.AlertRecord) (string, error)
}

// ArtifactStore caches the DVR session and last alert between runs.
type ArtifactStore interface {
	Load() session.Artifact
	SaveSession(s string) error
	SaveRun(handle, camera, timestamp string) error
}
