package bi

import (
	"fmt"
	"time"
)

// AuthError indicates the two-step login handshake was rejected or returned
// a malformed response.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("blue iris auth failed during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("blue iris auth failed during %s", e.Op)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NotFoundError indicates a handle lookup that did not resolve to a clip.
// Callers branch to the alertlist fallback on this; it is not a system
// failure.
type NotFoundError struct {
	Handle string
	Reason string
}

func (e *NotFoundError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("alert handle %s did not resolve: %s", e.Handle, e.Reason)
	}
	return fmt.Sprintf("alert handle %s did not resolve", e.Handle)
}

// UpstreamError indicates the DVR API returned a non-success result or the
// transport failed for a call that should have succeeded.
type UpstreamError struct {
	Op     string
	Reason string
	Err    error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("blue iris %s failed: %v", e.Op, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("blue iris %s failed: %s", e.Op, e.Reason)
	default:
		return fmt.Sprintf("blue iris %s failed", e.Op)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// NoMatchError indicates the fallback alert search found nothing meeting
// the AI-confidence threshold inside the lookback window.
type NoMatchError struct {
	Camera        string
	Object        string
	MinConfidence int
	Lookback      time.Duration
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no alerts for camera %s with %s >= %d%% in last %s",
		e.Camera, e.Object, e.MinConfidence, e.Lookback)
}

// ExportError indicates the export request itself was rejected.
type ExportError struct {
	Path   string
	Status string
	Err    error
}

func (e *ExportError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("export of %s failed: %v", e.Path, e.Err)
	case e.Status != "":
		return fmt.Sprintf("export of %s failed: %s", e.Path, e.Status)
	default:
		return fmt.Sprintf("export of %s failed", e.Path)
	}
}

func (e *ExportError) Unwrap() error { return e.Err }
