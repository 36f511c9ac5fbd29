// Package export waits for an asynchronous DVR export job to materialize
// its output file on disk.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/bialert/internal/bi"
)

// TimeoutError indicates the exported file never appeared (or never
// stabilized) inside the wait window.
type TimeoutError struct {
	File    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s waiting for exported file: %s", e.Timeout, e.File)
}

// Waiter polls for the exported artifact. The DVR gives no completion
// signal beyond the file itself, so bounded polling with a settle check is
// the only option: a file whose size changes between two checks is still
// being written by the export process and is never returned as ready.
type Waiter struct {
	ExportDir    string
	Timeout      time.Duration
	PollInterval time.Duration
	SettleDelay  time.Duration

	logger *zap.Logger
}

// NewWaiter creates a waiter with the given bounds.
func NewWaiter(exportDir string, timeout, poll, settle time.Duration) *Waiter {
	return &Waiter{
		ExportDir:    exportDir,
		Timeout:      timeout,
		PollInterval: poll,
		SettleDelay:  settle,
		logger:       zap.L().Named("export-waiter"),
	}
}

// ExpectedPath derives the on-disk location of the export output from the
// job URI. The DVR reports URIs like `Clipboard\foo.mp4` relative to its
// clipboard directory, with Windows separators regardless of host OS.
func (w *Waiter) ExpectedPath(job bi.ExportJob) (string, error) {
	if job.URI == "" {
		return "", fmt.Errorf("no URI in export response")
	}
	cleaned := strings.TrimPrefix(job.URI, `Clipboard\`)
	cleaned = strings.ReplaceAll(cleaned, `\`, string(os.PathSeparator))
	return filepath.Join(w.ExportDir, cleaned), nil
}

// Wait blocks until the exported file exists with a stable non-zero size,
// the wait window elapses, or ctx is cancelled.
func (w *Waiter) Wait(ctx context.Context, job bi.ExportJob) (string, error) {
	expected, err := w.ExpectedPath(job)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(w.ExportDir, 0755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	w.logger.Info("waiting for exported file", zap.String("file", expected))

	deadline := time.Now().Add(w.Timeout)
	for time.Now().Before(deadline) {
		if size, ok := fileSize(expected); ok {
			if err := sleepCtx(ctx, w.SettleDelay); err != nil {
				return "", err
			}
			if size2, ok2 := fileSize(expected); ok2 && size2 == size && size2 > 0 {
				w.logger.Info("exported file ready", zap.String("file", expected), zap.Int64("size", size2))
				return expected, nil
			}
		}
		if err := sleepCtx(ctx, w.PollInterval); err != nil {
			return "", err
		}
	}

	return "", &TimeoutError{File: filepath.Base(expected), Timeout: w.Timeout}
}

func fileSize(path string) (int64, bool) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return fi.Size(), true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
