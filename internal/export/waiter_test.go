package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mikeyg42/bialert/internal/bi"
)

func newTestWaiter(dir string) *Waiter {
	return NewWaiter(dir, 500*time.Millisecond, 20*time.Millisecond, 10*time.Millisecond)
}

func TestExpectedPath(t *testing.T) {
	w := newTestWaiter("/exports")

	got, err := w.ExpectedPath(bi.ExportJob{URI: `Clipboard\Yard.mp4`})
	if err != nil {
		t.Fatalf("ExpectedPath failed: %v", err)
	}
	want := filepath.Join("/exports", "Yard.mp4")
	if got != want {
		t.Fatalf("path = %q, want %q", got, want)
	}

	if _, err := w.ExpectedPath(bi.ExportJob{}); err == nil {
		t.Fatal("empty URI should be rejected")
	}
}

func TestWaitStableFileIsReady(t *testing.T) {
	dir := t.TempDir()
	w := newTestWaiter(dir)

	if err := os.WriteFile(filepath.Join(dir, "out.mp4"), []byte("complete video data"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := w.Wait(context.Background(), bi.ExportJob{URI: `Clipboard\out.mp4`})
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if got != filepath.Join(dir, "out.mp4") {
		t.Fatalf("path = %q", got)
	}
}

func TestWaitGrowingFileNeverReady(t *testing.T) {
	dir := t.TempDir()
	w := newTestWaiter(dir)
	path := filepath.Join(dir, "growing.mp4")

	// A writer that keeps appending for longer than the wait window; the
	// settle check must never report the file ready while it grows.
	stop := make(chan struct{})
	go func() {
		f, _ := os.Create(path)
		defer f.Close()
		ticker := time.NewTicker(3 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				f.Write([]byte("chunk"))
				f.Sync()
			}
		}
	}()
	defer close(stop)

	_, err := w.Wait(context.Background(), bi.ExportJob{URI: `Clipboard\growing.mp4`})
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError for growing file, got %v", err)
	}
}

func TestWaitZeroSizeFileNeverReady(t *testing.T) {
	dir := t.TempDir()
	w := newTestWaiter(dir)

	if err := os.WriteFile(filepath.Join(dir, "empty.mp4"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	_, err := w.Wait(context.Background(), bi.ExportJob{URI: `Clipboard\empty.mp4`})
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError for zero-size file, got %v", err)
	}
}

func TestWaitMissingFileTimesOut(t *testing.T) {
	dir := t.TempDir()
	w := newTestWaiter(dir)

	_, err := w.Wait(context.Background(), bi.ExportJob{URI: `Clipboard\never.mp4`})
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if te.File != "never.mp4" {
		t.Fatalf("timeout names %q, want never.mp4", te.File)
	}
}

func TestWaitLateArrivalSucceeds(t *testing.T) {
	dir := t.TempDir()
	w := NewWaiter(dir, 2*time.Second, 20*time.Millisecond, 10*time.Millisecond)
	path := filepath.Join(dir, "late.mp4")

	go func() {
		time.Sleep(100 * time.Millisecond)
		os.WriteFile(path, []byte("video"), 0644)
	}()

	got, err := w.Wait(context.Background(), bi.ExportJob{URI: `Clipboard\late.mp4`})
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if got != path {
		t.Fatalf("path = %q, want %q", got, path)
	}
}

func TestWaitHonorsCancellation(t *testing.T) {
	dir := t.TempDir()
	w := NewWaiter(dir, time.Minute, 20*time.Millisecond, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := w.Wait(ctx, bi.ExportJob{URI: `Clipboard\never.mp4`})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("cancellation did not interrupt the wait promptly")
	}
}
