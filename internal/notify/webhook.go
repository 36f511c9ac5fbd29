// Package notify posts alert metadata and asset URLs to the downstream
// workflow webhook.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// NotifyError indicates the webhook could not be delivered after exhausting
// the retry budget, or failed for a non-retryable reason.
type NotifyError struct {
	Attempts int
	Err      error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("webhook failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *NotifyError) Unwrap() error { return e.Err }

// Config holds webhook settings.
type Config struct {
	URL        string
	AuthHeader string // full Authorization header value
	Timeout    time.Duration
	Retries    int           // total attempts
	Backoff    time.Duration // base of the linear backoff (attempt * base)
}

// Notifier delivers form-encoded alert notifications. Only connection and
// timeout errors are retried, with linearly increasing backoff; an HTTP
// response of any status counts as delivered and is surfaced to the caller.
type Notifier struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewNotifier creates a notifier.
func NewNotifier(cfg Config) *Notifier {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retries == 0 {
		cfg.Retries = 3
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = 2 * time.Second
	}
	return &Notifier{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: zap.L().Named("webhook-notifier"),
	}
}

// SendAlert posts the alert payload and returns the webhook's HTTP status.
func (n *Notifier) SendAlert(ctx context.Context, camera, timestamp, gifURL string, jpegURLs []string) (int, error) {
	form := url.Values{
		"camera":     {camera},
		"timestamp":  {timestamp},
		"has_gif":    {"true"},
		"minio_url":  {gifURL},
		"gif_source": {"minio"},
	}
	if len(jpegURLs) > 0 {
		form.Set("has_jpegs", "true")
		form.Set("jpeg_count", strconv.Itoa(len(jpegURLs)))
		form.Set("jpeg_urls", strings.Join(jpegURLs, ","))
	}
	body := form.Encode()

	attempt := 0
	var status int
	op := func() error {
		attempt++
		n.logger.Debug("webhook attempt", zap.Int("attempt", attempt), zap.String("url", n.cfg.URL))

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, strings.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if n.cfg.AuthHeader != "" {
			req.Header.Set("Authorization", n.cfg.AuthHeader)
		}

		resp, err := n.http.Do(req)
		if err != nil {
			if isRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		resp.Body.Close()
		status = resp.StatusCode
		return nil
	}

	bo := backoff.WithContext(newLinearBackOff(n.cfg.Backoff, n.cfg.Retries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return 0, &NotifyError{Attempts: attempt, Err: err}
	}

	n.logger.Info("webhook sent", zap.Int("status", status), zap.Int("attempts", attempt))
	return status, nil
}

// isRetryable reports whether err is a connection or timeout failure.
// Anything else (including context cancellation) is fatal immediately.
func isRetryable(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// linearBackOff waits attempt*base between tries and stops after
// maxAttempts total attempts.
type linearBackOff struct {
	base        time.Duration
	maxAttempts int
	attempt     int
}

func newLinearBackOff(base time.Duration, maxAttempts int) *linearBackOff {
	return &linearBackOff{base: base, maxAttempts: maxAttempts}
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.attempt >= b.maxAttempts {
		return backoff.Stop
	}
	return time.Duration(b.attempt) * b.base
}

func (b *linearBackOff) Reset() { b.attempt = 0 }
