// Package bi is a typed client for the Blue Iris style DVR JSON API:
// challenge/response login, clip and alert lookup, and export submission.
// Every call is a single JSON POST; there is no persistent connection.
package bi

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SentinelHandle is the "unspecified" alert handle the DVR passes when the
// firing system has no concrete reference; resolution must fall through to
// the alertlist search.
const SentinelHandle = "@-1"

// Config contains DVR connection settings.
type Config struct {
	Host     string // base URL, e.g. "http://127.0.0.1:8191"
	Username string
	Password string
	Timeout  time.Duration
}

// ClipSegment is the resolved target of an export: a recorded source plus
// the window to cut from it. Never mutated after creation.
type ClipSegment struct {
	Path       string
	Camera     string
	OffsetMs   int
	DurationMs int
	Date       int64
	Confidence int // AI confidence percent from the listing stage, if known
}

// RawAlert is one entry from the alertlist command.
type RawAlert struct {
	Clip       string `json:"clip"`
	Camera     string `json:"camera"`
	Offset     int    `json:"offset"`
	Msec       int    `json:"msec"`
	Date       int64  `json:"date"`
	Memo       string `json:"memo"`
	Confidence int    `json:"-"` // filled in by memo filtering
}

// ExportJob carries what the export waiter needs to locate the output file.
type ExportJob struct {
	URI string
}

// Client talks to the DVR. The cached session is the only shared mutable
// state across concurrent runs; a losing racer simply performs a redundant
// (idempotent) login.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger

	mu      sync.Mutex
	session string
}

// NewClient creates a DVR client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: zap.L().Named("bi-client"),
	}
}

// envelope is the common DVR response shape.
type envelope struct {
	Result  string          `json:"result"`
	Session string          `json:"session"`
	Data    json.RawMessage `json:"data"`
}

// reasonData holds the error detail some commands put under data.
type reasonData struct {
	Reason string `json:"reason"`
	Status string `json:"status"`
}

func (c *Client) post(ctx context.Context, payload map[string]any) (*envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	url := c.cfg.Host + "/json"
	c.logger.Debug("BI POST", zap.String("cmd", fmt.Sprint(payload["cmd"])), zap.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	c.logger.Debug("BI RESP", zap.String("result", env.Result))
	return &env, nil
}

func (e *envelope) reason() string {
	var rd reasonData
	if len(e.Data) > 0 {
		_ = json.Unmarshal(e.Data, &rd)
	}
	if rd.Reason != "" {
		return rd.Reason
	}
	return rd.Status
}

// Login performs the two-step challenge/response handshake and caches the
// resulting session. It never reports success with an empty session.
func (c *Client) Login(ctx context.Context) (string, error) {
	r1, err := c.post(ctx, map[string]any{"cmd": "login"})
	if err != nil {
		return "", &AuthError{Op: "challenge", Err: err}
	}
	if r1.Session == "" {
		return "", &AuthError{Op: "challenge", Err: fmt.Errorf("no session in response")}
	}

	response := md5Hex(fmt.Sprintf("%s:%s:%s", c.cfg.Username, r1.Session, c.cfg.Password))
	r2, err := c.post(ctx, map[string]any{"cmd": "login", "session": r1.Session, "response": response})
	if err != nil {
		return "", &AuthError{Op: "response", Err: err}
	}
	if r2.Result != "success" {
		return "", &AuthError{Op: "response", Err: fmt.Errorf("result %q", r2.Result)}
	}

	c.mu.Lock()
	c.session = r1.Session
	c.mu.Unlock()

	c.logger.Info("logged in to Blue Iris", zap.String("session", r1.Session))
	return r1.Session, nil
}

// EnsureSession returns the cached session, logging in only when none is
// held. Session reuse is purely a performance optimization: every call
// path tolerates a fresh login.
func (c *Client) EnsureSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s != "" {
		return s, nil
	}
	return c.Login(ctx)
}

// Session returns the cached session token, possibly empty.
func (c *Client) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// SetSession installs an externally cached session (artifact reuse).
func (c *Client) SetSession(s string) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

// ValidateSession probes a candidate session with a cheap read-only call
// without touching the cached session. A clipstats on the candidate handle
// is preferred; otherwise a one-second alertlist. Any transport or semantic
// failure reports false rather than an error.
func (c *Client) ValidateSession(ctx context.Context, session, handle, camera string) bool {
	if session == "" {
		return false
	}

	var payload map[string]any
	switch {
	case handle != "" && handle != SentinelHandle:
		payload = map[string]any{"cmd": "clipstats", "session": session, "path": handle}
	case camera != "":
		payload = map[string]any{
			"cmd": "alertlist", "session": session, "camera": camera,
			"startdate": time.Now().Unix() - 1,
		}
	default:
		// Nothing to probe against; treat the candidate as usable.
		return true
	}

	env, err := c.post(ctx, payload)
	if err != nil {
		c.logger.Debug("session probe failed", zap.Error(err))
		return false
	}
	return env.Result == "success"
}

// ClipStats resolves an explicit alert handle to its clip segment. A
// non-success result or an empty clip path reports NotFoundError so the
// caller can fall through to the alertlist search.
func (c *Client) ClipStats(ctx context.Context, handle string) (ClipSegment, error) {
	session, err := c.EnsureSession(ctx)
	if err != nil {
		return ClipSegment{}, err
	}

	env, err := c.post(ctx, map[string]any{"cmd": "clipstats", "session": session, "path": handle})
	if err != nil {
		return ClipSegment{}, &UpstreamError{Op: "clipstats", Err: err}
	}
	if env.Result != "success" {
		return ClipSegment{}, &NotFoundError{Handle: handle, Reason: env.reason()}
	}

	var data struct {
		Path          string `json:"path"`
		TriggerOffset int    `json:"triggeroffset"`
		AlertMsec     int    `json:"alertmsec"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return ClipSegment{}, &UpstreamError{Op: "clipstats", Err: err}
	}
	if data.Path == "" {
		return ClipSegment{}, &NotFoundError{Handle: handle, Reason: "empty clip path"}
	}

	return ClipSegment{
		Path:       data.Path,
		OffsetMs:   data.TriggerOffset,
		DurationMs: data.AlertMsec,
	}, nil
}

// AlertList returns raw alerts for a camera since now minus lookback.
func (c *Client) AlertList(ctx context.Context, camera string, lookback time.Duration) ([]RawAlert, error) {
	session, err := c.EnsureSession(ctx)
	if err != nil {
		return nil, err
	}

	startdate := time.Now().Add(-lookback).Unix()
	env, err := c.post(ctx, map[string]any{
		"cmd": "alertlist", "session": session, "camera": camera, "startdate": startdate,
	})
	if err != nil {
		return nil, &UpstreamError{Op: "alertlist", Err: err}
	}
	if env.Result != "success" {
		return nil, &UpstreamError{Op: "alertlist", Reason: env.reason()}
	}

	var alerts []RawAlert
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &alerts); err != nil {
			return nil, &UpstreamError{Op: "alertlist", Err: err}
		}
	}
	return alerts, nil
}

// Export submits an asynchronous export of msec milliseconds starting at
// startMs within the recorded clip at path.
func (c *Client) Export(ctx context.Context, path string, startMs, msec int) (ExportJob, error) {
	session, err := c.EnsureSession(ctx)
	if err != nil {
		return ExportJob{}, err
	}

	env, err := c.post(ctx, map[string]any{
		"cmd": "export", "session": session, "path": path, "startms": startMs, "msec": msec,
	})
	if err != nil {
		return ExportJob{}, &ExportError{Path: path, Err: err}
	}
	if env.Result != "success" {
		return ExportJob{}, &ExportError{Path: path, Status: env.reason()}
	}

	var data struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return ExportJob{}, &ExportError{Path: path, Err: err}
	}

	c.logger.Info("export started", zap.String("path", path), zap.Int("startms", startMs), zap.Int("msec", msec))
	return ExportJob{URI: data.URI}, nil
}

func md5Hex(s string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(s)))
}
