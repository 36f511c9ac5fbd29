// Package detect submits frames to the object-detection inference service
// and applies the accept/reject gate.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ServiceError indicates the detection service was unreachable or reported
// its own internal failure.
type ServiceError struct {
	Host string
	Err  error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("detection service at %s failed: %v", e.Host, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Prediction is one detected object.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Config holds detection service settings.
type Config struct {
	Host    string // e.g. "http://localhost:32168"
	Timeout time.Duration
}

// Client calls the inference service's vision/detection endpoint.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a detection client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: zap.L().Named("detect-client"),
	}
}

// DetectObjects submits one image and returns the service's predictions.
func (c *Client) DetectObjects(ctx context.Context, imagePath string, minConfidence float64) ([]Prediction, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, &ServiceError{Host: c.cfg.Host, Err: err}
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filepath.Base(imagePath))
	if err != nil {
		return nil, &ServiceError{Host: c.cfg.Host, Err: err}
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, &ServiceError{Host: c.cfg.Host, Err: err}
	}
	if err := mw.WriteField("min_confidence", strconv.FormatFloat(minConfidence, 'f', -1, 64)); err != nil {
		return nil, &ServiceError{Host: c.cfg.Host, Err: err}
	}
	if err := mw.Close(); err != nil {
		return nil, &ServiceError{Host: c.cfg.Host, Err: err}
	}

	endpoint := c.cfg.Host + "/v1/vision/detection"
	c.logger.Debug("AI POST", zap.String("endpoint", endpoint))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, &ServiceError{Host: c.cfg.Host, Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ServiceError{Host: c.cfg.Host, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ServiceError{Host: c.cfg.Host, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var result struct {
		Success     bool         `json:"success"`
		Error       string       `json:"error"`
		Predictions []Prediction `json:"predictions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ServiceError{Host: c.cfg.Host, Err: err}
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "unknown error"
		}
		return nil, &ServiceError{Host: c.cfg.Host, Err: fmt.Errorf("detection failed: %s", msg)}
	}

	c.logger.Debug("AI predictions", zap.Int("count", len(result.Predictions)))
	return result.Predictions, nil
}

// Gate applies the accept/reject decision: accepted iff at least one
// prediction carries the target label at or above threshold. The best
// matching confidence is returned either way; rejection is a normal
// terminal outcome, not an error.
func Gate(preds []Prediction, label string, threshold float64) (bool, float64) {
	best := 0.0
	for _, p := range preds {
		if !strings.EqualFold(p.Label, label) {
			continue
		}
		if p.Confidence > best {
			best = p.Confidence
		}
	}
	return best >= threshold && best > 0, best
}
