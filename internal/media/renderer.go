// Package media renders preview assets (animated GIF, still JPEGs) from an
// exported alert clip.
package media

import (
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// RenderError indicates preview rendering produced nothing usable. A
// missing GIF is fatal to the run; missing stills are not.
type RenderError struct {
	Op   string
	Path string
	Err  error
}

func (e *RenderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("render %s of %s failed: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("render %s of %s failed", e.Op, e.Path)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Config holds rendering parameters.
type Config struct {
	WorkDir     string // GIFs land here, stills under WorkDir/frames
	GIFDuration int    // seconds of source to cover
	GIFFPS      int
	MaxWidth    int // downscale cap; 0 disables
	JPEGQuality int
}

// Renderer produces preview media with OpenCV decoding.
type Renderer struct {
	cfg    Config
	logger *zap.Logger
}

// NewRenderer creates a renderer.
func NewRenderer(cfg Config) *Renderer {
	if cfg.GIFDuration == 0 {
		cfg.GIFDuration = 6
	}
	if cfg.GIFFPS == 0 {
		cfg.GIFFPS = 5
	}
	if cfg.JPEGQuality == 0 {
		cfg.JPEGQuality = 95
	}
	return &Renderer{cfg: cfg, logger: zap.L().Named("media-renderer")}
}

// RenderGIF samples srcPath at the configured rate and writes an animated
// looping GIF named for the camera. Sources shorter than the requested
// duration contribute whatever frames they have; zero decodable frames is
// a RenderError.
func (r *Renderer) RenderGIF(srcPath, camera string) (string, error) {
	if err := os.MkdirAll(r.cfg.WorkDir, 0755); err != nil {
		return "", &RenderError{Op: "gif", Path: srcPath, Err: err}
	}

	cap, err := gocv.VideoCaptureFile(srcPath)
	if err != nil {
		return "", &RenderError{Op: "gif", Path: srcPath, Err: err}
	}
	defer cap.Close()

	totalFrames := int(cap.Get(gocv.VideoCaptureFrameCount))
	width := int(cap.Get(gocv.VideoCaptureFrameWidth))
	height := int(cap.Get(gocv.VideoCaptureFrameHeight))

	want := r.cfg.GIFDuration * r.cfg.GIFFPS
	step := 1
	if totalFrames > want && want > 0 {
		step = totalFrames / want
	}

	targetW, targetH := width, height
	if r.cfg.MaxWidth > 0 && width > r.cfg.MaxWidth {
		targetW = r.cfg.MaxWidth
		targetH = height * targetW / width
	}

	frame := gocv.NewMat()
	defer frame.Close()
	scaled := gocv.NewMat()
	defer scaled.Close()

	anim := &gif.GIF{LoopCount: 0}
	delay := 100 / r.cfg.GIFFPS // gif delays are in 1/100s

	frameCount := 0
	for len(anim.Image) < want {
		if ok := cap.Read(&frame); !ok || frame.Empty() {
			break
		}
		if frameCount%step == 0 {
			src := frame
			if targetW != width {
				gocv.Resize(frame, &scaled, image.Pt(targetW, targetH), 0, 0, gocv.InterpolationLinear)
				src = scaled
			}
			img, err := src.ToImage()
			if err != nil {
				frameCount++
				continue
			}
			anim.Image = append(anim.Image, quantize(img))
			anim.Delay = append(anim.Delay, delay)
		}
		frameCount++
	}

	if len(anim.Image) == 0 {
		return "", &RenderError{Op: "gif", Path: srcPath, Err: fmt.Errorf("no frames extracted")}
	}

	gifPath := filepath.Join(r.cfg.WorkDir, gifFilename(camera))
	out, err := os.Create(gifPath)
	if err != nil {
		return "", &RenderError{Op: "gif", Path: srcPath, Err: err}
	}
	defer out.Close()
	if err := gif.EncodeAll(out, anim); err != nil {
		return "", &RenderError{Op: "gif", Path: srcPath, Err: err}
	}

	r.logger.Info("GIF created", zap.String("path", gifPath), zap.Int("frames", len(anim.Image)))
	return gifPath, nil
}

// ExtractMidFrame grabs the temporal midpoint of srcPath as a JPEG. This
// frame doubles as the gatekeeper's detection input.
func (r *Renderer) ExtractMidFrame(srcPath, camera string) (string, error) {
	dir := filepath.Join(r.cfg.WorkDir, "frames")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", &RenderError{Op: "midframe", Path: srcPath, Err: err}
	}

	cap, err := gocv.VideoCaptureFile(srcPath)
	if err != nil {
		return "", &RenderError{Op: "midframe", Path: srcPath, Err: err}
	}
	defer cap.Close()

	totalFrames := int(cap.Get(gocv.VideoCaptureFrameCount))
	if totalFrames <= 0 {
		return "", &RenderError{Op: "midframe", Path: srcPath, Err: fmt.Errorf("frame count reported as %d", totalFrames)}
	}

	cap.Set(gocv.VideoCapturePosFrames, float64(totalFrames/2))

	frame := gocv.NewMat()
	defer frame.Close()
	if ok := cap.Read(&frame); !ok || frame.Empty() {
		return "", &RenderError{Op: "midframe", Path: srcPath, Err: fmt.Errorf("failed to read middle frame")}
	}

	jpegPath := filepath.Join(dir, fmt.Sprintf("%s_%s_mid.jpg", camera, timeTag()))
	if ok := gocv.IMWriteWithParams(jpegPath, frame, []int{gocv.IMWriteJpegQuality, r.cfg.JPEGQuality}); !ok {
		return "", &RenderError{Op: "midframe", Path: srcPath, Err: fmt.Errorf("imwrite failed")}
	}

	r.logger.Info("extracted mid-frame JPEG", zap.String("path", jpegPath))
	return jpegPath, nil
}

// ExtractStills pulls JPEGs at fixed points of interest: near the 2s mark,
// near the end (duration-3s) when the clip is long enough, and every 5s
// from the start. Per-timestamp failures are tolerated; the result is
// whatever succeeded.
func (r *Renderer) ExtractStills(srcPath, camera string) ([]string, error) {
	dir := filepath.Join(r.cfg.WorkDir, "frames")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &RenderError{Op: "stills", Path: srcPath, Err: err}
	}

	cap, err := gocv.VideoCaptureFile(srcPath)
	if err != nil {
		return nil, &RenderError{Op: "stills", Path: srcPath, Err: err}
	}
	defer cap.Close()

	fps := cap.Get(gocv.VideoCaptureFPS)
	totalFrames := int(cap.Get(gocv.VideoCaptureFrameCount))
	if fps <= 0 || totalFrames <= 0 {
		return nil, &RenderError{Op: "stills", Path: srcPath, Err: fmt.Errorf("unreadable video properties")}
	}
	duration := float64(totalFrames) / fps

	times := StillTimestamps(duration)

	frame := gocv.NewMat()
	defer frame.Close()

	tag := timeTag()
	var extracted []string
	for i, t := range times {
		cap.Set(gocv.VideoCapturePosFrames, float64(int(t*fps)))
		if ok := cap.Read(&frame); !ok || frame.Empty() {
			continue
		}
		name := fmt.Sprintf("%s_%s_frame_%02d_%.1fs.jpg", camera, tag, i+1, t)
		path := filepath.Join(dir, name)
		if ok := gocv.IMWriteWithParams(path, frame, []int{gocv.IMWriteJpegQuality, r.cfg.JPEGQuality}); ok {
			extracted = append(extracted, path)
		}
	}

	r.logger.Info("extracted still frames", zap.Int("count", len(extracted)))
	return extracted, nil
}

// StillTimestamps computes the extraction points for a clip of the given
// duration in seconds: 2s and duration-3s when the clip is long enough,
// plus every 5s from zero, deduplicated and ascending.
func StillTimestamps(duration float64) []float64 {
	seen := make(map[float64]bool)
	var times []float64
	add := func(t float64) {
		if t >= 0 && t < duration && !seen[t] {
			seen[t] = true
			times = append(times, t)
		}
	}

	if duration > 2 {
		add(2.0)
	}
	if duration > 3 {
		add(duration - 3.0)
	}
	for t := 0.0; t < duration; t += 5.0 {
		add(t)
	}

	sort.Float64s(times)
	return times
}

// quantize converts a decoded frame to the paletted form GIF requires.
func quantize(img image.Image) *image.Paletted {
	b := img.Bounds()
	p := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), palette.Plan9)
	draw.FloydSteinberg.Draw(p, p.Bounds(), img, b.Min)
	return p
}

func gifFilename(camera string) string {
	return fmt.Sprintf("%s_%s.gif", camera, timeTag())
}

func timeTag() string {
	return time.Now().Format("010206_150405")
}
