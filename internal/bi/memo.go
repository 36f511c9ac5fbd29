package bi

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"go.uber.org/zap"
)

// ParseMemo extracts the AI confidence percent for object from a DVR alert
// memo like "person:72%". A missing or non-matching memo yields (0, false);
// it is never an error.
func ParseMemo(memo, object string) (int, bool) {
	if memo == "" || object == "" {
		return 0, false
	}
	re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(object) + `:(\d+)%`)
	if err != nil {
		return 0, false
	}
	m := re.FindStringSubmatch(memo)
	if m == nil {
		return 0, false
	}
	var conf int
	fmt.Sscanf(m[1], "%d", &conf)
	return conf, true
}

// FindRecentAIAlert runs the fallback search: list alerts inside the
// lookback window, keep those whose memo confidence for object meets
// minConfidence, and pick the most recent survivor. An empty listing or
// zero survivors reports NoMatchError.
func (c *Client) FindRecentAIAlert(ctx context.Context, camera string, lookback time.Duration, object string, minConfidence int) (ClipSegment, error) {
	alerts, err := c.AlertList(ctx, camera, lookback)
	if err != nil {
		return ClipSegment{}, err
	}

	var valid []RawAlert
	for _, a := range alerts {
		if conf, ok := ParseMemo(a.Memo, object); ok && conf >= minConfidence {
			a.Confidence = conf
			valid = append(valid, a)
		}
	}
	if len(valid) == 0 {
		return ClipSegment{}, &NoMatchError{
			Camera: camera, Object: object, MinConfidence: minConfidence, Lookback: lookback,
		}
	}

	sort.Slice(valid, func(i, j int) bool { return valid[i].Date > valid[j].Date })
	sel := valid[0]

	c.logger.Info("fallback search selected alert",
		zap.String("clip", sel.Clip),
		zap.Int64("date", sel.Date),
		zap.Int("confidence", sel.Confidence))

	seg := ClipSegment{
		Path:       sel.Clip,
		Camera:     sel.Camera,
		OffsetMs:   sel.Offset,
		DurationMs: sel.Msec,
		Date:       sel.Date,
		Confidence: sel.Confidence,
	}
	if seg.Camera == "" {
		seg.Camera = camera
	}
	return seg, nil
}
