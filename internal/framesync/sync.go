// Package framesync pairs calibration target records with decoded video
// frames, either by reading an on-screen frame counter or by seeking to a
// timestamp shifted by a fixed clock offset.
package framesync

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"vr-screenmap/internal/monitoring"
	"vr-screenmap/internal/table"
	"vr-screenmap/internal/video"
	"vr-screenmap/pkg/geometry"

	"gocv.io/x/gocv"
)

// ErrNoMatches is returned when a video is exhausted before any target was
// paired with a frame.
var ErrNoMatches = errors.New("no target frames matched")

// Policy selects the synchronization strategy.
type Policy int

const (
	PolicyUnset Policy = iota
	PolicyCounter
	PolicyOffset
)

func (p Policy) String() string {
	switch p {
	case PolicyCounter:
		return "counter"
	case PolicyOffset:
		return "offset"
	}
	return "unset"
}

// ParsePolicy parses "counter" or "offset".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "counter":
		return PolicyCounter, nil
	case "offset":
		return PolicyOffset, nil
	case "":
		return PolicyUnset, errors.New("sync policy is required (counter or offset)")
	}
	return PolicyUnset, fmt.Errorf("unknown sync policy %q (want counter or offset)", s)
}

// FrameNumberer recovers the frame counter rendered inside roi.
type FrameNumberer interface {
	FrameNumber(frame gocv.Mat, roi geometry.Region) (int, bool)
}

// Match pairs a target with the decoded frame chosen for it. Image is owned
// by the match.
type Match struct {
	Target     table.TargetRecord
	FrameIndex int
	Counter    int
	Image      gocv.Mat
}

// Stats counts what happened during a synchronization run.
type Stats struct {
	Decoded      int
	Unrecognized int
	Dropped      int
	Unmatched    int
}

// Result is the output of a synchronization run.
type Result struct {
	Matches []Match
	Stats   Stats
}

// Close releases every matched frame.
func (r *Result) Close() {
	for i := range r.Matches {
		r.Matches[i].Image.Close()
	}
	r.Matches = nil
}

// Cursor points into the ascending list of target frame numbers still to be
// matched. It is a value; Advance returns the next cursor.
type Cursor struct {
	frames []int
	pos    int
}

// NewCursor creates a cursor over frames, which must be sorted ascending.
func NewCursor(frames []int) Cursor {
	return Cursor{frames: frames}
}

// Advance consumes one decoded frame's counter. When the counter strictly
// exceeds the pending target, that target is matched and the cursor moves
// on. At most one target is matched per call.
func (c Cursor) Advance(counter int, ok bool) (Cursor, int, bool) {
	if !ok || c.Done() {
		return c, 0, false
	}
	target := c.frames[c.pos]
	if counter > target {
		c.pos++
		return c, target, true
	}
	return c, 0, false
}

// Done reports whether every target has been matched.
func (c Cursor) Done() bool {
	return c.pos >= len(c.frames)
}

// Remaining returns the number of unmatched targets.
func (c Cursor) Remaining() int {
	return len(c.frames) - c.pos
}

// SyncByCounter decodes src from its current position, reads the counter in
// roi of every frame and pairs each target with the first frame whose
// counter has advanced past the target's frame number. Targets without a
// frame number are dropped, as are later records sharing a frame number.
func SyncByCounter(ctx context.Context, src video.Source, oracle FrameNumberer, roi geometry.Region, targets []table.TargetRecord) (Result, error) {
	var res Result

	byFrame := make(map[int]table.TargetRecord, len(targets))
	var frames []int
	for _, t := range targets {
		if !t.HasFrame {
			monitoring.Logf("[sync] target %d has no frame number, dropping", t.TargetID)
			res.Stats.Dropped++
			continue
		}
		if prev, dup := byFrame[t.Frame]; dup {
			monitoring.Logf("[sync] target %d shares frame %d with target %d, dropping", t.TargetID, t.Frame, prev.TargetID)
			res.Stats.Dropped++
			continue
		}
		byFrame[t.Frame] = t
		frames = append(frames, t.Frame)
	}
	sort.Ints(frames)

	cur := NewCursor(frames)
	img := gocv.NewMat()
	defer img.Close()

	for idx := 0; !cur.Done(); idx++ {
		if err := ctx.Err(); err != nil {
			res.Close()
			return res, err
		}
		if !src.Read(&img) {
			monitoring.Logf("[sync] no frame at index %d, ending frame analysis", idx)
			break
		}
		res.Stats.Decoded++

		counter, ok := oracle.FrameNumber(img, roi)
		if !ok {
			res.Stats.Unrecognized++
		}
		var target int
		var matched bool
		cur, target, matched = cur.Advance(counter, ok)
		if !matched {
			continue
		}
		res.Matches = append(res.Matches, Match{
			Target:     byFrame[target],
			FrameIndex: idx,
			Counter:    counter,
			Image:      img.Clone(),
		})
	}

	res.Stats.Unmatched = cur.Remaining()
	if len(res.Matches) == 0 {
		return res, ErrNoMatches
	}
	if cur.Done() {
		monitoring.Logf("[sync] all %d target frames matched after %d frames", len(res.Matches), res.Stats.Decoded)
	} else {
		monitoring.Logf("[sync] video exhausted with %d of %d targets unmatched", res.Stats.Unmatched, len(frames))
	}
	return res, nil
}

// SyncByOffset pairs each target with the frame at
// floor((timestamp + offsetSeconds) * fps). Targets whose frame cannot be
// seeked or decoded are logged and dropped. Matches are ordered by
// timestamp.
func SyncByOffset(ctx context.Context, src video.Source, targets []table.TargetRecord, offsetSeconds float64) (Result, error) {
	var res Result

	fps := src.FPS()
	if fps <= 0 || math.IsNaN(fps) {
		return res, fmt.Errorf("video reports invalid frame rate %g", fps)
	}

	sorted := make([]table.TargetRecord, 0, len(targets))
	for _, t := range targets {
		if !t.HasTimestamp {
			monitoring.Logf("[sync] target %d has no timestamp, dropping", t.TargetID)
			res.Stats.Dropped++
			continue
		}
		sorted = append(sorted, t)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	img := gocv.NewMat()
	defer img.Close()

	for _, t := range sorted {
		if err := ctx.Err(); err != nil {
			res.Close()
			return res, err
		}
		idx := int(math.Floor((t.Timestamp + offsetSeconds) * fps))
		if idx < 0 {
			monitoring.Logf("[sync] target %d maps to negative frame %d, dropping", t.TargetID, idx)
			res.Stats.Dropped++
			continue
		}
		if err := src.Seek(idx); err != nil {
			monitoring.Logf("[sync] target %d: %v, dropping", t.TargetID, err)
			res.Stats.Dropped++
			continue
		}
		if !src.Read(&img) {
			monitoring.Logf("[sync] target %d: no frame at index %d, dropping", t.TargetID, idx)
			res.Stats.Dropped++
			continue
		}
		res.Stats.Decoded++
		res.Matches = append(res.Matches, Match{
			Target:     t,
			FrameIndex: idx,
			Counter:    idx,
			Image:      img.Clone(),
		})
	}

	if len(res.Matches) == 0 {
		return res, ErrNoMatches
	}
	return res, nil
}

// Sync dispatches to the strategy selected by policy.
func Sync(ctx context.Context, policy Policy, src video.Source, oracle FrameNumberer, roi geometry.Region, offsetSeconds float64, targets []table.TargetRecord) (Result, error) {
	switch policy {
	case PolicyCounter:
		if oracle == nil {
			return Result{}, errors.New("counter sync requires a frame number oracle")
		}
		if roi.Empty() {
			return Result{}, errors.New("counter sync requires a non-empty counter region")
		}
		return SyncByCounter(ctx, src, oracle, roi, targets)
	case PolicyOffset:
		return SyncByOffset(ctx, src, targets, offsetSeconds)
	}
	return Result{}, fmt.Errorf("sync policy %s is not runnable", policy)
}
