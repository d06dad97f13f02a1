package pipeline

import (
	"errors"
	"fmt"
	"time"

	"sitewatch/internal/camera"
)

// ErrOutOfOrder is returned by Add for a frame older than the last frame
// buffered for the same camera.
var ErrOutOfOrder = errors.New("frame older than buffered frame")

// Aligner buffers frames per camera and groups them into aligned sets.
// It is owned by the capture worker and is not safe for concurrent use.
type Aligner struct {
	buffers      [][]*camera.Frame
	maxPerCamera int
}

// NewAligner creates an aligner for a fixed number of cameras. maxPerCamera
// bounds each buffer; the oldest frame is discarded when it is exceeded.
// Zero disables the bound.
func NewAligner(cameras, maxPerCamera int) *Aligner {
	return &Aligner{
		buffers:      make([][]*camera.Frame, cameras),
		maxPerCamera: maxPerCamera,
	}
}

// Cameras returns the number of camera buffers.
func (a *Aligner) Cameras() int { return len(a.buffers) }

// Add appends a frame to its camera's buffer. Timestamps within a buffer
// never decrease; an older frame is rejected with ErrOutOfOrder.
func (a *Aligner) Add(f *camera.Frame) error {
	if f == nil {
		return fmt.Errorf("nil frame")
	}
	if f.Camera < 0 || f.Camera >= len(a.buffers) {
		return fmt.Errorf("frame from unknown camera %d (have %d)", f.Camera, len(a.buffers))
	}

	buf := a.buffers[f.Camera]
	if n := len(buf); n > 0 && f.Timestamp.Before(buf[n-1].Timestamp) {
		return fmt.Errorf("%w: camera %d at %s, last %s", ErrOutOfOrder, f.Camera,
			f.Timestamp.Format(time.RFC3339Nano), buf[n-1].Timestamp.Format(time.RFC3339Nano))
	}

	buf = append(buf, f)
	if a.maxPerCamera > 0 && len(buf) > a.maxPerCamera {
		buf = buf[len(buf)-a.maxPerCamera:]
	}
	a.buffers[f.Camera] = buf
	return nil
}

// Pending returns the number of buffered frames per camera.
func (a *Aligner) Pending() []int {
	counts := make([]int, len(a.buffers))
	for i, buf := range a.buffers {
		counts[i] = len(buf)
	}
	return counts
}

// Align emits one frame per camera once every buffer holds at least one
// frame. The reference time is the earliest first-buffered timestamp; from
// each buffer the frame closest to it is chosen, earlier frames winning
// ties. All buffers are cleared after a set is emitted.
func (a *Aligner) Align() (AlignedSet, bool) {
	if len(a.buffers) == 0 {
		return nil, false
	}

	var ref time.Time
	for i, buf := range a.buffers {
		if len(buf) == 0 {
			return nil, false
		}
		if i == 0 || buf[0].Timestamp.Before(ref) {
			ref = buf[0].Timestamp
		}
	}

	set := make(AlignedSet, len(a.buffers))
	for i, buf := range a.buffers {
		best := buf[0]
		bestDist := absDuration(best.Timestamp.Sub(ref))
		for _, f := range buf[1:] {
			if d := absDuration(f.Timestamp.Sub(ref)); d < bestDist {
				best, bestDist = f, d
			}
		}
		set[i] = best
	}

	a.Reset()
	return set, true
}

// Reset discards every buffered frame.
func (a *Aligner) Reset() {
	for i := range a.buffers {
		a.buffers[i] = nil
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
