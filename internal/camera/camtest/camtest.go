// Package camtest provides in-memory camera sources for tests.
package camtest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"

	"sitewatch/internal/camera"
)

// JPEG encodes a solid grey image of the given size.
func JPEG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 90, G: 90, B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Frame builds a frame with a valid JPEG payload.
func Frame(cam, w, h int, ts time.Time) *camera.Frame {
	return &camera.Frame{Camera: cam, Data: JPEG(w, h), Width: w, Height: h, Timestamp: ts}
}

// Source is a scripted camera. Each Open consumes the next error in
// OpenErrs (nil means success); each successful read returns a fresh frame.
type Source struct {
	Idx    int
	Width  int
	Height int

	mu       sync.Mutex
	OpenErrs []error
	opens    int
	reads    int
	closes   int
}

// NewSource returns a source producing w x h frames.
func NewSource(idx, w, h int) *Source {
	return &Source{Idx: idx, Width: w, Height: h}
}

func (s *Source) Index() int { return s.Idx }

func (s *Source) Open(ctx context.Context) (camera.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if len(s.OpenErrs) > 0 {
		err := s.OpenErrs[0]
		s.OpenErrs = s.OpenErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &conn{src: s}, nil
}

// Fail makes the next n opens return ErrConnectionFailed.
func (s *Source) Fail(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.OpenErrs = append(s.OpenErrs, camera.ErrConnectionFailed)
	}
}

// Counts reports opens, reads and closes so far.
func (s *Source) Counts() (opens, reads, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens, s.reads, s.closes
}

type conn struct {
	src *Source
}

func (c *conn) ReadFrame(ctx context.Context) (*camera.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.src.mu.Lock()
	c.src.reads++
	c.src.mu.Unlock()
	return Frame(c.src.Idx, c.src.Width, c.src.Height, time.Now()), nil
}

func (c *conn) Close() error {
	c.src.mu.Lock()
	c.src.closes++
	c.src.mu.Unlock()
	return nil
}
