package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"sitewatch/internal/camera"
	"sitewatch/internal/database"
	"sitewatch/internal/detection"
	"sitewatch/internal/pipeline"
)

var (
	// ErrPersistenceFailed wraps directory and file write failures.
	ErrPersistenceFailed = errors.New("persistence failed")
	// ErrNoImage is returned when a camera has no saved images yet.
	ErrNoImage = errors.New("no saved image")
)

// Alerter delivers an alert asynchronously. Submit must not block.
type Alerter interface {
	SubmitAlert(message string, image []byte) error
}

// EventIndex records persisted detections for later querying.
type EventIndex interface {
	SaveEvent(ctx context.Context, event *database.EventRecord) error
}

// Publisher is notified after every saved frame.
type Publisher interface {
	Publish(event *pipeline.DetectionEvent)
}

// Config wires the sink's optional collaborators.
type Config struct {
	Root    string
	Alerter Alerter
	Index   EventIndex
	Events  Publisher
}

// Sink writes frames and detection records to disk and raises alerts.
type Sink struct {
	root    string
	alerter Alerter
	index   EventIndex
	events  Publisher

	// mu serializes filename reservation and CSV appends.
	mu sync.Mutex
}

// NewSink creates a sink rooted at cfg.Root.
func NewSink(cfg Config) *Sink {
	return &Sink{
		root:    cfg.Root,
		alerter: cfg.Alerter,
		index:   cfg.Index,
		events:  cfg.Events,
	}
}

// Root returns the storage root directory.
func (s *Sink) Root() string { return s.root }

// CameraDir returns the directory holding a camera's images.
func (s *Sink) CameraDir(cam int) string {
	return filepath.Join(s.root, fmt.Sprintf("cam_%d", cam))
}

// LogPath returns the detection log file for a camera.
func (s *Sink) LogPath(cam int) string {
	return filepath.Join(s.root, fmt.Sprintf("detections_%d.csv", cam))
}

// Save persists one processed frame. When armed and boxes is non-empty an
// alert is submitted; alert failures are logged and never returned.
func (s *Sink) Save(ctx context.Context, cam int, frame *camera.Frame, boxes []detection.Box, armed bool) error {
	dir := s.CameraDir(cam)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: failed to create %s: %v", ErrPersistenceFailed, dir, err)
	}

	data := frame.Data
	if len(boxes) > 0 {
		annotated, err := Annotate(frame.Data, boxes, caption(cam, frame.Timestamp))
		if err != nil {
			log.Warn().Err(err).Int("camera", cam).Msg("saving frame without annotation")
		} else {
			data = annotated
		}
	}

	s.mu.Lock()
	name, err := writeUnique(dir, frame.Timestamp, data)
	if err == nil {
		err = appendRecord(s.LogPath(cam), name, boxes)
	}
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	alerted := false
	if armed && len(boxes) > 0 && s.alerter != nil {
		msg := fmt.Sprintf("Objects detected on camera %d at %s (%d)",
			cam, frame.Timestamp.Format("2006-01-02 15:04:05"), len(boxes))
		if err := s.alerter.SubmitAlert(msg, data); err != nil {
			log.Warn().Err(err).Int("camera", cam).Msg("alert not submitted")
		} else {
			alerted = true
		}
	}

	event := &pipeline.DetectionEvent{
		ID:        uuid.NewString(),
		Camera:    cam,
		Timestamp: frame.Timestamp,
		Filename:  filepath.Join(filepath.Base(dir), name),
		Boxes:     boxes,
		Alerted:   alerted,
	}

	if s.index != nil {
		rec := &database.EventRecord{
			ID:        event.ID,
			Camera:    event.Camera,
			Timestamp: event.Timestamp,
			Filename:  event.Filename,
			Boxes:     event.Boxes,
			Alerted:   event.Alerted,
		}
		if err := s.index.SaveEvent(ctx, rec); err != nil {
			log.Warn().Err(err).Int("camera", cam).Msg("failed to index detection event")
		}
	}
	if s.events != nil {
		s.events.Publish(event)
	}

	log.Debug().
		Int("camera", cam).
		Str("file", event.Filename).
		Int("boxes", len(boxes)).
		Bool("alerted", alerted).
		Msg("frame saved")
	return nil
}

// LatestImage returns the path of the most recently written image for cam.
func (s *Sink) LatestImage(cam int) (string, error) {
	dir := s.CameraDir(cam)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoImage
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", dir, err)
	}

	type candidate struct {
		name string
		mod  time.Time
	}
	var files []candidate
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".jpg") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{name: e.Name(), mod: info.ModTime()})
	}
	if len(files) == 0 {
		return "", ErrNoImage
	}

	sort.Slice(files, func(i, j int) bool {
		if !files[i].mod.Equal(files[j].mod) {
			return files[i].mod.After(files[j].mod)
		}
		return files[i].name > files[j].name
	})
	return filepath.Join(dir, files[0].name), nil
}

func caption(cam int, ts time.Time) string {
	return fmt.Sprintf("cam %d  %s", cam, ts.Format("2006-01-02 15:04:05"))
}

// writeUnique writes data as <unix>.jpg, adding a _N suffix when a file
// for the same second already exists.
func writeUnique(dir string, ts time.Time, data []byte) (string, error) {
	base := strconv.FormatInt(ts.Unix(), 10)
	for n := 0; n < 1000; n++ {
		name := base + ".jpg"
		if n > 0 {
			name = fmt.Sprintf("%s_%d.jpg", base, n)
		}

		f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create image: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", fmt.Errorf("failed to write image: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("failed to close image: %w", err)
		}
		return name, nil
	}
	return "", fmt.Errorf("too many images for timestamp %s", base)
}

// appendRecord adds one "filename,boxes" row to a camera's detection log.
func appendRecord(path, name string, boxes []detection.Box) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open detection log: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{name, FormatBoxes(boxes)}); err != nil {
		f.Close()
		return fmt.Errorf("failed to write detection record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write detection record: %w", err)
	}
	return f.Close()
}

// FormatBoxes renders boxes as [[x1,y1,x2,y2],...].
func FormatBoxes(boxes []detection.Box) string {
	parts := make([]string, len(boxes))
	for i, b := range boxes {
		parts[i] = b.String()
	}
	return "[" + strings.Join(parts, ",") + "]"
}
