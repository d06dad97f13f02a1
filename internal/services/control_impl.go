package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"sitewatch/internal/camera"
	"sitewatch/internal/controller"
	"sitewatch/internal/database"
	"sitewatch/internal/detection"
	"sitewatch/internal/pipeline"
	"sitewatch/internal/storage"
)

// Capture is the subset of *controller.Controller the control service drives.
type Capture interface {
	Start() bool
	Stop() bool
	Arm()
	Disarm()
	SetInterval(d time.Duration) error
	Status() controller.Status
	CurrentFrames(ctx context.Context) map[int]*camera.Frame
}

// ImageStore looks up saved images and storage capacity.
type ImageStore interface {
	LatestImage(cam int) (string, error)
	DiskUsage() (storage.DiskUsage, error)
}

// EventStore queries the detection event index.
type EventStore interface {
	ListEvents(ctx context.Context, f database.EventFilter) ([]*database.EventRecord, error)
}

// CaptureStatus is the operator view of the controller.
type CaptureStatus struct {
	Status        string                   `json:"status"`
	Capturing     bool                     `json:"capturing"`
	Armed         bool                     `json:"armed"`
	SaveInterval  int                      `json:"save_interval"`
	Cameras       int                      `json:"cameras"`
	Queue         pipeline.DispatcherStats `json:"queue"`
	Cycles        uint64                   `json:"cycles"`
	Processed     uint64                   `json:"processed"`
	LastCycle     *time.Time               `json:"last_cycle,omitempty"`
	UptimeSeconds int                      `json:"uptime_seconds"`
}

// ActionResult is returned by state-changing operations.
type ActionResult struct {
	Message string         `json:"status"`
	Changed bool           `json:"changed"`
	State   *CaptureStatus `json:"state"`
}

// Image is a JPEG with its origin.
type Image struct {
	Camera    int
	Path      string
	Data      []byte
	Timestamp time.Time
}

// Event is one entry of the detection event index.
type Event struct {
	ID        string          `json:"id"`
	Camera    int             `json:"camera"`
	Timestamp time.Time       `json:"timestamp"`
	Filename  string          `json:"filename"`
	Boxes     []detection.Box `json:"boxes"`
	Alerted   bool            `json:"alerted"`
}

// EventQuery narrows Events. A nil Camera matches every camera.
type EventQuery struct {
	Camera         *int
	OnlyDetections bool
	Limit          int
}

// ControlImplementation exposes the capture controller to the HTTP API and
// the Telegram command handler.
type ControlImplementation struct {
	capture   Capture
	images    ImageStore
	events    EventStore
	startTime time.Time
}

// NewControlService creates the control service. images and events may be nil.
func NewControlService(capture Capture, images ImageStore, events EventStore) *ControlImplementation {
	return &ControlImplementation{
		capture:   capture,
		images:    images,
		events:    events,
		startTime: time.Now(),
	}
}

// Status returns the current capture status.
func (s *ControlImplementation) Status(ctx context.Context) (*CaptureStatus, error) {
	st := s.capture.Status()

	status := &CaptureStatus{
		Status:        "Not Capturing",
		Capturing:     st.Capturing,
		Armed:         st.Armed,
		SaveInterval:  int(st.Interval / time.Second),
		Cameras:       st.Cameras,
		Queue:         st.Queue,
		Cycles:        st.Cycles,
		Processed:     st.Processed,
		UptimeSeconds: int(time.Since(s.startTime).Seconds()),
	}
	if st.Capturing {
		status.Status = "Capturing"
	}
	if !st.LastCycle.IsZero() {
		last := st.LastCycle
		status.LastCycle = &last
	}
	return status, nil
}

// StartCapture starts the capture workers.
func (s *ControlImplementation) StartCapture(ctx context.Context) (*ActionResult, error) {
	if s.capture.Start() {
		return s.result(ctx, "Started capturing images.", true)
	}
	return s.result(ctx, "Capture already running.", false)
}

// StopCapture stops the capture workers and waits for them to exit.
func (s *ControlImplementation) StopCapture(ctx context.Context) (*ActionResult, error) {
	if s.capture.Stop() {
		return s.result(ctx, "Stopped capturing images.", true)
	}
	return s.result(ctx, "Capture not running.", false)
}

// maxIntervalSeconds is the largest interval a time.Duration can hold.
const maxIntervalSeconds = math.MaxInt64 / int64(time.Second)

// SetInterval changes the capture interval. Values below one second or
// beyond maxIntervalSeconds are rejected with ErrBadRequest.
func (s *ControlImplementation) SetInterval(ctx context.Context, seconds int) (*ActionResult, error) {
	if seconds < 1 || int64(seconds) > maxIntervalSeconds {
		return nil, fmt.Errorf("%w: Interval must be a positive integer", ErrBadRequest)
	}
	if err := s.capture.SetInterval(time.Duration(seconds) * time.Second); err != nil {
		if errors.Is(err, controller.ErrInvalidArgument) {
			return nil, fmt.Errorf("%w: Interval must be a positive integer", ErrBadRequest)
		}
		return nil, err
	}
	return s.result(ctx, fmt.Sprintf("Save interval updated to %d seconds.", seconds), true)
}

// Arm enables alerting.
func (s *ControlImplementation) Arm(ctx context.Context) (*ActionResult, error) {
	s.capture.Arm()
	return s.result(ctx, "Cameras armed.", true)
}

// Disarm disables alerting.
func (s *ControlImplementation) Disarm(ctx context.Context) (*ActionResult, error) {
	s.capture.Disarm()
	return s.result(ctx, "Cameras disarmed.", true)
}

// LatestImage returns the most recently saved image of a camera.
func (s *ControlImplementation) LatestImage(ctx context.Context, cam int) (*Image, error) {
	if err := s.checkCamera(cam); err != nil {
		return nil, err
	}
	if s.images == nil {
		return nil, fmt.Errorf("%w: image storage not configured", ErrNotFound)
	}

	path, err := s.images.LatestImage(cam)
	if errors.Is(err, storage.ErrNoImage) {
		return nil, fmt.Errorf("%w: no image saved for camera %d", ErrNotFound, cam)
	}
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat image: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return &Image{Camera: cam, Path: path, Data: data, Timestamp: info.ModTime()}, nil
}

// LatestImages returns the latest saved image of every camera that has one.
func (s *ControlImplementation) LatestImages(ctx context.Context) ([]*Image, error) {
	var images []*Image
	for cam := 0; cam < s.capture.Status().Cameras; cam++ {
		img, err := s.LatestImage(ctx, cam)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

// CurrentFrame grabs a fresh frame from a camera outside the capture cycle.
func (s *ControlImplementation) CurrentFrame(ctx context.Context, cam int) (*Image, error) {
	if err := s.checkCamera(cam); err != nil {
		return nil, err
	}

	frames := s.capture.CurrentFrames(ctx)
	f, ok := frames[cam]
	if !ok {
		return nil, fmt.Errorf("%w: camera %d returned no frame", ErrNotReady, cam)
	}
	return &Image{Camera: cam, Data: f.Data, Timestamp: f.Timestamp}, nil
}

// Events lists indexed detection events, newest first.
func (s *ControlImplementation) Events(ctx context.Context, q EventQuery) ([]*Event, error) {
	if s.events == nil {
		return nil, fmt.Errorf("%w: event index not configured", ErrNotReady)
	}

	filter := database.EventFilter{Camera: -1, OnlyDetections: q.OnlyDetections, Limit: q.Limit}
	if q.Camera != nil {
		if err := s.checkCamera(*q.Camera); err != nil {
			return nil, err
		}
		filter.Camera = *q.Camera
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}

	records, err := s.events.ListEvents(ctx, filter)
	if err != nil {
		return nil, err
	}

	events := make([]*Event, len(records))
	for i, r := range records {
		boxes := r.Boxes
		if boxes == nil {
			boxes = []detection.Box{}
		}
		events[i] = &Event{
			ID:        r.ID,
			Camera:    r.Camera,
			Timestamp: r.Timestamp,
			Filename:  r.Filename,
			Boxes:     boxes,
			Alerted:   r.Alerted,
		}
	}
	return events, nil
}

// DiskSpace reports capacity of the storage filesystem.
func (s *ControlImplementation) DiskSpace(ctx context.Context) (*storage.DiskUsage, error) {
	if s.images == nil {
		return nil, fmt.Errorf("%w: image storage not configured", ErrNotReady)
	}
	usage, err := s.images.DiskUsage()
	if err != nil {
		log.Error().Err(err).Msg("disk usage unavailable")
		return nil, err
	}
	return &usage, nil
}

func (s *ControlImplementation) checkCamera(cam int) error {
	if n := s.capture.Status().Cameras; cam < 0 || cam >= n {
		return fmt.Errorf("%w: camera %d out of range [0,%d)", ErrNotFound, cam, n)
	}
	return nil
}

func (s *ControlImplementation) result(ctx context.Context, msg string, changed bool) (*ActionResult, error) {
	status, err := s.Status(ctx)
	if err != nil {
		return nil, err
	}
	return &ActionResult{Message: msg, Changed: changed, State: status}, nil
}
