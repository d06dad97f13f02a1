package pipeline

import (
	"time"

	"sitewatch/internal/camera"
	"sitewatch/internal/detection"
)

// AlignedSet holds exactly one frame per camera, indexed by camera.
type AlignedSet []*camera.Frame

// Item is one unit of work for the detection worker.
type Item struct {
	Camera int
	Frame  *camera.Frame
}

// DispatcherStats reports queue counters since construction.
type DispatcherStats struct {
	Capacity int    `json:"capacity"`
	Length   int    `json:"length"`
	Enqueued uint64 `json:"enqueued"`
	Dropped  uint64 `json:"dropped"`
	Dequeued uint64 `json:"dequeued"`
}

// DetectionEvent is published after a frame has been persisted.
type DetectionEvent struct {
	ID        string          `json:"id"`
	Camera    int             `json:"camera"`
	Timestamp time.Time       `json:"timestamp"`
	Filename  string          `json:"filename"`
	Boxes     []detection.Box `json:"boxes"`
	Alerted   bool            `json:"alerted"`
}

// HasDetections reports whether any object was found.
func (e *DetectionEvent) HasDetections() bool {
	return len(e.Boxes) > 0
}
