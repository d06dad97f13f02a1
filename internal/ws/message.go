package ws

import (
	"time"

	"sitewatch/internal/detection"
	"sitewatch/internal/pipeline"
)

// DetectionMessage is broadcast for every saved frame
type DetectionMessage struct {
	Type      string          `json:"type"` // "detection"
	ID        string          `json:"id"`
	Camera    int             `json:"camera"`
	Timestamp time.Time       `json:"timestamp"`
	Filename  string          `json:"filename"`
	Boxes     []detection.Box `json:"boxes"`
	Alerted   bool            `json:"alerted"`
}

// NewDetectionMessage converts a pipeline event into its wire form.
func NewDetectionMessage(event *pipeline.DetectionEvent) *DetectionMessage {
	boxes := event.Boxes
	if boxes == nil {
		boxes = []detection.Box{}
	}
	return &DetectionMessage{
		Type:      "detection",
		ID:        event.ID,
		Camera:    event.Camera,
		Timestamp: event.Timestamp,
		Filename:  event.Filename,
		Boxes:     boxes,
		Alerted:   event.Alerted,
	}
}
