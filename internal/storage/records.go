package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"sitewatch/internal/detection"
)

// Record is one row of a camera's detection log.
type Record struct {
	Camera   int
	Filename string
	Boxes    []detection.Box
}

// ReadRecords loads every row of a camera's detection log in write order.
// A camera with no log yet has no records.
func (s *Sink) ReadRecords(cam int) ([]Record, error) {
	f, err := os.Open(s.LogPath(cam))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open detection log: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 2
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read detection log: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		boxes, err := ParseBoxes(row[1])
		if err != nil {
			return nil, err
		}
		records = append(records, Record{Camera: cam, Filename: row[0], Boxes: boxes})
	}
	return records, nil
}

// ParseBoxes is the inverse of FormatBoxes.
func ParseBoxes(s string) ([]detection.Box, error) {
	var raw [][4]int
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("invalid box list %q: %w", s, err)
	}
	boxes := make([]detection.Box, len(raw))
	for i, r := range raw {
		boxes[i] = detection.Box{X1: r[0], Y1: r[1], X2: r[2], Y2: r[3]}
	}
	return boxes, nil
}
