package detection

import (
	"fmt"
	"math"
)

// ModelSize is the square input resolution the detection service reports
// coordinates in.
const ModelSize = 640

// Box is an axis-aligned bounding box in source-image pixels.
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// RawBox is a box as returned by the service, in ModelSize x ModelSize space.
type RawBox [4]float64

// maxOvershoot is how far outside the model square a coordinate may fall
// before the box is rejected.
const maxOvershoot = ModelSize

// valid reports whether every coordinate is finite and near the model square.
func (r RawBox) valid() bool {
	for _, v := range r {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
		if v < -maxOvershoot || v > ModelSize+maxOvershoot {
			return false
		}
	}
	return true
}

func (b Box) String() string {
	return fmt.Sprintf("[%d,%d,%d,%d]", b.X1, b.Y1, b.X2, b.Y2)
}

// Array returns the box as [x1, y1, x2, y2].
func (b Box) Array() [4]int {
	return [4]int{b.X1, b.Y1, b.X2, b.Y2}
}

// Rescale maps model-space boxes onto a width x height source image.
// Coordinates are truncated, never rounded.
func Rescale(raw []RawBox, width, height int) []Box {
	boxes := make([]Box, 0, len(raw))
	sx := float64(width)
	sy := float64(height)
	for _, r := range raw {
		boxes = append(boxes, Box{
			X1: int(r[0] * sx / ModelSize),
			Y1: int(r[1] * sy / ModelSize),
			X2: int(r[2] * sx / ModelSize),
			Y2: int(r[3] * sy / ModelSize),
		})
	}
	return boxes
}
