package storage

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"sitewatch/internal/detection"
)

var (
	boxColor   = color.RGBA{0, 255, 0, 255}
	labelColor = color.RGBA{255, 255, 255, 255}
)

const (
	boxThickness = 2
	jpegQuality  = 85
)

// Annotate draws the boxes and a caption onto a JPEG and re-encodes it.
func Annotate(jpegData []byte, boxes []detection.Box, caption string) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	for _, b := range boxes {
		drawBox(rgba, b, boxColor, boxThickness)
	}
	if caption != "" {
		drawLabel(rgba, 4, 4, caption, labelColor)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// drawBox outlines b, clipped to the image.
func drawBox(img *image.RGBA, b detection.Box, c color.RGBA, thickness int) {
	r := image.Rect(b.X1, b.Y1, b.X2, b.Y2)
	bounds := img.Bounds()

	x0, x1 := max(r.Min.X, bounds.Min.X), min(r.Max.X, bounds.Max.X-1)
	y0, y1 := max(r.Min.Y, bounds.Min.Y), min(r.Max.Y, bounds.Max.Y-1)
	if x0 > x1 || y0 > y1 {
		return
	}

	for t := 0; t < thickness; t++ {
		for x := x0; x <= x1; x++ {
			setClipped(img, x, r.Min.Y+t, c)
			setClipped(img, x, r.Max.Y-t, c)
		}
		for y := y0; y <= y1; y++ {
			setClipped(img, r.Min.X+t, y, c)
			setClipped(img, r.Max.X-t, y, c)
		}
	}
}

func setClipped(img *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{X: x, Y: y}).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

// drawLabel writes text on a dark background with its top-left at x, y.
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	bg := color.RGBA{0, 0, 0, 180}
	textWidth := len(label) * 7
	for dy := -2; dy < 14; dy++ {
		for dx := -2; dx < textWidth+2; dx++ {
			setClipped(img, x+dx, y+dy, bg)
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}
