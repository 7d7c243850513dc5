// Package framing turns a detected face box into a portrait crop region.
package framing

import (
	"fmt"
	"image"
	"math"

	"portrait-mixer/internal/geometry"
)

// Margin ratios for a head-and-shoulders portrait, relative to the face box.
// The crop keeps more room above and beside the face than below the chin.
const (
	DefaultSideRatio   = 0.6 // added to each of the left and right sides, times face width
	DefaultTopRatio    = 0.6 // added above, times face height
	DefaultBottomRatio = 0.4 // added below, times face height
)

type Margins struct {
	Side   float64
	Top    float64
	Bottom float64
}

func DefaultMargins() Margins {
	return Margins{
		Side:   DefaultSideRatio,
		Top:    DefaultTopRatio,
		Bottom: DefaultBottomRatio,
	}
}

func (m Margins) Validate() error {
	for name, v := range map[string]float64{"side": m.Side, "top": m.Top, "bottom": m.Bottom} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("margin %s ratio must be a finite non-negative number, got %v", name, v)
		}
	}
	return nil
}

// Expand grows face by the margin ratios and clips the result to bounds.
func Expand(bounds, face image.Rectangle, m Margins) (image.Rectangle, error) {
	if face.Empty() {
		return image.Rectangle{}, fmt.Errorf("face rectangle %v is empty", face)
	}
	if err := m.Validate(); err != nil {
		return image.Rectangle{}, err
	}

	w, h := float64(face.Dx()), float64(face.Dy())
	side := int(math.Round(m.Side * w))
	top := int(math.Round(m.Top * h))
	bottom := int(math.Round(m.Bottom * h))

	expanded := image.Rect(
		face.Min.X-side,
		face.Min.Y-top,
		face.Max.X+side,
		face.Max.Y+bottom,
	).Intersect(bounds)

	if expanded.Empty() {
		return image.Rectangle{}, fmt.Errorf("%w: face %v does not overlap image %v", geometry.ErrOutOfRange, face, bounds)
	}

	return expanded, nil
}

// Resize returns a rectangle of exactly size, centred on r and shifted as
// little as needed to stay inside bounds.
func Resize(bounds, r image.Rectangle, size image.Point) (image.Rectangle, error) {
	if size.X <= 0 || size.Y <= 0 {
		return image.Rectangle{}, fmt.Errorf("target size %dx%d must be positive", size.X, size.Y)
	}
	if size.X > bounds.Dx() || size.Y > bounds.Dy() {
		return image.Rectangle{}, fmt.Errorf("%w: target size %dx%d exceeds image %dx%d",
			geometry.ErrOutOfRange, size.X, size.Y, bounds.Dx(), bounds.Dy())
	}

	out := geometry.CenteredWindow(geometry.Center(r), size, 0)

	if d := bounds.Min.X - out.Min.X; d > 0 {
		out = out.Add(image.Pt(d, 0))
	}
	if d := out.Max.X - bounds.Max.X; d > 0 {
		out = out.Sub(image.Pt(d, 0))
	}
	if d := bounds.Min.Y - out.Min.Y; d > 0 {
		out = out.Add(image.Pt(0, d))
	}
	if d := out.Max.Y - bounds.Max.Y; d > 0 {
		out = out.Sub(image.Pt(0, d))
	}

	return out, nil
}
