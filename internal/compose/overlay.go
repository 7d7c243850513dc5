package compose

import (
	"image"
	"image/color"

	"portrait-mixer/internal/geometry"
	"portrait-mixer/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// FrameColor is the default colour of the diagnostic frame.
var FrameColor = color.RGBA{R: 255, G: 0, B: 0, A: 255}

// DrawFrame draws the boundary of r and a centre cross-hair onto the RGB
// image img in place.
func DrawFrame(img *safe.Mat, r image.Rectangle, c color.RGBA, thickness int) error {
	if err := safe.ValidateMatForOperation(img, "draw frame"); err != nil {
		return err
	}
	if thickness <= 0 {
		thickness = 1
	}

	// gocv drawing calls take colours in BGR order.
	c = color.RGBA{R: c.B, G: c.G, B: c.R, A: c.A}

	m := img.GetMat()
	gocv.Rectangle(&m, r, c, thickness)

	center := geometry.Center(r)
	gocv.Line(&m, image.Pt(r.Min.X, center.Y), image.Pt(r.Max.X, center.Y), c, 1)
	gocv.Line(&m, image.Pt(center.X, r.Min.Y), image.Pt(center.X, r.Max.Y), c, 1)

	return nil
}
