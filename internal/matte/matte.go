// Package matte separates the portrait subject from the background.
package matte

import (
	"fmt"
	"image"

	"portrait-mixer/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// Extractor returns a CV_8UC4 Mat the size of img: the RGB channels of img
// plus an alpha plane holding foreground confidence (0 background, 255
// foreground). roi is the normalised face region used as a hint.
type Extractor interface {
	Extract(img *safe.Mat, roi image.Rectangle) (*safe.Mat, error)
}

// ComposeRGBA merges a CV_8UC3 image with a CV_8UC1 alpha plane of the same size.
func ComposeRGBA(rgb *safe.Mat, alpha gocv.Mat, tracker safe.MemoryTracker, tag string) (*safe.Mat, error) {
	if err := safe.ValidateMatType(rgb, gocv.MatTypeCV8UC3, "RGBA merge"); err != nil {
		return nil, err
	}
	if alpha.Empty() || alpha.Type() != gocv.MatTypeCV8UC1 {
		return nil, fmt.Errorf("alpha plane must be a non-empty CV_8UC1 Mat")
	}
	if alpha.Rows() != rgb.Rows() || alpha.Cols() != rgb.Cols() {
		return nil, fmt.Errorf("alpha plane %dx%d does not match image %dx%d",
			alpha.Cols(), alpha.Rows(), rgb.Cols(), rgb.Rows())
	}

	planes := gocv.Split(rgb.GetMat())
	defer func() {
		for i := range planes {
			planes[i].Close()
		}
	}()

	merged := gocv.NewMat()
	defer merged.Close()
	gocv.Merge([]gocv.Mat{planes[0], planes[1], planes[2], alpha}, &merged)

	return safe.NewMatFromMatWithTracker(merged, tracker, tag)
}
