// Package face locates the single face a portrait is framed around.
package face

import (
	"errors"
	"fmt"
	"image"

	"portrait-mixer/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// ErrFaceCount is matched by every CountError.
var ErrFaceCount = errors.New("face count is not exactly one")

// CountError reports how many faces a detector returned when exactly one
// was required.
type CountError struct {
	Count int
}

func (e *CountError) Error() string {
	return fmt.Sprintf("face detection found %d faces, expected exactly one", e.Count)
}

func (e *CountError) Is(target error) bool {
	return target == ErrFaceCount
}

// Detector finds face bounding boxes in an 8-bit RGB Mat.
type Detector interface {
	Detect(img gocv.Mat) ([]image.Rectangle, error)
}

// LocateSingle runs d over img and returns the only face found, clipped to
// the image. Zero or several faces yield a *CountError.
func LocateSingle(d Detector, img *safe.Mat) (image.Rectangle, error) {
	if err := safe.ValidateMatType(img, gocv.MatTypeCV8UC3, "face detection"); err != nil {
		return image.Rectangle{}, err
	}

	faces, err := d.Detect(img.GetMat())
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("face detection failed: %w", err)
	}

	if len(faces) != 1 {
		return image.Rectangle{}, &CountError{Count: len(faces)}
	}

	r := faces[0].Canon().Intersect(img.Bounds())
	if r.Empty() {
		return image.Rectangle{}, fmt.Errorf("detected face %v lies outside image %v", faces[0], img.Bounds())
	}

	return r, nil
}
