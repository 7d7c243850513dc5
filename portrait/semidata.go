package portrait

import (
	"fmt"
	"image"

	"portrait-mixer/internal/compose"
	"portrait-mixer/internal/opencv/safe"
)

const frameThickness = 2

type semiPayload struct {
	image    *safe.Mat
	matte    *safe.Mat
	faceArea image.Rectangle
}

// SemiData is the result of ProcessSemi: the source image, its RGBA matte
// and the normalised face area. It owns its buffers; hand it on with Move
// and release it with Close. The zero value is empty.
type SemiData struct {
	p *semiPayload
}

func newSemiData(img, matte *safe.Mat, faceArea image.Rectangle) *SemiData {
	return &SemiData{p: &semiPayload{image: img, matte: matte, faceArea: faceArea}}
}

// Move returns a new SemiData owning the receiver's buffers and leaves the
// receiver empty.
func (s *SemiData) Move() *SemiData {
	if s == nil {
		return &SemiData{}
	}
	moved := &SemiData{p: s.p}
	s.p = nil
	return moved
}

// Close releases the image and matte. Closing an empty SemiData is a no-op.
func (s *SemiData) Close() {
	if s == nil || s.p == nil {
		return
	}
	s.p.image.Close()
	s.p.matte.Close()
	s.p = nil
}

func (s *SemiData) Empty() bool {
	return s == nil || s.p == nil
}

func (s *SemiData) payload() *semiPayload {
	if s.Empty() {
		panic(ErrEmptySemiData)
	}
	return s.p
}

// Image returns a copy of the stored RGB image. The caller owns the copy.
func (s *SemiData) Image() (*safe.Mat, error) {
	return s.payload().image.Clone()
}

// ImageWithLines returns a copy of the stored image with the face area
// outlined. The stored image is left untouched.
func (s *SemiData) ImageWithLines() (*safe.Mat, error) {
	p := s.payload()

	out, err := p.image.Clone()
	if err != nil {
		return nil, err
	}

	if err := compose.DrawFrame(out, p.faceArea, compose.FrameColor, frameThickness); err != nil {
		out.Close()
		return nil, fmt.Errorf("failed to draw face area: %w", err)
	}

	return out, nil
}

func (s *SemiData) FaceArea() image.Rectangle {
	return s.payload().faceArea
}

// Bounds is the size of the stored image.
func (s *SemiData) Bounds() image.Rectangle {
	return s.payload().image.Bounds()
}
