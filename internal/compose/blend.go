// Package compose blends a matted subject onto a solid background and draws
// the diagnostic frame overlay.
package compose

import (
	"fmt"
	"image/color"

	"portrait-mixer/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// Blend mixes each RGB pixel of rgb with back, weighted by the alpha channel
// of rgba. Both Mats must have the same size. The result is CV_8UC3.
func Blend(rgb, rgba *safe.Mat, back color.RGBA, tracker safe.MemoryTracker) (*safe.Mat, error) {
	if err := safe.ValidateMatType(rgb, gocv.MatTypeCV8UC3, "blend"); err != nil {
		return nil, err
	}
	if err := safe.ValidateMatType(rgba, gocv.MatTypeCV8UC4, "blend"); err != nil {
		return nil, err
	}
	if rgb.Rows() != rgba.Rows() || rgb.Cols() != rgba.Cols() {
		return nil, fmt.Errorf("image %dx%d and matte %dx%d differ in size",
			rgb.Cols(), rgb.Rows(), rgba.Cols(), rgba.Rows())
	}

	src, err := rgb.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	matte, err := rgba.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to read matte: %w", err)
	}

	bg := [3]uint32{uint32(back.R), uint32(back.G), uint32(back.B)}
	out := make([]byte, len(src))
	for p := 0; p*3 < len(src); p++ {
		a := uint32(matte[p*4+3])
		for c := 0; c < 3; c++ {
			out[p*3+c] = blendChannel(uint32(src[p*3+c]), bg[c], a)
		}
	}

	return safe.NewMatFromBytes(rgb.Rows(), rgb.Cols(), gocv.MatTypeCV8UC3, out, tracker, "composite")
}

// blendChannel returns round((s*a + b*(255-a)) / 255). The numerator is
// never an odd multiple of 127.5, so adding 127 before dividing rounds
// exactly.
func blendChannel(s, b, a uint32) uint8 {
	return uint8((s*a + b*(255-a) + 127) / 255)
}
