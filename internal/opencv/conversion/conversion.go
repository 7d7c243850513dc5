package conversion

import (
	"fmt"
	"image"

	"portrait-mixer/internal/opencv/safe"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// ImageToMat converts a Go image to an RGB CV_8UC3 Mat. Any alpha channel is
// dropped.
func ImageToMat(img image.Image, tracker safe.MemoryTracker, tag string) (*safe.Mat, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}

	bounds := img.Bounds()
	if err := safe.ValidateDimensions(bounds.Dx(), bounds.Dy(), "image to Mat conversion"); err != nil {
		return nil, err
	}

	// Clone normalises every image type to an origin-anchored NRGBA.
	nrgba := imaging.Clone(img)
	width, height := bounds.Dx(), bounds.Dy()

	rgb := make([]byte, width*height*3)
	for y := 0; y < height; y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+width*4]
		for x := 0; x < width; x++ {
			copy(rgb[(y*width+x)*3:], row[x*4:x*4+3])
		}
	}

	return safe.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, rgb, tracker, tag)
}

// MatToImage converts an 8-bit Mat to a Go image: CV_8UC1 to *image.Gray,
// RGB CV_8UC3 to *image.RGBA and RGBA CV_8UC4 to *image.NRGBA.
func MatToImage(src *safe.Mat) (image.Image, error) {
	if err := safe.ValidateMatForOperation(src, "Mat to image conversion"); err != nil {
		return nil, err
	}

	data, err := src.ToBytes()
	if err != nil {
		return nil, err
	}

	rect := image.Rect(0, 0, src.Cols(), src.Rows())

	switch src.Type() {
	case gocv.MatTypeCV8UC1:
		img := image.NewGray(rect)
		copy(img.Pix, data)
		return img, nil
	case gocv.MatTypeCV8UC3:
		img := image.NewRGBA(rect)
		for p := 0; p*3 < len(data); p++ {
			copy(img.Pix[p*4:p*4+3], data[p*3:p*3+3])
			img.Pix[p*4+3] = 255
		}
		return img, nil
	case gocv.MatTypeCV8UC4:
		img := image.NewNRGBA(rect)
		copy(img.Pix, data)
		return img, nil
	default:
		return nil, fmt.Errorf("unsupported Mat type: %d", int(src.Type()))
	}
}
