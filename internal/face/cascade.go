package face

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

type CascadeOptions struct {
	ScaleFactor  float64
	MinNeighbors int
	// MinSize is the smallest face side considered, in pixels.
	MinSize int
}

func DefaultCascadeOptions() CascadeOptions {
	return CascadeOptions{
		ScaleFactor:  1.1,
		MinNeighbors: 5,
		MinSize:      30,
	}
}

// CascadeDetector wraps an OpenCV Haar cascade. The classifier is not safe
// for concurrent use, so Detect serialises on mu.
type CascadeDetector struct {
	mu   sync.Mutex
	cls  gocv.CascadeClassifier
	opts CascadeOptions
}

func NewCascadeDetector(modelPath string, opts CascadeOptions) (*CascadeDetector, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("cascade model path is empty")
	}
	if opts.ScaleFactor <= 1 {
		return nil, fmt.Errorf("cascade scale factor must exceed 1, got %v", opts.ScaleFactor)
	}

	cls := gocv.NewCascadeClassifier()
	if !cls.Load(modelPath) {
		cls.Close()
		return nil, fmt.Errorf("failed to load cascade classifier from %s", modelPath)
	}

	return &CascadeDetector{cls: cls, opts: opts}, nil
}

func (d *CascadeDetector) Detect(img gocv.Mat) ([]image.Rectangle, error) {
	if img.Empty() {
		return nil, fmt.Errorf("input Mat is empty")
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorRGBToGray)
	gocv.EqualizeHist(gray, &gray)

	minSize := image.Pt(d.opts.MinSize, d.opts.MinSize)

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cls.DetectMultiScaleWithParams(gray, d.opts.ScaleFactor, d.opts.MinNeighbors, 0, minSize, image.Point{}), nil
}

func (d *CascadeDetector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cls.Close()
}
