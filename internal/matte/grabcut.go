package matte

import (
	"fmt"
	"image"
	"math"

	"portrait-mixer/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// GrabCut mask classes.
const (
	gcBackground         = 0
	gcForeground         = 1
	gcProbableBackground = 2
	gcProbableForeground = 3
)

type GrabCutOptions struct {
	Iterations int
	// SubjectSide widens the face hint on each side, times its width.
	SubjectSide float64
	// SubjectTop raises the top of the hint, times its height.
	SubjectTop float64
	// CleanupKernel is the elliptic kernel side for open/close; 0 disables.
	CleanupKernel int
	// FeatherSigma softens the alpha edge; 0 keeps a hard edge.
	FeatherSigma float64
}

func DefaultGrabCutOptions() GrabCutOptions {
	return GrabCutOptions{
		Iterations:    5,
		SubjectSide:   0.5,
		SubjectTop:    0.1,
		CleanupKernel: 5,
		FeatherSigma:  2.0,
	}
}

func (o GrabCutOptions) Validate() error {
	if o.Iterations <= 0 {
		return fmt.Errorf("grabcut iterations must be positive, got %d", o.Iterations)
	}
	if o.SubjectSide < 0 || o.SubjectTop < 0 {
		return fmt.Errorf("subject ratios must be non-negative")
	}
	if o.CleanupKernel < 0 || o.FeatherSigma < 0 {
		return fmt.Errorf("cleanup kernel and feather sigma must be non-negative")
	}
	return nil
}

// GrabCutExtractor segments the head-and-shoulders region below and around
// the face with OpenCV's GrabCut.
type GrabCutExtractor struct {
	opts    GrabCutOptions
	tracker safe.MemoryTracker
}

func NewGrabCutExtractor(opts GrabCutOptions, tracker safe.MemoryTracker) (*GrabCutExtractor, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &GrabCutExtractor{opts: opts, tracker: tracker}, nil
}

// SubjectRect widens roi sideways and upwards, extends it to the bottom of
// the image and keeps a one pixel border so GrabCut always has background
// samples.
func SubjectRect(bounds, roi image.Rectangle, side, top float64) image.Rectangle {
	dx := int(math.Round(side * float64(roi.Dx())))
	dy := int(math.Round(top * float64(roi.Dy())))

	r := image.Rect(roi.Min.X-dx, roi.Min.Y-dy, roi.Max.X+dx, bounds.Max.Y)
	return r.Intersect(bounds.Inset(1))
}

func (e *GrabCutExtractor) Extract(img *safe.Mat, roi image.Rectangle) (*safe.Mat, error) {
	if err := safe.ValidateMatType(img, gocv.MatTypeCV8UC3, "grabcut"); err != nil {
		return nil, err
	}

	subject := SubjectRect(img.Bounds(), roi, e.opts.SubjectSide, e.opts.SubjectTop)
	if subject.Empty() {
		return nil, fmt.Errorf("subject region for %v is empty in image %v", roi, img.Bounds())
	}

	mask := gocv.NewMat()
	defer mask.Close()
	bgdModel := gocv.NewMat()
	defer bgdModel.Close()
	fgdModel := gocv.NewMat()
	defer fgdModel.Close()

	gocv.GrabCut(img.GetMat(), &mask, subject, &bgdModel, &fgdModel, e.opts.Iterations, gocv.GCInitWithRect)
	if mask.Empty() {
		return nil, fmt.Errorf("grabcut produced no mask")
	}

	alpha, err := maskToAlpha(mask)
	if err != nil {
		return nil, err
	}
	defer alpha.Close()

	if e.opts.CleanupKernel > 0 {
		cleanupAlpha(alpha, e.opts.CleanupKernel)
	}
	if e.opts.FeatherSigma > 0 {
		featherAlpha(alpha, e.opts.FeatherSigma)
	}

	return ComposeRGBA(img, alpha.GetMat(), e.tracker, "matte")
}

func maskToAlpha(mask gocv.Mat) (*safe.Mat, error) {
	labels := mask.ToBytes()
	alpha := make([]byte, len(labels))
	for i, label := range labels {
		if label == gcForeground || label == gcProbableForeground {
			alpha[i] = 255
		}
	}

	return safe.NewMatFromBytes(mask.Rows(), mask.Cols(), gocv.MatTypeCV8UC1, alpha, nil, "alpha")
}

// cleanupAlpha removes speckles with an opening, then fills pinholes with a
// closing on a larger kernel.
func cleanupAlpha(alpha *safe.Mat, kernelSize int) {
	small := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(kernelSize, kernelSize))
	defer small.Close()
	large := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(kernelSize+2, kernelSize+2))
	defer large.Close()

	m := alpha.GetMat()
	gocv.MorphologyEx(m, &m, gocv.MorphOpen, small)
	gocv.MorphologyEx(m, &m, gocv.MorphClose, large)
}

func featherAlpha(alpha *safe.Mat, sigma float64) {
	kernelSize := int(sigma*6) + 1
	if kernelSize%2 == 0 {
		kernelSize++
	}
	kernelSize = max(3, min(kernelSize, 15))

	m := alpha.GetMat()
	gocv.GaussianBlur(m, &m, image.Pt(kernelSize, kernelSize), sigma, sigma, gocv.BorderDefault)
}
