package face

import (
	"fmt"
	"image"

	pigo "github.com/esimov/pigo/core"
	"gocv.io/x/gocv"
)

type PigoOptions struct {
	MinSize     int
	MaxSize     int // 0 means the larger image side
	ShiftFactor float64
	ScaleFactor float64
	// IoUThreshold merges overlapping detections.
	IoUThreshold float64
	// QualityThreshold drops detections scoring below it.
	QualityThreshold float32
}

func DefaultPigoOptions() PigoOptions {
	return PigoOptions{
		MinSize:          20,
		ShiftFactor:      0.1,
		ScaleFactor:      1.1,
		IoUThreshold:     0.2,
		QualityThreshold: 5.0,
	}
}

// PigoDetector runs a pixel-intensity-comparison cascade in pure Go.
type PigoDetector struct {
	classifier *pigo.Pigo
	opts       PigoOptions
}

// NewPigoDetector unpacks a binary pigo cascade (for example "facefinder").
func NewPigoDetector(cascade []byte, opts PigoOptions) (*PigoDetector, error) {
	if len(cascade) == 0 {
		return nil, fmt.Errorf("pigo cascade is empty")
	}

	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack cascade: %w", err)
	}

	return &PigoDetector{classifier: classifier, opts: opts}, nil
}

func (d *PigoDetector) Detect(img gocv.Mat) ([]image.Rectangle, error) {
	if img.Empty() {
		return nil, fmt.Errorf("input Mat is empty")
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorRGBToGray)

	rows, cols := gray.Rows(), gray.Cols()
	maxSize := d.opts.MaxSize
	if maxSize <= 0 {
		maxSize = max(rows, cols)
	}

	params := pigo.CascadeParams{
		MinSize:     d.opts.MinSize,
		MaxSize:     maxSize,
		ShiftFactor: d.opts.ShiftFactor,
		ScaleFactor: d.opts.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: gray.ToBytes(),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	dets := d.classifier.RunCascade(params, 0.0)
	dets = d.classifier.ClusterDetections(dets, d.opts.IoUThreshold)

	return filterDetections(dets, d.opts.QualityThreshold, image.Rect(0, 0, cols, rows)), nil
}

func filterDetections(dets []pigo.Detection, threshold float32, bounds image.Rectangle) []image.Rectangle {
	var faces []image.Rectangle
	for _, det := range dets {
		if det.Q < threshold {
			continue
		}
		r := detectionRect(det).Intersect(bounds)
		if r.Empty() {
			continue
		}
		faces = append(faces, r)
	}
	return faces
}

// detectionRect converts pigo's (row, col, scale) centre form into a box.
func detectionRect(det pigo.Detection) image.Rectangle {
	half := det.Scale / 2
	return image.Rect(det.Col-half, det.Row-half, det.Col-half+det.Scale, det.Row-half+det.Scale)
}
