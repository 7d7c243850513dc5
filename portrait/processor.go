// Package portrait produces ID-style portraits: it locates the single face
// in a photo, frames a head-and-shoulders region around it, separates the
// subject from the background and composites it onto a solid colour.
package portrait

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"

	"portrait-mixer/internal/compose"
	"portrait-mixer/internal/config"
	"portrait-mixer/internal/debug/timing"
	"portrait-mixer/internal/face"
	"portrait-mixer/internal/framing"
	"portrait-mixer/internal/geometry"
	"portrait-mixer/internal/logger"
	"portrait-mixer/internal/matte"
	"portrait-mixer/internal/opencv/conversion"
	"portrait-mixer/internal/opencv/safe"

	"gocv.io/x/gocv"
)

const component = "Portrait"

type Config = config.Config

func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

type Detector = face.Detector

type Extractor = matte.Extractor

// Processor runs the semi and mix stages. A Processor holds no per-photo
// state; every call works on its own buffers.
type Processor struct {
	detector  face.Detector
	extractor matte.Extractor
	margins   framing.Margins
	log       logger.Logger
	mem       safe.MemoryTracker
	timing    *timing.Tracker
	closers   []func()
}

type Option func(*Processor)

func WithDetector(d Detector) Option {
	return func(p *Processor) { p.detector = d }
}

func WithExtractor(e Extractor) Option {
	return func(p *Processor) { p.extractor = e }
}

func WithLogger(l logger.Logger) Option {
	return func(p *Processor) { p.log = l }
}

func WithMemoryTracker(t safe.MemoryTracker) Option {
	return func(p *Processor) { p.mem = t }
}

func WithTimingTracker(t *timing.Tracker) Option {
	return func(p *Processor) { p.timing = t }
}

// New builds a Processor from cfg. A nil cfg uses the defaults. Collaborators
// not supplied through options are built from cfg.
func New(cfg *Config, opts ...Option) (*Processor, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	p := &Processor{margins: cfg.Margins()}
	for _, opt := range opts {
		opt(p)
	}

	if p.log == nil {
		log, err := logger.FromConfig(cfg.Logging.Level, cfg.Logging.Format)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		p.log = log
	}
	if p.timing == nil {
		p.timing = timing.NewTracker()
	}

	if p.detector == nil {
		if err := p.buildDetector(cfg); err != nil {
			p.Close()
			return nil, err
		}
	}

	if p.extractor == nil {
		extractor, err := matte.NewGrabCutExtractor(cfg.GrabCutOptions(), p.mem)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to create matte extractor: %w", err)
		}
		p.extractor = extractor
	}

	return p, nil
}

func (p *Processor) buildDetector(cfg *Config) error {
	switch cfg.Detection.Backend {
	case "pigo":
		cascade, err := os.ReadFile(cfg.Detection.ModelPath)
		if err != nil {
			return fmt.Errorf("failed to read pigo cascade: %w", err)
		}
		d, err := face.NewPigoDetector(cascade, cfg.PigoOptions())
		if err != nil {
			return fmt.Errorf("failed to create pigo detector: %w", err)
		}
		p.detector = d
	default:
		d, err := face.NewCascadeDetector(cfg.Detection.ModelPath, cfg.CascadeOptions())
		if err != nil {
			return fmt.Errorf("failed to create cascade detector: %w", err)
		}
		p.detector = d
		p.closers = append(p.closers, d.Close)
	}

	p.log.Debug(component, "detector ready", map[string]interface{}{
		"backend": cfg.Detection.Backend,
		"model":   cfg.Detection.ModelPath,
	})
	return nil
}

// Close releases collaborators the Processor built itself.
func (p *Processor) Close() {
	for _, c := range p.closers {
		c()
	}
	p.closers = nil
}

func (p *Processor) Timings() *timing.Tracker {
	return p.timing
}

// ProcessSemi takes ownership of photo, which must be an RGB CV_8UC3 Mat,
// and returns the framed and matted artifact. photo is empty afterwards
// whether or not the call succeeds. faceResizeTo is the side of the square
// face area in pixels.
func (p *Processor) ProcessSemi(photo *safe.Mat, faceResizeTo int) (*SemiData, error) {
	if photo == nil {
		return nil, fmt.Errorf("%w: photo is nil", ErrInvalidArgument)
	}

	img := photo.Move()
	done := false
	defer func() {
		if !done {
			img.Close()
		}
	}()

	if img.Empty() {
		return nil, fmt.Errorf("%w: photo is empty", ErrInvalidArgument)
	}
	if faceResizeTo <= 0 {
		return nil, fmt.Errorf("%w: face resize target must be positive, got %d", ErrInvalidArgument, faceResizeTo)
	}

	bounds := img.Bounds()
	p.log.Debug(component, "semi processing started", map[string]interface{}{
		"width":          bounds.Dx(),
		"height":         bounds.Dy(),
		"face_resize_to": faceResizeTo,
	})

	ctx := p.timing.StartTiming("detect")
	faceRect, err := face.LocateSingle(p.detector, img)
	detectTime := p.timing.EndTiming(ctx)
	if err != nil {
		var countErr *face.CountError
		if errors.As(err, &countErr) {
			p.log.Warning(component, "face count mismatch", map[string]interface{}{
				"faces": countErr.Count,
			})
		}
		return nil, fmt.Errorf("face location failed: %w", err)
	}

	ctx = p.timing.StartTiming("frame")
	expanded, err := framing.Expand(bounds, faceRect, p.margins)
	if err != nil {
		p.timing.EndTiming(ctx)
		return nil, fmt.Errorf("face expansion failed: %w", err)
	}
	faceArea, err := framing.Resize(bounds, expanded, image.Pt(faceResizeTo, faceResizeTo))
	p.timing.EndTiming(ctx)
	if err != nil {
		p.log.Warning(component, "face area does not fit image", map[string]interface{}{
			"face_resize_to": faceResizeTo,
			"image":          bounds.String(),
		})
		return nil, fmt.Errorf("face resize failed: %w", err)
	}

	ctx = p.timing.StartTiming("matte")
	alpha, err := p.extractor.Extract(img, faceArea)
	matteTime := p.timing.EndTiming(ctx)
	if err != nil {
		return nil, fmt.Errorf("matte extraction failed: %w", err)
	}

	if alpha.Rows() != img.Rows() || alpha.Cols() != img.Cols() || alpha.Type() != gocv.MatTypeCV8UC4 {
		err := fmt.Errorf("%w: matte %dx%d with %d channels, image %dx%d",
			ErrMatteMismatch, alpha.Cols(), alpha.Rows(), alpha.Channels(), img.Cols(), img.Rows())
		alpha.Close()
		return nil, err
	}

	done = true

	p.log.Info(component, "semi processing completed", map[string]interface{}{
		"face":        faceRect.String(),
		"face_area":   faceArea.String(),
		"detect_time": detectTime,
		"matte_time":  matteTime,
	})

	return newSemiData(img, alpha, faceArea), nil
}

// Mix crops a size window centred on the artifact's face area, shifted down
// by verticalOffset pixels, and composites it onto back. The window must lie
// inside the source image; it is never clamped. semi is not modified.
// Mix panics with ErrEmptySemiData when semi is empty.
func (p *Processor) Mix(semi *SemiData, size image.Point, verticalOffset int, back color.RGBA) (*safe.Mat, error) {
	data := semi.payload()

	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("%w: output size %dx%d must be positive", ErrInvalidArgument, size.X, size.Y)
	}

	window := geometry.CenteredWindow(geometry.Center(data.faceArea), size, verticalOffset)
	if err := geometry.RequireInside(window, data.image.Bounds()); err != nil {
		p.log.Warning(component, "crop window out of range", map[string]interface{}{
			"window": window.String(),
			"image":  data.image.Bounds().String(),
		})
		return nil, fmt.Errorf("mix failed: %w", err)
	}

	ctx := p.timing.StartTiming("mix")
	defer p.timing.EndTiming(ctx)

	src, err := data.image.Crop(window, "mix_image")
	if err != nil {
		return nil, fmt.Errorf("failed to crop image: %w", err)
	}
	defer src.Close()

	alpha, err := data.matte.Crop(window, "mix_matte")
	if err != nil {
		return nil, fmt.Errorf("failed to crop matte: %w", err)
	}
	defer alpha.Close()

	out, err := compose.Blend(src, alpha, back, p.mem)
	if err != nil {
		return nil, fmt.Errorf("compositing failed: %w", err)
	}

	p.log.Debug(component, "mix completed", map[string]interface{}{
		"window": window.String(),
		"back":   fmt.Sprintf("#%02x%02x%02x", back.R, back.G, back.B),
	})

	return out, nil
}

// ProcessAll runs ProcessSemi and Mix and releases the intermediate
// artifact. photo is consumed.
func (p *Processor) ProcessAll(photo *safe.Mat, faceResizeTo int, size image.Point, verticalOffset int, back color.RGBA) (*safe.Mat, error) {
	semi, err := p.ProcessSemi(photo, faceResizeTo)
	if err != nil {
		return nil, err
	}
	defer semi.Close()

	return p.Mix(semi, size, verticalOffset, back)
}

// ProcessImage is ProcessAll for callers holding a decoded image.Image.
func (p *Processor) ProcessImage(img image.Image, faceResizeTo int, size image.Point, verticalOffset int, back color.RGBA) (image.Image, error) {
	photo, err := conversion.ImageToMat(img, p.mem, "photo")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	out, err := p.ProcessAll(photo, faceResizeTo, size, verticalOffset, back)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	return conversion.MatToImage(out)
}
