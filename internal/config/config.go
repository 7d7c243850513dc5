package config

import (
	"fmt"
	"os"

	"portrait-mixer/internal/face"
	"portrait-mixer/internal/framing"
	"portrait-mixer/internal/matte"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the portrait pipeline.
type Config struct {
	Framing   FramingConfig   `yaml:"framing"`
	Detection DetectionConfig `yaml:"detection"`
	Matte     MatteConfig     `yaml:"matte"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type FramingConfig struct {
	SideRatio   float64 `yaml:"side_ratio"`
	TopRatio    float64 `yaml:"top_ratio"`
	BottomRatio float64 `yaml:"bottom_ratio"`
}

type DetectionConfig struct {
	// Backend is "cascade" (OpenCV Haar) or "pigo".
	Backend      string  `yaml:"backend"`
	ModelPath    string  `yaml:"model_path"`
	ScaleFactor  float64 `yaml:"scale_factor"`
	MinNeighbors int     `yaml:"min_neighbors"`
	MinSize      int     `yaml:"min_size"`
	// MinQuality only applies to the pigo backend.
	MinQuality float32 `yaml:"min_quality"`
}

type MatteConfig struct {
	Iterations    int     `yaml:"iterations"`
	SubjectSide   float64 `yaml:"subject_side"`
	SubjectTop    float64 `yaml:"subject_top"`
	CleanupKernel int     `yaml:"cleanup_kernel"`
	FeatherSigma  float64 `yaml:"feather_sigma"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with default values
func Default() *Config {
	cascade := face.DefaultCascadeOptions()
	grabcut := matte.DefaultGrabCutOptions()

	return &Config{
		Framing: FramingConfig{
			SideRatio:   framing.DefaultSideRatio,
			TopRatio:    framing.DefaultTopRatio,
			BottomRatio: framing.DefaultBottomRatio,
		},
		Detection: DetectionConfig{
			Backend:      "cascade",
			ModelPath:    "haarcascade_frontalface_default.xml",
			ScaleFactor:  cascade.ScaleFactor,
			MinNeighbors: cascade.MinNeighbors,
			MinSize:      cascade.MinSize,
			MinQuality:   face.DefaultPigoOptions().QualityThreshold,
		},
		Matte: MatteConfig{
			Iterations:    grabcut.Iterations,
			SubjectSide:   grabcut.SubjectSide,
			SubjectTop:    grabcut.SubjectTop,
			CleanupKernel: grabcut.CleanupKernel,
			FeatherSigma:  grabcut.FeatherSigma,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a YAML file and overlays it on the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := c.Margins().Validate(); err != nil {
		return err
	}

	switch c.Detection.Backend {
	case "cascade", "pigo":
	default:
		return fmt.Errorf("unknown detection backend %q", c.Detection.Backend)
	}
	if c.Detection.ModelPath == "" {
		return fmt.Errorf("detection model path is required")
	}
	if c.Detection.Backend == "cascade" && c.Detection.ScaleFactor <= 1 {
		return fmt.Errorf("detection scale factor must exceed 1, got %v", c.Detection.ScaleFactor)
	}
	if c.Detection.MinSize < 0 {
		return fmt.Errorf("detection min size must be non-negative")
	}

	return c.GrabCutOptions().Validate()
}

func (c *Config) Margins() framing.Margins {
	return framing.Margins{
		Side:   c.Framing.SideRatio,
		Top:    c.Framing.TopRatio,
		Bottom: c.Framing.BottomRatio,
	}
}

func (c *Config) CascadeOptions() face.CascadeOptions {
	return face.CascadeOptions{
		ScaleFactor:  c.Detection.ScaleFactor,
		MinNeighbors: c.Detection.MinNeighbors,
		MinSize:      c.Detection.MinSize,
	}
}

func (c *Config) PigoOptions() face.PigoOptions {
	opts := face.DefaultPigoOptions()
	if c.Detection.MinSize > 0 {
		opts.MinSize = c.Detection.MinSize
	}
	if c.Detection.ScaleFactor > 1 {
		opts.ScaleFactor = c.Detection.ScaleFactor
	}
	opts.QualityThreshold = c.Detection.MinQuality
	return opts
}

func (c *Config) GrabCutOptions() matte.GrabCutOptions {
	return matte.GrabCutOptions{
		Iterations:    c.Matte.Iterations,
		SubjectSide:   c.Matte.SubjectSide,
		SubjectTop:    c.Matte.SubjectTop,
		CleanupKernel: c.Matte.CleanupKernel,
		FeatherSigma:  c.Matte.FeatherSigma,
	}
}
