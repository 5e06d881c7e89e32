package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the agent. The zero-argument defaults are
// the values the parent process expects; a config file is optional.
type Config struct {
	Camera    CameraConfig    `yaml:"camera"`
	Detection DetectionConfig `yaml:"detection"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Debug     DebugConfig     `yaml:"debug"`
}

// CameraConfig selects the capture device
type CameraConfig struct {
	Device int `yaml:"device"` // OpenCV device index, 0 is the default webcam
}

// DetectionConfig tunes the Haar cascade
type DetectionConfig struct {
	Cascade      string  `yaml:"cascade"`       // cascade XML file, resolved via ResolveResource
	ScaleFactor  float64 `yaml:"scale_factor"`  // image pyramid step
	MinNeighbors int     `yaml:"min_neighbors"` // neighbours a candidate needs to be kept
	MinSize      int     `yaml:"min_size"`      // smallest face edge in pixels
}

// SnapshotConfig controls the periodic still frame
type SnapshotConfig struct {
	Format   string        `yaml:"format"`
	Quality  int           `yaml:"quality"` // JPEG quality 1-100
	Interval time.Duration `yaml:"interval"`
}

// MonitorConfig paces the polling loop
type MonitorConfig struct {
	TickInterval          time.Duration `yaml:"tick_interval"`
	ReadBackoff           time.Duration `yaml:"read_backoff"`
	DetectBackoff         time.Duration `yaml:"detect_backoff"`
	ConfirmationThreshold int           `yaml:"confirmation_threshold"`
}

// DebugConfig controls the diagnostic stream
type DebugConfig struct {
	Tag     string `yaml:"tag"`
	Verbose bool   `yaml:"verbose"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			Device: 0,
		},
		Detection: DetectionConfig{
			Cascade:      "haarcascade_frontalface_default.xml",
			ScaleFactor:  1.1,
			MinNeighbors: 4,
			MinSize:      60,
		},
		Snapshot: SnapshotConfig{
			Format:   "jpeg",
			Quality:  90,
			Interval: 60 * time.Second,
		},
		Monitor: MonitorConfig{
			TickInterval:          500 * time.Millisecond,
			ReadBackoff:           500 * time.Millisecond,
			DetectBackoff:         time.Second,
			ConfirmationThreshold: 3,
		},
		Debug: DebugConfig{
			Tag: "[AGENT-DEBUG]",
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the agent cannot run with
func (c *Config) Validate() error {
	if c.Camera.Device < 0 {
		return fmt.Errorf("camera.device must be >= 0, got %d", c.Camera.Device)
	}

	if c.Detection.Cascade == "" {
		return fmt.Errorf("detection.cascade is required")
	}
	if c.Detection.ScaleFactor <= 1.0 {
		return fmt.Errorf("detection.scale_factor must be > 1.0, got %g", c.Detection.ScaleFactor)
	}
	if c.Detection.MinNeighbors < 0 {
		return fmt.Errorf("detection.min_neighbors must be >= 0, got %d", c.Detection.MinNeighbors)
	}
	if c.Detection.MinSize < 0 {
		return fmt.Errorf("detection.min_size must be >= 0, got %d", c.Detection.MinSize)
	}

	if c.Snapshot.Format != "jpeg" {
		return fmt.Errorf("snapshot.format %q is not supported", c.Snapshot.Format)
	}
	if c.Snapshot.Quality < 1 || c.Snapshot.Quality > 100 {
		return fmt.Errorf("snapshot.quality must be 1-100, got %d", c.Snapshot.Quality)
	}
	if c.Snapshot.Interval <= 0 {
		return fmt.Errorf("snapshot.interval must be positive, got %v", c.Snapshot.Interval)
	}

	if c.Monitor.TickInterval <= 0 {
		return fmt.Errorf("monitor.tick_interval must be positive, got %v", c.Monitor.TickInterval)
	}
	if c.Monitor.ReadBackoff <= 0 {
		return fmt.Errorf("monitor.read_backoff must be positive, got %v", c.Monitor.ReadBackoff)
	}
	if c.Monitor.DetectBackoff <= 0 {
		return fmt.Errorf("monitor.detect_backoff must be positive, got %v", c.Monitor.DetectBackoff)
	}
	if c.Monitor.ConfirmationThreshold < 1 {
		return fmt.Errorf("monitor.confirmation_threshold must be >= 1, got %d", c.Monitor.ConfirmationThreshold)
	}

	return nil
}

// ResolveResource locates a bundled file. Absolute paths and paths that
// exist relative to the working directory are returned as is; otherwise the
// directory of the running executable is tried. If nothing exists the name
// is returned unchanged so the caller reports the original path.
func ResolveResource(name string) string {
	return resolveResource(name, os.Executable)
}

func resolveResource(name string, executable func() (string, error)) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	if _, err := os.Stat(name); err == nil {
		return name
	}

	exe, err := executable()
	if err != nil {
		return name
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	candidate := filepath.Join(filepath.Dir(exe), name)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return name
}
