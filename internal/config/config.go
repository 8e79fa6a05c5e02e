package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/cellglm/internal/glm"
	"github.com/banshee-data/cellglm/internal/units"
)

// DefaultConfigPath is the path to the canonical defaults file. The Get*
// methods return the same values when a field is unset.
const DefaultConfigPath = "config/cellglm.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config holds the analysis parameters. Every field is optional; the Get*
// methods supply defaults, so partial files are safe.
type Config struct {
	// Session params
	PixelsPerMetre      *float64 `json:"pixels_per_metre,omitempty" yaml:"pixels_per_metre,omitempty" validate:"omitempty,gt=0"`
	Channel             *int     `json:"channel,omitempty" yaml:"channel,omitempty" validate:"omitempty,min=1,max=4"`
	SmoothingSeconds    *float64 `json:"smoothing_seconds,omitempty" yaml:"smoothing_seconds,omitempty" validate:"omitempty,gte=0,lte=10"`
	BadTrackThresholdCm *float64 `json:"bad_track_threshold_cm,omitempty" yaml:"bad_track_threshold_cm,omitempty" validate:"omitempty,gt=0"`

	// Rate params
	RateWindowMs *float64 `json:"rate_window_ms,omitempty" yaml:"rate_window_ms,omitempty" validate:"omitempty,gt=0"`
	SpeedUnits   *string  `json:"speed_units,omitempty" yaml:"speed_units,omitempty" validate:"omitempty,speedunits"`

	// Model params
	Family    *string  `json:"family,omitempty" yaml:"family,omitempty" validate:"omitempty,family"`
	Graph     *string  `json:"graph,omitempty" yaml:"graph,omitempty" validate:"omitempty,graph"`
	Intercept *bool    `json:"intercept,omitempty" yaml:"intercept,omitempty"`
	MaxIter   *int     `json:"max_iter,omitempty" yaml:"max_iter,omitempty" validate:"omitempty,min=1,max=10000"`
	Tolerance *float64 `json:"tolerance,omitempty" yaml:"tolerance,omitempty" validate:"omitempty,gt=0,lt=1"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	for tag, fn := range map[string]validator.Func{
		"family": func(fl validator.FieldLevel) bool {
			_, err := glm.ParseFamily(fl.Field().String())
			return err == nil
		},
		"speedunits": func(fl validator.FieldLevel) bool {
			return units.IsValid(fl.Field().String())
		},
		"graph": func(fl validator.FieldLevel) bool {
			return isGraphName(fl.Field().String())
		},
	} {
		if err := validate.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("register %s validator: %v", tag, err))
		}
	}
}

// isGraphName accepts the graph names the command line does: "Rate" and
// "Rate_vs_Speed" in any case, with hyphens or underscores.
func isGraphName(s string) bool {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-") {
	case "rate", "rate-vs-speed":
		return true
	}
	return false
}

// Empty returns a Config with all fields unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a .json, .yaml or .yml file under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", ext, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repository root. Panics if the file
// cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/tools/gen-session/
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	return nil
}

// GetPixelsPerMetre returns pixels_per_metre, or 0 when unset so the
// recording header value is used.
func (c *Config) GetPixelsPerMetre() float64 {
	if c.PixelsPerMetre == nil {
		return 0
	}
	return *c.PixelsPerMetre
}

// GetChannel returns the tetrode channel whose waveforms are kept.
func (c *Config) GetChannel() int {
	if c.Channel == nil {
		return 1
	}
	return *c.Channel
}

// GetSmoothingSeconds returns the position boxcar width in seconds.
func (c *Config) GetSmoothingSeconds() float64 {
	if c.SmoothingSeconds == nil {
		return 0.4
	}
	return *c.SmoothingSeconds
}

// GetBadTrackThresholdCm returns the jump size treated as a tracking error.
func (c *Config) GetBadTrackThresholdCm() float64 {
	if c.BadTrackThresholdCm == nil {
		return 2
	}
	return *c.BadTrackThresholdCm
}

// GetRateWindowMs returns the firing rate bin width.
func (c *Config) GetRateWindowMs() float64 {
	if c.RateWindowMs == nil {
		return 400
	}
	return *c.RateWindowMs
}

// GetSpeedUnits returns the unit of the speed axis.
func (c *Config) GetSpeedUnits() string {
	if c.SpeedUnits == nil || *c.SpeedUnits == "" {
		return units.CMS
	}
	return *c.SpeedUnits
}

// GetFamily returns the model family, falling back to Poisson when unset
// or unparseable.
func (c *Config) GetFamily() glm.Family {
	if c.Family == nil {
		return glm.Poisson
	}
	f, err := glm.ParseFamily(*c.Family)
	if err != nil {
		return glm.Poisson
	}
	return f
}

// GetGraph returns the graph type name.
func (c *Config) GetGraph() string {
	if c.Graph == nil || *c.Graph == "" {
		return "Rate"
	}
	return *c.Graph
}

func (c *Config) GetIntercept() bool {
	if c.Intercept == nil {
		return true
	}
	return *c.Intercept
}

func (c *Config) GetMaxIter() int {
	if c.MaxIter == nil {
		return 100
	}
	return *c.MaxIter
}

func (c *Config) GetTolerance() float64 {
	if c.Tolerance == nil {
		return 1e-8
	}
	return *c.Tolerance
}

// GLMOptions returns the fit options described by the config.
func (c *Config) GLMOptions() glm.Options {
	return glm.Options{
		Intercept: c.GetIntercept(),
		MaxIter:   c.GetMaxIter(),
		Tolerance: c.GetTolerance(),
	}
}
