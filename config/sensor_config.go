package config

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"io"
	"time"

	"github.com/a8m/envsubst"
	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"

	"go.viam.com/fisheye/components/camera/fisheye"
	"go.viam.com/fisheye/components/camera/fisheye/fake"
	"go.viam.com/fisheye/logging"
	"go.viam.com/fisheye/rimage/cubemap"
)

// Defaults applied by Validate.
const (
	DefaultTickPeriod      = 50 * time.Millisecond
	DefaultEnvironmentType = EnvironmentUniform
	DefaultColor           = "#ffffff"
)

// Environment types.
const (
	EnvironmentUniform  = "uniform"
	EnvironmentGradient = "gradient"
	EnvironmentImages   = "images"
)

// SensorConfig configures one fisheye sensor run from the command line.
type SensorConfig struct {
	Name               string                 `json:"name,omitempty"`
	TickPeriod         Duration               `json:"tick_period,omitempty"`
	RenderFenceTimeout Duration               `json:"render_fence_timeout,omitempty"`
	LogLevel           *logging.Level         `json:"log_level,omitempty"`
	Attributes         map[string]interface{} `json:"attributes,omitempty"`
	Environment        EnvironmentConfig      `json:"environment"`
}

// EnvironmentConfig selects the synthetic scene rendered around the camera.
type EnvironmentConfig struct {
	Type string `json:"type,omitempty"`
	// Color is a hex color for the uniform environment.
	Color string `json:"color,omitempty"`
	// Faces are image paths for +X, -X, +Y, -Y, +Z and -Z in that order.
	Faces []string `json:"faces,omitempty"`
}

// Duration is a time.Duration written in JSON as a string such as "50ms", or as a number of
// seconds.
type Duration time.Duration

// UnmarshalJSON parses a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(value * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return errors.Wrapf(err, "invalid duration %q", value)
		}
		*d = Duration(parsed)
	default:
		return errors.Errorf("invalid duration %s", string(data))
	}
	return nil
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Read reads a sensor config from the given file after substituting environment variables.
func Read(filePath string) (*SensorConfig, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	cfg, err := FromReader(bytes.NewReader(buf))
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", filePath)
	}
	return cfg, nil
}

// FromReader reads and validates a sensor config.
func FromReader(r io.Reader) (*SensorConfig, error) {
	var cfg SensorConfig
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "cannot parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fills in defaults and checks the config can be run.
func (cfg *SensorConfig) Validate() error {
	if cfg.TickPeriod == 0 {
		cfg.TickPeriod = Duration(DefaultTickPeriod)
	}
	if cfg.TickPeriod < 0 {
		return errors.Errorf("tick_period must be positive, got %v", time.Duration(cfg.TickPeriod))
	}
	if cfg.RenderFenceTimeout == 0 {
		cfg.RenderFenceTimeout = Duration(fisheye.DefaultRenderFenceTimeout)
	}
	if cfg.RenderFenceTimeout < 0 {
		return errors.Errorf("render_fence_timeout must be positive, got %v", time.Duration(cfg.RenderFenceTimeout))
	}
	if _, err := cfg.Parameters(); err != nil {
		return err
	}
	return cfg.Environment.Validate()
}

// Parameters resolves the sensor attributes.
func (cfg *SensorConfig) Parameters() (fisheye.Parameters, error) {
	return fisheye.Update(cfg.Attributes)
}

// Validate fills in defaults and checks the environment can be built.
func (env *EnvironmentConfig) Validate() error {
	if env.Type == "" {
		env.Type = DefaultEnvironmentType
	}
	switch env.Type {
	case EnvironmentUniform:
		if env.Color == "" {
			env.Color = DefaultColor
		}
		if _, err := colorful.Hex(env.Color); err != nil {
			return errors.Wrapf(err, "invalid environment color %q", env.Color)
		}
	case EnvironmentGradient:
	case EnvironmentImages:
		if len(env.Faces) != cubemap.NumFaces {
			return errors.Errorf("images environment needs %d faces, got %d", cubemap.NumFaces, len(env.Faces))
		}
	default:
		return errors.Errorf("unknown environment type %q", env.Type)
	}
	return nil
}

// Build creates the environment, loading face images from disk if needed.
func (env EnvironmentConfig) Build() (fake.Environment, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	switch env.Type {
	case EnvironmentGradient:
		return fake.GradientEnvironment{}, nil
	case EnvironmentImages:
		var faces [cubemap.NumFaces]image.Image
		for i, path := range env.Faces {
			img, err := imaging.Open(path)
			if err != nil {
				return nil, errors.Wrapf(err, "loading face %v", cubemap.Face(i))
			}
			faces[i] = img
		}
		return fake.NewImageEnvironment(faces)
	default:
		c, err := colorful.Hex(env.Color)
		if err != nil {
			return nil, err
		}
		r, g, b := c.RGB255()
		return fake.UniformEnvironment{Color: color.RGBA{R: r, G: g, B: b, A: 255}}, nil
	}
}
