// Package fisheye implements a synthetic fisheye camera that unwraps a cube-map render into a
// Kannala-Brandt fisheye image once per tick.
package fisheye

import (
	"reflect"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"go.viam.com/fisheye/rimage/transform"
)

// Attribute keys understood by Update.
const (
	AttrImageSizeX = "image_size_x"
	AttrImageSizeY = "image_size_y"
	AttrFOV        = "fov"
	AttrFx         = "f_x"
	AttrFy         = "f_y"
	AttrCx         = "c_x"
	AttrCy         = "c_y"
	AttrD1         = "d_1"
	AttrD2         = "d_2"
	AttrD3         = "d_3"
	AttrD4         = "d_4"
)

// Parameters are the resolved settings of one fisheye sensor.
type Parameters struct {
	Width    int     `mapstructure:"image_size_x" json:"image_size_x"`
	Height   int     `mapstructure:"image_size_y" json:"image_size_y"`
	MaxAngle float64 `mapstructure:"fov" json:"fov"`
	Fx       float64 `mapstructure:"f_x" json:"f_x"`
	Fy       float64 `mapstructure:"f_y" json:"f_y"`
	Cx       float64 `mapstructure:"c_x" json:"c_x"`
	Cy       float64 `mapstructure:"c_y" json:"c_y"`
	D1       float64 `mapstructure:"d_1" json:"d_1"`
	D2       float64 `mapstructure:"d_2" json:"d_2"`
	D3       float64 `mapstructure:"d_3" json:"d_3"`
	D4       float64 `mapstructure:"d_4" json:"d_4"`
}

// DefaultParameters returns the settings used for every attribute that is not given.
func DefaultParameters() Parameters {
	return Parameters{
		Width:    1280,
		Height:   720,
		MaxAngle: 210,
		Fx:       320,
		Fy:       320,
		Cx:       640,
		Cy:       360,
		D1:       0.08309221636708493,
		D2:       0.01112126630599195,
		D3:       -0.008587261043925865,
		D4:       0.0008542188930970716,
	}
}

// Update resolves raw attributes into Parameters. Absent keys take their default and unknown keys
// are ignored. Values may be numbers, numeric strings or booleans; anything else is an error.
// Ranges are not checked.
func Update(attrs map[string]interface{}) (Parameters, error) {
	params := DefaultParameters()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: coerceNumber,
		Result:     &params,
	})
	if err != nil {
		return Parameters{}, err
	}
	if err := decoder.Decode(attrs); err != nil {
		return Parameters{}, errors.Wrap(err, "invalid fisheye attributes")
	}
	return params, nil
}

// coerceNumber converts attribute values the way numeric attributes are read: everything goes
// through float64 and image sizes are truncated to whole pixels.
func coerceNumber(_, to reflect.Type, data interface{}) (interface{}, error) {
	switch to.Kind() {
	case reflect.Float64:
		return cast.ToFloat64E(data)
	case reflect.Int:
		f, err := cast.ToFloat64E(data)
		if err != nil {
			return nil, err
		}
		return int(f), nil
	default:
		return data, nil
	}
}

// Intrinsics returns the pinhole part of the camera model.
func (p Parameters) Intrinsics() *transform.FisheyeCameraIntrinsics {
	return &transform.FisheyeCameraIntrinsics{
		Width:  p.Width,
		Height: p.Height,
		Fx:     p.Fx,
		Fy:     p.Fy,
		Ppx:    p.Cx,
		Ppy:    p.Cy,
	}
}

// Model builds the camera model the unwrap uses.
func (p Parameters) Model() (*transform.FisheyeCameraModel, error) {
	return transform.NewFisheyeCameraModel(p.Intrinsics(), &transform.KannalaBrandt{
		K1: p.D1,
		K2: p.D2,
		K3: p.D3,
		K4: p.D4,
	}, p.MaxAngle)
}

// FaceSize is the edge length of each cube render target face. The render target follows the
// image width.
func (p Parameters) FaceSize() int {
	return p.Width
}
