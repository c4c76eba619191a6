package transform

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// KannalaBrandt is the equidistant fisheye lens model with an odd polynomial in the incidence
// angle θ:
//
//	r(θ) = θ·(1 + k1·θ² + k2·θ⁴ + k3·θ⁶ + k4·θ⁸)
//
// where r is the distorted radius on the normalized image plane. With all coefficients at zero
// the radius is linear in θ.
type KannalaBrandt struct {
	K1 float64 `json:"k1"`
	K2 float64 `json:"k2"`
	K3 float64 `json:"k3"`
	K4 float64 `json:"k4"`
}

// NewKannalaBrandt takes in a slice of floats that will be passed into the struct in order.
func NewKannalaBrandt(inp []float64) (*KannalaBrandt, error) {
	if len(inp) > 4 {
		return nil, errors.Errorf("list of parameters too long, expected max 4, got %d", len(inp))
	}
	params := make([]float64, 4)
	copy(params, inp)
	return &KannalaBrandt{params[0], params[1], params[2], params[3]}, nil
}

// CheckValid checks if the fields for KannalaBrandt have valid inputs.
func (kb *KannalaBrandt) CheckValid() error {
	if kb == nil {
		return InvalidDistortionError("KannalaBrandt shaped distortion_parameters not provided")
	}
	for i, k := range kb.Parameters() {
		if math.IsNaN(k) || math.IsInf(k, 0) {
			return InvalidDistortionError(fmt.Sprintf("coefficient k%d is not finite", i+1))
		}
	}
	return nil
}

// ModelType returns the type of distortion model.
func (kb *KannalaBrandt) ModelType() DistortionType {
	return KannalaBrandtDistortionType
}

// Parameters returns the distortion parameters in a list.
func (kb *KannalaBrandt) Parameters() []float64 {
	if kb == nil {
		return []float64{}
	}
	return []float64{kb.K1, kb.K2, kb.K3, kb.K4}
}

// Radius returns the distorted radius r(θ) for an incidence angle theta in radians.
func (kb *KannalaBrandt) Radius(theta float64) float64 {
	if kb == nil {
		return theta
	}
	return ProjectAngleToRadius(theta, kb.K1, kb.K2, kb.K3, kb.K4)
}

// Derivative returns dr/dθ at theta.
func (kb *KannalaBrandt) Derivative(theta float64) float64 {
	if kb == nil {
		return 1
	}
	t2 := theta * theta
	t4 := t2 * t2
	t6 := t4 * t2
	t8 := t4 * t4
	return 1 + 3*kb.K1*t2 + 5*kb.K2*t4 + 7*kb.K3*t6 + 9*kb.K4*t8
}

// Transform distorts a point (x, y) on the undistorted (pinhole) normalized image plane. The
// pinhole radius is tan(θ), so points behind the camera cannot be represented.
func (kb *KannalaBrandt) Transform(x, y float64) (float64, float64) {
	rho := math.Hypot(x, y)
	if rho == 0 {
		return x, y
	}
	scale := kb.Radius(math.Atan(rho)) / rho
	return x * scale, y * scale
}

// ProjectAngleToRadius evaluates the fisheye polynomial
// r(θ) = θ·(1 + d1·θ² + d2·θ⁴ + d3·θ⁶ + d4·θ⁸).
func ProjectAngleToRadius(theta, d1, d2, d3, d4 float64) float64 {
	t2 := theta * theta
	// Horner form in θ².
	return theta * (1 + t2*(d1+t2*(d2+t2*(d3+t2*d4))))
}
