package transform

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/fisheye/utils"
)

const (
	// DefaultMaxIterations bounds the Newton iteration that inverts the distortion polynomial.
	DefaultMaxIterations = 20
	// ConvergenceTolerance is the largest accepted |r(θ) - r| on the normalized image plane.
	ConvergenceTolerance = 1e-9
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrapf(ErrNoIntrinsics, msg)
}

// FisheyeCameraIntrinsics holds the image size, focal lengths and principal point that map
// pixels to the normalized image plane.
type FisheyeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for FisheyeCameraIntrinsics have valid inputs.
func (params *FisheyeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx == 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy == 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	return nil
}

// PixelToNormalized maps a pixel to the normalized image plane.
func (params *FisheyeCameraIntrinsics) PixelToNormalized(px, py float64) (float64, float64) {
	return (px - params.Ppx) / params.Fx, (py - params.Ppy) / params.Fy
}

// NormalizedToPixel maps a point on the normalized image plane to pixel coordinates.
func (params *FisheyeCameraIntrinsics) NormalizedToPixel(u, v float64) (float64, float64) {
	return u*params.Fx + params.Ppx, v*params.Fy + params.Ppy
}

// GetCameraMatrix creates a new camera matrix and returns it.
// Camera matrix:
// [[fx 0 ppx],
//
//	[0 fy ppy],
//	[0 0  1]]
func (params *FisheyeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}

// FisheyeCameraModel is a fisheye camera with a Kannala-Brandt lens limited to a total field of
// view of MaxAngle degrees. Camera space is +X right, +Y down and +Z along the optical axis.
// A model is immutable once built and safe for concurrent use.
type FisheyeCameraModel struct {
	*FisheyeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion               *KannalaBrandt `json:"distortion"`
	// MaxAngle is the full field of view in degrees; rays further than MaxAngle/2 from the
	// optical axis are outside the image.
	MaxAngle float64 `json:"max_angle_degs"`

	maxIterations int
	thetaMax      float64
	boundary      float64
}

// MaxFieldOfView is the widest field of view in degrees a model accepts rays for; a wider
// MaxAngle yields a model where no pixel has a ray.
const MaxFieldOfView = 360

// monotonicSamples is how finely the distortion polynomial is scanned for a turning point.
const monotonicSamples = 256

// NewFisheyeCameraModel builds a model. Out of range values are accepted; they produce a model for
// which most or all pixels have no ray. When r(θ) stops increasing before MaxAngle/2, the usable
// field of view ends at the turning point so that every valid radius has exactly one angle.
func NewFisheyeCameraModel(
	intrinsics *FisheyeCameraIntrinsics,
	distortion *KannalaBrandt,
	maxAngleDegs float64,
) (*FisheyeCameraModel, error) {
	if intrinsics == nil {
		return nil, NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if distortion == nil {
		distortion = &KannalaBrandt{}
	}
	thetaMax := utils.DegToRad(maxAngleDegs) / 2
	if maxAngleDegs > MaxFieldOfView {
		thetaMax = -1
	} else {
		thetaMax = increasingUntil(distortion, thetaMax)
	}
	return &FisheyeCameraModel{
		FisheyeCameraIntrinsics: intrinsics,
		Distortion:              distortion,
		MaxAngle:                maxAngleDegs,
		maxIterations:           DefaultMaxIterations,
		thetaMax:                thetaMax,
		boundary:                distortion.Radius(thetaMax),
	}, nil
}

// increasingUntil returns the largest θ <= limit such that kb.Radius is strictly increasing on
// [0, θ].
func increasingUntil(kb *KannalaBrandt, limit float64) float64 {
	if !(limit > 0) {
		return limit
	}
	step := limit / monotonicSamples
	prev := 0.0
	for i := 1; i <= monotonicSamples; i++ {
		theta := float64(i) * step
		if kb.Derivative(theta) > 0 {
			prev = theta
			continue
		}
		// r'(prev) > 0 >= r'(theta); narrow down to the turning point from below.
		lo, hi := prev, theta
		for j := 0; j < 50; j++ {
			mid := (lo + hi) / 2
			if kb.Derivative(mid) > 0 {
				lo = mid
			} else {
				hi = mid
			}
		}
		return lo
	}
	return limit
}

// ThetaMax returns the largest angle from the optical axis that has a pixel, in radians. It is
// half the field of view unless the distortion polynomial turns over first, and negative when no
// pixel has a ray.
func (m *FisheyeCameraModel) ThetaMax() float64 {
	return m.thetaMax
}

// BoundaryRadius returns r(ThetaMax), the largest valid radius on the normalized image plane.
func (m *FisheyeCameraModel) BoundaryRadius() float64 {
	return m.boundary
}

// ProjectAngleToRadius returns the distorted radius for theta clamped to [0, ThetaMax].
func (m *FisheyeCameraModel) ProjectAngleToRadius(theta float64) float64 {
	return m.Distortion.Radius(utils.Clamp(theta, 0, math.Max(m.thetaMax, 0)))
}

// InvertRadius recovers θ from a normalized radius. Newton steps are kept inside a bracket around
// the root and replaced by bisection when they leave it. ok is false when r is outside
// [0, BoundaryRadius] or the iteration did not converge.
func (m *FisheyeCameraModel) InvertRadius(r float64) (float64, bool) {
	if !(r >= 0) {
		return 0, false
	}
	if r == 0 {
		return 0, m.thetaMax >= 0
	}
	if m.thetaMax <= 0 || !(r <= m.boundary) {
		return 0, false
	}

	lo, hi := 0.0, m.thetaMax
	theta := r / m.boundary * m.thetaMax
	for i := 0; i < m.maxIterations; i++ {
		residual := m.Distortion.Radius(theta) - r
		if math.Abs(residual) <= ConvergenceTolerance {
			return theta, true
		}
		// r(lo) < r <= r(hi) holds throughout.
		if residual > 0 {
			hi = theta
		} else {
			lo = theta
		}
		slope := m.Distortion.Derivative(theta)
		next := theta - residual/slope
		if slope <= 0 || !(next > lo && next < hi) {
			next = (lo + hi) / 2
		}
		theta = next
	}
	if math.Abs(m.Distortion.Radius(theta)-r) <= ConvergenceTolerance {
		return theta, true
	}
	return 0, false
}

// PixelToRay returns the unit ray in camera space seen by pixel (px, py). ok is false when the
// pixel lies outside the field of view or the radius could not be inverted.
func (m *FisheyeCameraModel) PixelToRay(px, py float64) (r3.Vector, bool) {
	u, v := m.PixelToNormalized(px, py)
	r := math.Hypot(u, v)
	theta, ok := m.InvertRadius(r)
	if !ok {
		return r3.Vector{}, false
	}
	if r == 0 {
		return r3.Vector{X: 0, Y: 0, Z: 1}, true
	}
	s := math.Sin(theta) / r
	return r3.Vector{X: u * s, Y: v * s, Z: math.Cos(theta)}, true
}

// RayToPixel projects a camera space direction to pixel coordinates. ok is false for the zero
// vector and for rays more than ThetaMax from the optical axis.
func (m *FisheyeCameraModel) RayToPixel(ray r3.Vector) (float64, float64, bool) {
	rho := math.Hypot(ray.X, ray.Y)
	if rho == 0 && ray.Z == 0 {
		return 0, 0, false
	}
	theta := math.Atan2(rho, ray.Z)
	if theta > m.thetaMax {
		return 0, 0, false
	}
	if rho == 0 {
		return m.Ppx, m.Ppy, true
	}
	r := m.Distortion.Radius(theta)
	px, py := m.NormalizedToPixel(r*ray.X/rho, r*ray.Y/rho)
	return px, py, true
}
