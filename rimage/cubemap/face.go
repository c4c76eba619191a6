// Package cubemap samples six-face environment captures and unwraps them into fisheye images.
package cubemap

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// Face identifies one of the six cube-map faces. The values are the face indices within a FaceSet.
type Face int

// The six faces in index order.
const (
	PositiveX Face = iota
	NegativeX
	PositiveY
	NegativeY
	PositiveZ
	NegativeZ
)

// NumFaces is the number of faces in a cube map.
const NumFaces = 6

func (f Face) String() string {
	switch f {
	case PositiveX:
		return "+X"
	case NegativeX:
		return "-X"
	case PositiveY:
		return "+Y"
	case NegativeY:
		return "-Y"
	case PositiveZ:
		return "+Z"
	case NegativeZ:
		return "-Z"
	default:
		return fmt.Sprintf("Face(%d)", int(f))
	}
}

// faceBasis maps a direction onto a face's image plane. s points along the face image's +x
// (columns) and t along its +y (rows); both are orthogonal to the face's major axis.
type faceBasis struct {
	s, t r3.Vector
}

// faceTable holds the basis of each face in the camera frame (+X right, +Y down, +Z forward).
// Each face is what a 90 degree pinhole camera looking along the face axis would see, with
// s = t × forward.
var faceTable = [NumFaces]faceBasis{
	PositiveX: {s: r3.Vector{X: 0, Y: 0, Z: -1}, t: r3.Vector{X: 0, Y: 1, Z: 0}},
	NegativeX: {s: r3.Vector{X: 0, Y: 0, Z: 1}, t: r3.Vector{X: 0, Y: 1, Z: 0}},
	PositiveY: {s: r3.Vector{X: 1, Y: 0, Z: 0}, t: r3.Vector{X: 0, Y: 0, Z: -1}},
	NegativeY: {s: r3.Vector{X: 1, Y: 0, Z: 0}, t: r3.Vector{X: 0, Y: 0, Z: 1}},
	PositiveZ: {s: r3.Vector{X: 1, Y: 0, Z: 0}, t: r3.Vector{X: 0, Y: 1, Z: 0}},
	NegativeZ: {s: r3.Vector{X: -1, Y: 0, Z: 0}, t: r3.Vector{X: 0, Y: 1, Z: 0}},
}

// dominantFace returns the face hit by ray and the absolute value of its major component.
// Ties prefer X over Y over Z.
func dominantFace(ray r3.Vector) (Face, float64) {
	ax, ay, az := math.Abs(ray.X), math.Abs(ray.Y), math.Abs(ray.Z)
	switch {
	case ax >= ay && ax >= az:
		if ray.X >= 0 {
			return PositiveX, ax
		}
		return NegativeX, ax
	case ay >= az:
		if ray.Y >= 0 {
			return PositiveY, ay
		}
		return NegativeY, ay
	default:
		if ray.Z >= 0 {
			return PositiveZ, az
		}
		return NegativeZ, az
	}
}

// Direction returns the unit direction through the center of texel (x, y) on face f of a cube map
// with the given face size. It is the inverse of FaceCoordinates for in-range texels.
func Direction(f Face, x, y float64, size int) r3.Vector {
	sc := 2*(x+0.5)/float64(size) - 1
	tc := 2*(y+0.5)/float64(size) - 1
	basis := faceTable[f]
	axis := basis.s.Cross(basis.t)
	return basis.s.Mul(sc).Add(basis.t.Mul(tc)).Add(axis).Normalize()
}

// FaceCoordinates returns the face hit by ray and the continuous texel coordinates of the hit on
// a face of size x size texels. Texel centers sit at integer coordinates and both coordinates are
// clamped to [0, size-1]. ok is false for the zero vector or a non-positive size.
func FaceCoordinates(ray r3.Vector, size int) (Face, float64, float64, bool) {
	face, major := dominantFace(ray)
	if !(major > 0) || size <= 0 {
		return face, 0, 0, false
	}
	basis := faceTable[face]
	sc := basis.s.Dot(ray) / major
	tc := basis.t.Dot(ray) / major

	limit := float64(size - 1)
	x := clamp((sc+1)/2*float64(size)-0.5, 0, limit)
	y := clamp((tc+1)/2*float64(size)-0.5, 0, limit)
	return face, x, y, true
}

func clamp(v, lo, hi float64) float64 {
	if !(v >= lo) {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
