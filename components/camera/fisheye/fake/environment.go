package fake

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"

	"go.viam.com/fisheye/rimage"
	"go.viam.com/fisheye/rimage/cubemap"
	"go.viam.com/fisheye/utils"
)

// An Environment is the scene surrounding the camera.
type Environment interface {
	// RenderFace draws what face of a cube centered on the camera sees into dst, which is square.
	RenderFace(ctx context.Context, face cubemap.Face, dst *rimage.BGRA) error
}

// UniformEnvironment is the same color in every direction.
type UniformEnvironment struct {
	Color color.RGBA
}

// RenderFace fills dst with the environment color.
func (env UniformEnvironment) RenderFace(_ context.Context, _ cubemap.Face, dst *rimage.BGRA) error {
	dst.Fill(env.Color)
	return nil
}

// GradientEnvironment colors each direction by azimuth (hue) and elevation (value) so that every
// part of the sphere is distinguishable.
type GradientEnvironment struct{}

// RenderFace draws the gradient on one face.
func (GradientEnvironment) RenderFace(ctx context.Context, face cubemap.Face, dst *rimage.BGRA) error {
	size := dst.Width()
	ox, oy := dst.Rect.Min.X, dst.Rect.Min.Y
	return utils.ParallelForEachRow(ctx, size, func(y int) {
		for x := 0; x < size; x++ {
			dst.SetRGBA(ox+x, oy+y, GradientColor(cubemap.Direction(face, float64(x), float64(y), size)))
		}
	})
}

// GradientColor is the color GradientEnvironment shows in direction dir. Hue follows the
// azimuth around the vertical axis and brightness grows from straight down to straight up.
func GradientColor(dir r3.Vector) color.RGBA {
	norm := dir.Norm()
	if norm == 0 {
		return color.RGBA{A: 255}
	}
	hue := math.Mod(utils.RadToDeg(math.Atan2(dir.X, dir.Z))+360, 360)
	// +Y points down.
	elevation := math.Asin(utils.Clamp(-dir.Y/norm, -1, 1))
	value := 0.25 + 0.75*(elevation+math.Pi/2)/math.Pi
	r, g, b := colorful.Hsv(hue, 1, value).Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// ImageEnvironment shows a fixed picture on each face, scaled to the render target.
type ImageEnvironment struct {
	sources [cubemap.NumFaces]image.Image

	mu      sync.Mutex
	size    int
	resized [cubemap.NumFaces]*rimage.BGRA
}

// NewImageEnvironment uses faces[f] as the picture on face f.
func NewImageEnvironment(faces [cubemap.NumFaces]image.Image) (*ImageEnvironment, error) {
	for i, img := range faces {
		if img == nil || img.Bounds().Empty() {
			return nil, errors.Errorf("no image for face %v", cubemap.Face(i))
		}
	}
	return &ImageEnvironment{sources: faces}, nil
}

// RenderFace copies the scaled picture for face into dst.
func (env *ImageEnvironment) RenderFace(_ context.Context, face cubemap.Face, dst *rimage.BGRA) error {
	src := env.scaled(face, dst.Width())
	copy(dst.Pix, src.Pix)
	return nil
}

func (env *ImageEnvironment) scaled(face cubemap.Face, size int) *rimage.BGRA {
	env.mu.Lock()
	defer env.mu.Unlock()
	if env.size != size {
		env.size = size
		env.resized = [cubemap.NumFaces]*rimage.BGRA{}
	}
	if env.resized[face] == nil {
		env.resized[face] = rimage.NewBGRAFromImage(imaging.Resize(env.sources[face], size, size, imaging.Linear))
	}
	return env.resized[face]
}
