package cubemap

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/fisheye/rimage"
)

// Background is written for pixels that see nothing.
var Background = color.RGBA{}

// Sample returns the bilinearly interpolated color of the cube map in direction ray. The four
// texels read are always inside the face. The zero vector samples as Background.
func Sample(ray r3.Vector, faces *FaceSet) color.RGBA {
	size := faces.Size()
	face, x, y, ok := FaceCoordinates(ray, size)
	if !ok {
		return Background
	}
	return bilinear(faces.Face(face), x, y)
}

// bilinear interpolates img at continuous texel coordinates already clamped to the image.
func bilinear(img *rimage.BGRA, x, y float64) color.RGBA {
	maxX, maxY := img.Width()-1, img.Height()-1
	x0, y0 := int(x), int(y)
	x1, y1 := min(x0+1, maxX), min(y0+1, maxY)
	fx, fy := x-float64(x0), y-float64(y0)

	ox, oy := img.Rect.Min.X, img.Rect.Min.Y
	p00 := img.PixOffset(ox+x0, oy+y0)
	p10 := img.PixOffset(ox+x1, oy+y0)
	p01 := img.PixOffset(ox+x0, oy+y1)
	p11 := img.PixOffset(ox+x1, oy+y1)

	w00 := (1 - fx) * (1 - fy)
	w10 := fx * (1 - fy)
	w01 := (1 - fx) * fy
	w11 := fx * fy

	var out [rimage.BytesPerPixel]uint8
	pix := img.Pix
	for c := 0; c < rimage.BytesPerPixel; c++ {
		v := w00*float64(pix[p00+c]) + w10*float64(pix[p10+c]) + w01*float64(pix[p01+c]) + w11*float64(pix[p11+c])
		out[c] = uint8(math.Min(math.Round(v), 255))
	}
	return color.RGBA{B: out[0], G: out[1], R: out[2], A: out[3]}
}
