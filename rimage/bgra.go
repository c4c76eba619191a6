// Package rimage holds the image types shared by the cube-map sampler and the sensor output.
package rimage

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
)

// BytesPerPixel is the size of one BGRA pixel.
const BytesPerPixel = 4

// BGRA is an in-memory image whose pixels are stored row-major as B, G, R, A bytes. This is the
// layout the render backend produces and the layout the sensor emits.
type BGRA struct {
	// Pix holds the image's pixels in B, G, R, A order. The pixel at (x, y) starts at
	// Pix[(y-Rect.Min.Y)*Stride + (x-Rect.Min.X)*4].
	Pix    []uint8
	Stride int
	Rect   image.Rectangle
}

// NewBGRA returns a new BGRA image with the given bounds.
func NewBGRA(r image.Rectangle) *BGRA {
	w, h := r.Dx(), r.Dy()
	if w < 0 || h < 0 {
		w, h = 0, 0
	}
	return &BGRA{
		Pix:    make([]uint8, BytesPerPixel*w*h),
		Stride: BytesPerPixel * w,
		Rect:   r,
	}
}

// NewBGRAFromImage copies any image into a new BGRA image.
func NewBGRAFromImage(img image.Image) *BGRA {
	if b, ok := img.(*BGRA); ok {
		return b.Clone()
	}
	bounds := img.Bounds()
	out := NewBGRA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.Set(x, y, img.At(x, y))
		}
	}
	return out
}

// ColorModel returns the RGBA color model; BGRA only changes the byte order.
func (b *BGRA) ColorModel() color.Model {
	return color.RGBAModel
}

// Bounds returns the domain for which At can return non-zero color.
func (b *BGRA) Bounds() image.Rectangle {
	return b.Rect
}

// Width returns the horizontal size in pixels.
func (b *BGRA) Width() int {
	return b.Rect.Dx()
}

// Height returns the vertical size in pixels.
func (b *BGRA) Height() int {
	return b.Rect.Dy()
}

// PixOffset returns the index of the first element of Pix that corresponds to the pixel at (x, y).
func (b *BGRA) PixOffset(x, y int) int {
	return (y-b.Rect.Min.Y)*b.Stride + (x-b.Rect.Min.X)*BytesPerPixel
}

// At returns the color of the pixel at (x, y).
func (b *BGRA) At(x, y int) color.Color {
	return b.RGBAAt(x, y)
}

// RGBAAt returns the color of the pixel at (x, y) as color.RGBA.
func (b *BGRA) RGBAAt(x, y int) color.RGBA {
	if !(image.Point{x, y}.In(b.Rect)) {
		return color.RGBA{}
	}
	i := b.PixOffset(x, y)
	s := b.Pix[i : i+BytesPerPixel : i+BytesPerPixel]
	return color.RGBA{R: s[2], G: s[1], B: s[0], A: s[3]}
}

// Set sets the pixel at (x, y) to c.
func (b *BGRA) Set(x, y int, c color.Color) {
	if !(image.Point{x, y}.In(b.Rect)) {
		return
	}
	b.SetRGBA(x, y, color.RGBAModel.Convert(c).(color.RGBA))
}

// SetRGBA sets the pixel at (x, y) to c.
func (b *BGRA) SetRGBA(x, y int, c color.RGBA) {
	if !(image.Point{x, y}.In(b.Rect)) {
		return
	}
	i := b.PixOffset(x, y)
	s := b.Pix[i : i+BytesPerPixel : i+BytesPerPixel]
	s[0] = c.B
	s[1] = c.G
	s[2] = c.R
	s[3] = c.A
}

// Fill sets every pixel to c.
func (b *BGRA) Fill(c color.RGBA) {
	for i := 0; i+BytesPerPixel <= len(b.Pix); i += BytesPerPixel {
		b.Pix[i] = c.B
		b.Pix[i+1] = c.G
		b.Pix[i+2] = c.R
		b.Pix[i+3] = c.A
	}
}

// Clone returns a deep copy of the image.
func (b *BGRA) Clone() *BGRA {
	pix := make([]uint8, len(b.Pix))
	copy(pix, b.Pix)
	return &BGRA{Pix: pix, Stride: b.Stride, Rect: b.Rect}
}

// Resize reallocates the image to width x height if it has a different size. The contents are
// undefined afterwards.
func (b *BGRA) Resize(width, height int) {
	if b.Width() == width && b.Height() == height {
		return
	}
	*b = *NewBGRA(image.Rect(0, 0, width, height))
}

// CheckValid returns an error if the image has no pixels or an inconsistent backing buffer.
func (b *BGRA) CheckValid() error {
	if b == nil {
		return errors.New("image is nil")
	}
	if b.Rect.Empty() {
		return errors.Errorf("image has empty bounds %v", b.Rect)
	}
	if b.Stride < b.Rect.Dx()*BytesPerPixel || len(b.Pix) < b.PixOffset(b.Rect.Max.X-1, b.Rect.Max.Y-1)+BytesPerPixel {
		return errors.Errorf("image buffer of %d bytes too small for %v", len(b.Pix), b.Rect)
	}
	return nil
}
