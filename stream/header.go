package stream

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// HeaderSize is the number of bytes reserved at the start of every frame buffer.
const HeaderSize = 28

// ImageHeader describes the frame that follows it in a buffer. It is written little-endian as
// frame (u64), timestamp (f64 seconds), width (u32), height (u32) and fov (f32 degrees).
type ImageHeader struct {
	Frame     uint64
	Timestamp float64
	Width     uint32
	Height    uint32
	FOV       float32
}

// MarshalTo writes the header into the first HeaderSize bytes of dst.
func (h ImageHeader) MarshalTo(dst []byte) error {
	if len(dst) < HeaderSize {
		return errors.Errorf("need %d bytes for image header, have %d", HeaderSize, len(dst))
	}
	binary.LittleEndian.PutUint64(dst[0:8], h.Frame)
	binary.LittleEndian.PutUint64(dst[8:16], math.Float64bits(h.Timestamp))
	binary.LittleEndian.PutUint32(dst[16:20], h.Width)
	binary.LittleEndian.PutUint32(dst[20:24], h.Height)
	binary.LittleEndian.PutUint32(dst[24:28], math.Float32bits(h.FOV))
	return nil
}

// ParseImageHeader reads a header written by MarshalTo.
func ParseImageHeader(src []byte) (ImageHeader, error) {
	if len(src) < HeaderSize {
		return ImageHeader{}, errors.Errorf("image header needs %d bytes, have %d", HeaderSize, len(src))
	}
	return ImageHeader{
		Frame:     binary.LittleEndian.Uint64(src[0:8]),
		Timestamp: math.Float64frombits(binary.LittleEndian.Uint64(src[8:16])),
		Width:     binary.LittleEndian.Uint32(src[16:20]),
		Height:    binary.LittleEndian.Uint32(src[20:24]),
		FOV:       math.Float32frombits(binary.LittleEndian.Uint32(src[24:28])),
	}, nil
}

// PayloadSize is the number of pixel bytes a BGRA frame of this size carries.
func (h ImageHeader) PayloadSize() int {
	return int(h.Width) * int(h.Height) * 4
}
