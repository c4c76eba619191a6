package cubemap

import (
	"github.com/pkg/errors"

	"go.viam.com/fisheye/rimage"
)

// FaceSet is a borrowed, read-only view of the six square faces of a cube-map capture, indexed by
// Face. All faces share the same size.
type FaceSet struct {
	faces [NumFaces]*rimage.BGRA
}

// NewFaceSet wraps six faces after checking they form a valid cube map.
func NewFaceSet(faces [NumFaces]*rimage.BGRA) (*FaceSet, error) {
	fs := &FaceSet{faces: faces}
	if err := fs.Validate(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Validate checks that every face is present, square, and the same size as the others.
func (fs *FaceSet) Validate() error {
	if fs == nil {
		return errors.New("face set is nil")
	}
	size := -1
	for i, face := range fs.faces {
		if err := face.CheckValid(); err != nil {
			return errors.Wrapf(err, "face %v", Face(i))
		}
		if face.Width() != face.Height() {
			return errors.Errorf("face %v is not square (%dx%d)", Face(i), face.Width(), face.Height())
		}
		if size >= 0 && face.Width() != size {
			return errors.Errorf("face %v is %d texels wide, expected %d", Face(i), face.Width(), size)
		}
		size = face.Width()
	}
	return nil
}

// Size returns the width (and height) of each face in texels.
func (fs *FaceSet) Size() int {
	if fs == nil || fs.faces[0] == nil {
		return 0
	}
	return fs.faces[0].Width()
}

// Face returns the image for face f.
func (fs *FaceSet) Face(f Face) *rimage.BGRA {
	return fs.faces[f]
}
