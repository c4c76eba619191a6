package cubemap

import (
	"context"
	"image"

	"github.com/pkg/errors"

	"go.viam.com/fisheye/rimage"
	"go.viam.com/fisheye/rimage/transform"
	"go.viam.com/fisheye/utils"
)

// ErrUnavailableSource is returned when the cube faces or the render target are not ready.
// Callers drop the frame.
var ErrUnavailableSource = errors.New("cube-map source unavailable")

// Unwrap resamples faces into a new image of the model's size, as seen through the fisheye
// model. Pixels without a ray are Background.
func Unwrap(ctx context.Context, faces *FaceSet, model *transform.FisheyeCameraModel) (*rimage.BGRA, error) {
	if model == nil || model.FisheyeCameraIntrinsics == nil {
		return nil, errors.Wrap(ErrUnavailableSource, "no camera model")
	}
	if model.Width <= 0 || model.Height <= 0 {
		return nil, errors.Wrapf(ErrUnavailableSource, "render target size %dx%d", model.Width, model.Height)
	}
	dst := rimage.NewBGRA(image.Rect(0, 0, model.Width, model.Height))
	if err := UnwrapInto(ctx, dst, faces, model); err != nil {
		return nil, err
	}
	return dst, nil
}

// UnwrapInto is Unwrap writing into dst, which must already match the model's size. Rows are
// split across goroutines and each writes only its own rows of dst.
func UnwrapInto(ctx context.Context, dst *rimage.BGRA, faces *FaceSet, model *transform.FisheyeCameraModel) error {
	if err := faces.Validate(); err != nil {
		return errors.Wrap(ErrUnavailableSource, err.Error())
	}
	if model == nil || model.FisheyeCameraIntrinsics == nil {
		return errors.Wrap(ErrUnavailableSource, "no camera model")
	}
	if err := dst.CheckValid(); err != nil {
		return errors.Wrap(ErrUnavailableSource, err.Error())
	}
	if dst.Width() != model.Width || dst.Height() != model.Height {
		return errors.Wrapf(ErrUnavailableSource, "render target is %dx%d, camera expects %dx%d",
			dst.Width(), dst.Height(), model.Width, model.Height)
	}

	ox, oy := dst.Rect.Min.X, dst.Rect.Min.Y
	return utils.ParallelForEachRow(ctx, model.Height, func(y int) {
		for x := 0; x < model.Width; x++ {
			ray, ok := model.PixelToRay(float64(x), float64(y))
			if !ok {
				dst.SetRGBA(ox+x, oy+y, Background)
				continue
			}
			dst.SetRGBA(ox+x, oy+y, Sample(ray, faces))
		}
	})
}
