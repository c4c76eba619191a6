package fake

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/fisheye/logging"
	"go.viam.com/fisheye/rimage/cubemap"
)

func TestBackendCapture(t *testing.T) {
	red := color.RGBA{R: 255, A: 255}
	backend := NewBackend(UniformEnvironment{Color: red}, logging.NewTestLogger(t))
	defer backend.Close()
	ctx := context.Background()

	_, err := backend.TriggerCapture(ctx)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = backend.CubeFaceSet()
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, backend.Resize(ctx, 0), test.ShouldNotBeNil)
	test.That(t, backend.Resize(ctx, 16), test.ShouldBeNil)
	test.That(t, backend.Size(), test.ShouldEqual, 16)

	fence, err := backend.TriggerCapture(ctx)
	test.That(t, err, test.ShouldBeNil)
	<-fence
	test.That(t, backend.Captures(), test.ShouldEqual, int64(1))

	faces, err := backend.CubeFaceSet()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, faces.Size(), test.ShouldEqual, 16)
	for f := cubemap.Face(0); f < cubemap.NumFaces; f++ {
		test.That(t, faces.Face(f).RGBAAt(3, 7), test.ShouldResemble, red)
	}

	// Resizing discards the previous capture.
	test.That(t, backend.Resize(ctx, 8), test.ShouldBeNil)
	_, err = backend.CubeFaceSet()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, backend.Resizes(), test.ShouldEqual, int64(2))
}

func TestBackendNotReady(t *testing.T) {
	backend := NewBackend(UniformEnvironment{}, logging.NewTestLogger(t))
	defer backend.Close()
	ctx := context.Background()
	test.That(t, backend.Resize(ctx, 4), test.ShouldBeNil)

	backend.SetReady(false)
	_, err := backend.TriggerCapture(ctx)
	test.That(t, errors.Is(err, ErrNotReady), test.ShouldBeTrue)

	backend.SetReady(true)
	fence, err := backend.TriggerCapture(ctx)
	test.That(t, err, test.ShouldBeNil)
	<-fence
}

func TestBackendLatencyAndClose(t *testing.T) {
	backend := NewBackend(UniformEnvironment{}, logging.NewTestLogger(t))
	ctx := context.Background()
	test.That(t, backend.Resize(ctx, 4), test.ShouldBeNil)

	backend.SetLatency(time.Hour)
	fence, err := backend.TriggerCapture(ctx)
	test.That(t, err, test.ShouldBeNil)
	select {
	case <-fence:
		t.Fatal("fence closed before the render finished")
	case <-time.After(20 * time.Millisecond):
	}

	test.That(t, backend.Close(), test.ShouldBeNil)
	test.That(t, backend.Captures(), test.ShouldEqual, int64(0))
	_, err = backend.TriggerCapture(ctx)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBackendSupersedesCaptures(t *testing.T) {
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	red := color.RGBA{R: 255, A: 255}
	backend := NewBackend(UniformEnvironment{Color: white}, logging.NewTestLogger(t))
	defer backend.Close()
	ctx := context.Background()
	test.That(t, backend.Resize(ctx, 8), test.ShouldBeNil)

	backend.SetLatency(time.Hour)
	stale, err := backend.TriggerCapture(ctx)
	test.That(t, err, test.ShouldBeNil)

	backend.SetLatency(0)
	fence, err := backend.TriggerCapture(ctx)
	test.That(t, err, test.ShouldBeNil)
	<-fence
	faces, err := backend.CubeFaceSet()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, faces.Face(cubemap.PositiveX).RGBAAt(1, 1), test.ShouldResemble, white)

	// The next capture draws into another buffer and leaves the borrowed faces alone.
	backend.SetEnvironment(UniformEnvironment{Color: red})
	fence, err = backend.TriggerCapture(ctx)
	test.That(t, err, test.ShouldBeNil)
	<-fence
	test.That(t, faces.Face(cubemap.PositiveX).RGBAAt(1, 1), test.ShouldResemble, white)
	latest, err := backend.CubeFaceSet()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, latest.Face(cubemap.PositiveX).RGBAAt(1, 1), test.ShouldResemble, red)

	select {
	case <-stale:
		t.Fatal("a superseded capture must not signal its fence")
	default:
	}
	test.That(t, backend.Captures(), test.ShouldEqual, int64(2))
}

func TestGradientEnvironment(t *testing.T) {
	backend := NewBackend(GradientEnvironment{}, logging.NewTestLogger(t))
	defer backend.Close()
	ctx := context.Background()
	test.That(t, backend.Resize(ctx, 8), test.ShouldBeNil)
	fence, err := backend.TriggerCapture(ctx)
	test.That(t, err, test.ShouldBeNil)
	<-fence
	faces, err := backend.CubeFaceSet()
	test.That(t, err, test.ShouldBeNil)

	for f := cubemap.Face(0); f < cubemap.NumFaces; f++ {
		expected := GradientColor(cubemap.Direction(f, 2, 5, 8))
		test.That(t, faces.Face(f).RGBAAt(2, 5), test.ShouldResemble, expected)
	}

	up := GradientColor(r3.Vector{Y: -1})
	down := GradientColor(r3.Vector{Y: 1})
	test.That(t, up.A, test.ShouldEqual, uint8(255))
	test.That(t, int(up.R)+int(up.G)+int(up.B), test.ShouldBeGreaterThan, int(down.R)+int(down.G)+int(down.B))
	test.That(t, GradientColor(r3.Vector{X: 1}), test.ShouldNotResemble, GradientColor(r3.Vector{X: -1}))
	test.That(t, GradientColor(r3.Vector{}), test.ShouldResemble, color.RGBA{A: 255})
}

func TestImageEnvironment(t *testing.T) {
	var sources [cubemap.NumFaces]image.Image
	for i := range sources {
		img := image.NewRGBA(image.Rect(0, 0, 32, 32))
		c := color.RGBA{R: uint8(40 * i), G: 10, B: 200, A: 255}
		for y := 0; y < 32; y++ {
			for x := 0; x < 32; x++ {
				img.SetRGBA(x, y, c)
			}
		}
		sources[i] = img
	}
	env, err := NewImageEnvironment(sources)
	test.That(t, err, test.ShouldBeNil)

	backend := NewBackend(env, logging.NewTestLogger(t))
	defer backend.Close()
	ctx := context.Background()
	test.That(t, backend.Resize(ctx, 8), test.ShouldBeNil)
	fence, err := backend.TriggerCapture(ctx)
	test.That(t, err, test.ShouldBeNil)
	<-fence
	faces, err := backend.CubeFaceSet()
	test.That(t, err, test.ShouldBeNil)
	for f := cubemap.Face(0); f < cubemap.NumFaces; f++ {
		test.That(t, faces.Face(f).RGBAAt(4, 4), test.ShouldResemble, color.RGBA{R: uint8(40 * f), G: 10, B: 200, A: 255})
	}

	sources[2] = nil
	_, err = NewImageEnvironment(sources)
	test.That(t, err, test.ShouldNotBeNil)
}
