package fisheye

import (
	"context"
	"image/color"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/fisheye/components/camera/fisheye/fake"
	"go.viam.com/fisheye/logging"
	"go.viam.com/fisheye/rimage"
	"go.viam.com/fisheye/rimage/cubemap"
	"go.viam.com/fisheye/stream"
)

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

func smallParameters() Parameters {
	params := DefaultParameters()
	params.Width = 64
	params.Height = 48
	params.Fx = 16
	params.Fy = 16
	params.Cx = 32
	params.Cy = 24
	return params
}

type pipelineHarness struct {
	backend  *fake.Backend
	stream   stream.Stream
	frames   <-chan *stream.Buffer
	pipeline *Pipeline
}

func newHarness(t *testing.T, params Parameters, opts ...Option) *pipelineHarness {
	t.Helper()
	logger := logging.NewTestLogger(t)
	backend := fake.NewBackend(fake.UniformEnvironment{Color: white}, logger)
	s := stream.NewStream(stream.StreamConfig{Name: "fisheye", SubscriberQueueSize: 8, Logger: logger})
	frames, unsubscribe := s.Subscribe()
	pipeline, err := NewPipeline(params, backend, s, logger, opts...)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, pipeline.Close(), test.ShouldBeNil)
		unsubscribe()
		test.That(t, s.Close(), test.ShouldBeNil)
		test.That(t, backend.Close(), test.ShouldBeNil)
	})
	return &pipelineHarness{backend: backend, stream: s, frames: frames, pipeline: pipeline}
}

// nextFrame returns the next sent frame, or fails if none was sent.
func (h *pipelineHarness) nextFrame(t *testing.T) (stream.ImageHeader, []byte) {
	t.Helper()
	select {
	case buf := <-h.frames:
		defer buf.Release()
		header, err := stream.ParseImageHeader(buf.Bytes())
		test.That(t, err, test.ShouldBeNil)
		payload := append([]byte(nil), buf.Payload(stream.HeaderSize)...)
		return header, payload
	default:
		t.Fatal("expected a frame to have been sent")
		return stream.ImageHeader{}, nil
	}
}

func (h *pipelineHarness) expectNoFrame(t *testing.T) {
	t.Helper()
	select {
	case buf := <-h.frames:
		buf.Release()
		t.Fatal("expected no frame to have been sent")
	default:
	}
}

func pixelAt(payload []byte, width, x, y int) color.RGBA {
	img := &rimage.BGRA{Pix: payload, Stride: width * rimage.BytesPerPixel}
	img.Rect.Max.X = width
	img.Rect.Max.Y = len(payload) / img.Stride
	return img.RGBAAt(x, y)
}

func TestPipelineSendsFrames(t *testing.T) {
	h := newHarness(t, smallParameters())
	test.That(t, h.pipeline.State(), test.ShouldEqual, Idle)

	test.That(t, h.pipeline.Advance(context.Background()), test.ShouldBeNil)
	test.That(t, h.pipeline.State(), test.ShouldEqual, Idle)
	test.That(t, h.backend.Size(), test.ShouldEqual, 64)
	test.That(t, h.backend.Resizes(), test.ShouldEqual, int64(1))

	header, payload := h.nextFrame(t)
	test.That(t, header.Frame, test.ShouldEqual, uint64(1))
	test.That(t, header.Width, test.ShouldEqual, uint32(64))
	test.That(t, header.Height, test.ShouldEqual, uint32(48))
	test.That(t, header.FOV, test.ShouldEqual, float32(210))
	test.That(t, len(payload), test.ShouldEqual, header.PayloadSize())
	test.That(t, pixelAt(payload, 64, 32, 24), test.ShouldResemble, white)
	test.That(t, pixelAt(payload, 64, 0, 0), test.ShouldResemble, color.RGBA{})

	test.That(t, h.pipeline.Advance(context.Background()), test.ShouldBeNil)
	header, _ = h.nextFrame(t)
	test.That(t, header.Frame, test.ShouldEqual, uint64(2))
	test.That(t, h.backend.Resizes(), test.ShouldEqual, int64(1))

	stats := h.pipeline.Stats()
	test.That(t, stats.Ticks, test.ShouldEqual, uint64(2))
	test.That(t, stats.Sent, test.ShouldEqual, uint64(2))
	test.That(t, stats.TotalDropped(), test.ShouldEqual, uint64(0))
	test.That(t, h.pipeline.Name(), test.ShouldStartWith, "fisheye-")
}

func TestPipelineDropsWhenBackendNotReady(t *testing.T) {
	h := newHarness(t, smallParameters())
	ctx := context.Background()

	test.That(t, h.pipeline.Advance(ctx), test.ShouldBeNil)
	header, _ := h.nextFrame(t)
	test.That(t, header.Frame, test.ShouldEqual, uint64(1))

	h.backend.SetReady(false)
	test.That(t, h.pipeline.Advance(ctx), test.ShouldBeNil)
	h.expectNoFrame(t)
	test.That(t, h.pipeline.State(), test.ShouldEqual, Idle)

	h.backend.SetReady(true)
	test.That(t, h.pipeline.Advance(ctx), test.ShouldBeNil)
	header, payload := h.nextFrame(t)
	test.That(t, header.Frame, test.ShouldEqual, uint64(3))
	test.That(t, pixelAt(payload, 64, 32, 24), test.ShouldResemble, white)

	stats := h.pipeline.Stats()
	test.That(t, stats.Sent, test.ShouldEqual, uint64(2))
	test.That(t, stats.Dropped[DropNotReady], test.ShouldEqual, uint64(1))
	test.That(t, h.stream.Sent(), test.ShouldEqual, uint64(2))
}

func TestPipelineReconfigure(t *testing.T) {
	h := newHarness(t, smallParameters())
	ctx := context.Background()
	test.That(t, h.pipeline.Advance(ctx), test.ShouldBeNil)
	h.nextFrame(t)

	err := h.pipeline.Reconfigure(map[string]interface{}{AttrFOV: "wide"})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, h.pipeline.Parameters().MaxAngle, test.ShouldEqual, 210.0)

	// A new field of view keeps the render target.
	attrs := smallParameters().Attributes()
	attrs[AttrFOV] = 180.0
	test.That(t, h.pipeline.Reconfigure(attrs), test.ShouldBeNil)
	test.That(t, h.pipeline.Advance(ctx), test.ShouldBeNil)
	header, _ := h.nextFrame(t)
	test.That(t, header.FOV, test.ShouldEqual, float32(180))
	test.That(t, h.backend.Resizes(), test.ShouldEqual, int64(1))

	// A new width resizes it before the capture.
	attrs[AttrImageSizeX] = "32"
	attrs[AttrImageSizeY] = 24
	attrs[AttrCx] = 16
	attrs[AttrCy] = 12
	test.That(t, h.pipeline.Reconfigure(attrs), test.ShouldBeNil)
	test.That(t, h.pipeline.Parameters().Width, test.ShouldEqual, 32)
	test.That(t, h.pipeline.Advance(ctx), test.ShouldBeNil)
	header, payload := h.nextFrame(t)
	test.That(t, header.Width, test.ShouldEqual, uint32(32))
	test.That(t, header.Height, test.ShouldEqual, uint32(24))
	test.That(t, len(payload), test.ShouldEqual, 32*24*4)
	test.That(t, pixelAt(payload, 32, 16, 12), test.ShouldResemble, white)
	test.That(t, h.backend.Size(), test.ShouldEqual, 32)
	test.That(t, h.backend.Resizes(), test.ShouldEqual, int64(2))
}

func TestPipelineRetriesFailedConfiguration(t *testing.T) {
	params := smallParameters()
	params.Width = 0
	h := newHarness(t, params)
	ctx := context.Background()

	test.That(t, h.pipeline.Advance(ctx), test.ShouldBeNil)
	h.expectNoFrame(t)
	test.That(t, h.pipeline.Stats().Dropped[DropConfigureFailed], test.ShouldEqual, uint64(1))

	// The failed configuration stays pending until it is replaced.
	test.That(t, h.pipeline.Advance(ctx), test.ShouldBeNil)
	test.That(t, h.pipeline.Stats().Dropped[DropConfigureFailed], test.ShouldEqual, uint64(2))

	h.pipeline.SetParameters(smallParameters())
	test.That(t, h.pipeline.Advance(ctx), test.ShouldBeNil)
	header, _ := h.nextFrame(t)
	test.That(t, header.Frame, test.ShouldEqual, uint64(3))
}

// signalingBackend reports each capture trigger so a test can move a mock clock safely.
type signalingBackend struct {
	*fake.Backend
	triggered chan struct{}
}

func (b *signalingBackend) TriggerCapture(ctx context.Context) (<-chan struct{}, error) {
	fence, err := b.Backend.TriggerCapture(ctx)
	b.triggered <- struct{}{}
	return fence, err
}

func TestPipelineFenceTimeout(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	mock := clock.NewMock()
	backend := fake.NewBackend(fake.UniformEnvironment{Color: white}, logger)
	defer backend.Close()
	signaling := &signalingBackend{Backend: backend, triggered: make(chan struct{}, 1)}
	s := stream.NewStream(stream.StreamConfig{Logger: logger})
	defer s.Close()
	frames, _ := s.Subscribe()

	pipeline, err := NewPipeline(smallParameters(), signaling, s, logger, WithClock(mock))
	test.That(t, err, test.ShouldBeNil)
	defer pipeline.Close()

	backend.SetLatency(time.Hour)
	result := make(chan error, 1)
	go func() { result <- pipeline.Advance(context.Background()) }()
	<-signaling.triggered
	test.That(t, pipeline.State(), test.ShouldEqual, Capturing)
	mock.Add(DefaultRenderFenceTimeout)
	test.That(t, <-result, test.ShouldBeNil)

	select {
	case <-frames:
		t.Fatal("a timed out capture must not be sent")
	default:
	}
	test.That(t, pipeline.Stats().Dropped[DropFenceTimeout], test.ShouldEqual, uint64(1))
	test.That(t, logs.FilterMessage("dropping frame").Len(), test.ShouldEqual, 1)

	backend.SetLatency(0)
	test.That(t, pipeline.Advance(context.Background()), test.ShouldBeNil)
	<-signaling.triggered
	buf := <-frames
	header, err := stream.ParseImageHeader(buf.Bytes())
	buf.Release()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, header.Frame, test.ShouldEqual, uint64(2))
	test.That(t, header.Timestamp, test.ShouldEqual, DefaultRenderFenceTimeout.Seconds())
}

func TestPipelineIgnoresLateCapture(t *testing.T) {
	logger := logging.NewTestLogger(t)
	mock := clock.NewMock()
	backend := fake.NewBackend(fake.UniformEnvironment{Color: white}, logger)
	defer backend.Close()
	signaling := &signalingBackend{Backend: backend, triggered: make(chan struct{}, 1)}
	s := stream.NewStream(stream.StreamConfig{Logger: logger})
	defer s.Close()
	frames, _ := s.Subscribe()

	pipeline, err := NewPipeline(smallParameters(), signaling, s, logger, WithClock(mock))
	test.That(t, err, test.ShouldBeNil)
	defer pipeline.Close()

	// Frame 1 times out while its render is still pending.
	const lateBy = 50 * time.Millisecond
	backend.SetLatency(lateBy)
	result := make(chan error, 1)
	go func() { result <- pipeline.Advance(context.Background()) }()
	<-signaling.triggered
	mock.Add(DefaultRenderFenceTimeout)
	test.That(t, <-result, test.ShouldBeNil)
	test.That(t, pipeline.Stats().Dropped[DropFenceTimeout], test.ShouldEqual, uint64(1))

	backend.SetLatency(0)
	test.That(t, pipeline.Advance(context.Background()), test.ShouldBeNil)
	<-signaling.triggered
	buf := <-frames
	header, err := stream.ParseImageHeader(buf.Bytes())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, header.Frame, test.ShouldEqual, uint64(2))
	test.That(t, pixelAt(buf.Payload(stream.HeaderSize), 64, 32, 24), test.ShouldResemble, white)
	buf.Release()

	faces, err := backend.CubeFaceSet()
	test.That(t, err, test.ShouldBeNil)

	// Once frame 1's render would have landed, the view frame 2 unwrapped is untouched.
	red := color.RGBA{R: 255, A: 255}
	backend.SetEnvironment(fake.UniformEnvironment{Color: red})
	time.Sleep(4 * lateBy)
	test.That(t, backend.Captures(), test.ShouldEqual, int64(1))
	for f := cubemap.Face(0); f < cubemap.NumFaces; f++ {
		test.That(t, faces.Face(f).RGBAAt(5, 5), test.ShouldResemble, white)
	}
	current, err := backend.CubeFaceSet()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, current.Face(cubemap.PositiveZ).RGBAAt(5, 5), test.ShouldResemble, white)
}

func TestPipelineCancellationAndClose(t *testing.T) {
	h := newHarness(t, smallParameters())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.pipeline.Advance(ctx)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	h.expectNoFrame(t)

	test.That(t, h.pipeline.Close(), test.ShouldBeNil)
	err = h.pipeline.Advance(context.Background())
	test.That(t, errors.Is(err, ErrClosed), test.ShouldBeTrue)
}

func TestNewPipelineValidation(t *testing.T) {
	logger := logging.NewTestLogger(t)
	backend := fake.NewBackend(fake.UniformEnvironment{}, logger)
	defer backend.Close()
	s := stream.NewStream(stream.StreamConfig{Logger: logger})
	defer s.Close()

	_, err := NewPipeline(DefaultParameters(), nil, s, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewPipeline(DefaultParameters(), backend, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewPipeline(DefaultParameters(), backend, s, logger, WithRenderFenceTimeout(0))
	test.That(t, err, test.ShouldNotBeNil)

	p, err := NewPipeline(DefaultParameters(), backend, s, logger, WithName("front"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Name(), test.ShouldEqual, "front")
}
