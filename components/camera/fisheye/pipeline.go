package fisheye

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"go.viam.com/fisheye/logging"
	"go.viam.com/fisheye/rimage"
	"go.viam.com/fisheye/rimage/cubemap"
	"go.viam.com/fisheye/rimage/transform"
	"go.viam.com/fisheye/stream"
)

// DefaultRenderFenceTimeout is how long a capture may take before the frame is dropped.
const DefaultRenderFenceTimeout = 300 * time.Second

// ErrClosed is returned by Advance once the pipeline is closed.
var ErrClosed = errors.New("fisheye pipeline is closed")

// A RenderBackend renders the scene into a cube render target.
type RenderBackend interface {
	// Resize makes every face of the render target faceSize x faceSize texels.
	Resize(ctx context.Context, faceSize int) error
	// TriggerCapture starts a capture and returns a fence that is closed once it is complete.
	TriggerCapture(ctx context.Context) (<-chan struct{}, error)
	// CubeFaceSet returns the last completed capture. It is only valid until the next trigger.
	CubeFaceSet() (*cubemap.FaceSet, error)
}

// A Transport accepts finished frames. stream.Stream is a Transport.
type Transport interface {
	HeaderOffset() int
	AcquirePooledBuffer(payloadSize int) *stream.Buffer
	Send(buf *stream.Buffer, header stream.ImageHeader)
}

// An Option configures a Pipeline.
type Option func(*Pipeline)

// WithRenderFenceTimeout bounds how long Advance waits for a capture.
func WithRenderFenceTimeout(timeout time.Duration) Option {
	return func(p *Pipeline) {
		p.fenceTimeout = timeout
	}
}

// WithClock replaces the wall clock used for timeouts, timestamps and latency.
func WithClock(clk clock.Clock) Option {
	return func(p *Pipeline) {
		p.clock = clk
	}
}

// WithName sets the name the pipeline logs under instead of a random one.
func WithName(name string) Option {
	return func(p *Pipeline) {
		p.name = name
	}
}

// A Pipeline produces one fisheye frame per Advance: it captures the cube map, unwraps it and
// hands the pixels to the transport. Advance calls are serialized.
type Pipeline struct {
	name         string
	backend      RenderBackend
	transport    Transport
	logger       logging.Logger
	clock        clock.Clock
	fenceTimeout time.Duration
	start        time.Time

	// mu is held for a whole frame cycle.
	mu       sync.Mutex
	model    *transform.FisheyeCameraModel
	scratch  *rimage.BGRA
	// faceSize is the render target size last set on the backend, -1 before the first resize.
	faceSize int
	frame    uint64

	paramsMu sync.RWMutex
	params   Parameters
	pending  *Parameters

	state       atomic.Int32
	closed      atomic.Bool
	stats       *statsCollector
	dropLimiter *rate.Limiter
}

// NewPipeline returns a pipeline that will apply params on its first Advance.
func NewPipeline(
	params Parameters,
	backend RenderBackend,
	transport Transport,
	logger logging.Logger,
	opts ...Option,
) (*Pipeline, error) {
	if backend == nil {
		return nil, errors.New("fisheye pipeline needs a render backend")
	}
	if transport == nil {
		return nil, errors.New("fisheye pipeline needs a transport")
	}
	if logger == nil {
		logger = logging.Global()
	}
	p := &Pipeline{
		name:         "fisheye-" + uuid.NewString(),
		backend:      backend,
		transport:    transport,
		logger:       logger,
		clock:        clock.New(),
		fenceTimeout: DefaultRenderFenceTimeout,
		scratch:      rimage.NewBGRA(image.Rectangle{}),
		faceSize:     -1,
		stats:        newStatsCollector(),
		dropLimiter:  rate.NewLimiter(rate.Every(time.Second), 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.fenceTimeout <= 0 {
		return nil, errors.Errorf("render fence timeout must be positive, got %v", p.fenceTimeout)
	}
	if _, err := params.Model(); err != nil {
		return nil, err
	}
	p.start = p.clock.Now()
	p.params = params
	p.pending = &params
	return p, nil
}

// Name identifies the pipeline in logs.
func (p *Pipeline) Name() string {
	return p.name
}

// State returns the stage of the frame cycle the pipeline is in.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
}

// Parameters returns the most recently requested parameters.
func (p *Pipeline) Parameters() Parameters {
	p.paramsMu.RLock()
	defer p.paramsMu.RUnlock()
	return p.params
}

// Stats returns a snapshot of the pipeline's counters.
func (p *Pipeline) Stats() Stats {
	return p.stats.snapshot()
}

// Reconfigure resolves attrs and applies them at the start of the next frame. On error the
// current parameters stay in effect.
func (p *Pipeline) Reconfigure(attrs map[string]interface{}) error {
	params, err := Update(attrs)
	if err != nil {
		return err
	}
	p.SetParameters(params)
	return nil
}

// SetParameters applies params at the start of the next frame.
func (p *Pipeline) SetParameters(params Parameters) {
	p.paramsMu.Lock()
	defer p.paramsMu.Unlock()
	p.params = params
	p.pending = &params
}

func (p *Pipeline) takePending() *Parameters {
	p.paramsMu.Lock()
	defer p.paramsMu.Unlock()
	pending := p.pending
	p.pending = nil
	return pending
}

// requeue puts params back unless newer ones arrived meanwhile.
func (p *Pipeline) requeue(params Parameters) {
	p.paramsMu.Lock()
	defer p.paramsMu.Unlock()
	if p.pending == nil {
		p.pending = &params
	}
}

// Advance runs one frame cycle. A frame that cannot be produced is dropped and Advance returns
// nil; only a done context or a closed pipeline is reported.
func (p *Pipeline) Advance(ctx context.Context) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.setState(Idle)

	p.frame++
	frame := p.frame
	p.stats.tick()

	if pending := p.takePending(); pending != nil {
		p.setState(Configuring)
		if err := p.configure(ctx, *pending); err != nil {
			p.requeue(*pending)
			return p.dropOrCancel(ctx, frame, DropConfigureFailed, err)
		}
	}

	p.setState(Capturing)
	faces, reason, err := p.capture(ctx)
	if err != nil {
		return p.dropOrCancel(ctx, frame, reason, err)
	}

	p.setState(Unwrapping)
	started := p.clock.Now()
	if err := cubemap.UnwrapInto(ctx, p.scratch, faces, p.model); err != nil {
		return p.dropOrCancel(ctx, frame, DropUnwrapFailed, err)
	}
	p.stats.observeUnwrap(p.clock.Since(started))

	p.setState(Sending)
	if err := p.send(frame); err != nil {
		return p.dropOrCancel(ctx, frame, DropTransportFailed, err)
	}
	p.stats.markSent()
	return nil
}

// configure rebuilds the camera model and output image for params and resizes the render target
// when the face size changed.
func (p *Pipeline) configure(ctx context.Context, params Parameters) error {
	model, err := params.Model()
	if err != nil {
		return err
	}
	if size := params.FaceSize(); size != p.faceSize {
		if err := p.backend.Resize(ctx, size); err != nil {
			return errors.Wrapf(err, "resizing render target to %d", size)
		}
		p.faceSize = size
	}
	p.model = model
	p.scratch.Resize(max(params.Width, 0), max(params.Height, 0))
	p.logger.CDebugw(ctx, "configured", "pipeline", p.name, "width", params.Width, "height", params.Height,
		"fov", params.MaxAngle, "face_size", p.faceSize)
	return nil
}

func (p *Pipeline) capture(ctx context.Context) (*cubemap.FaceSet, DropReason, error) {
	// The timer exists before the capture is triggered so a fast fence cannot race it.
	timer := p.clock.Timer(p.fenceTimeout)
	defer timer.Stop()

	fence, err := p.backend.TriggerCapture(ctx)
	if err != nil {
		return nil, DropNotReady, err
	}
	select {
	case <-fence:
	case <-timer.C:
		return nil, DropFenceTimeout, errors.Errorf("render fence not signaled within %v", p.fenceTimeout)
	case <-ctx.Done():
		return nil, DropFenceTimeout, ctx.Err()
	}

	faces, err := p.backend.CubeFaceSet()
	if err != nil {
		return nil, DropSourceUnavailable, errors.Wrap(cubemap.ErrUnavailableSource, err.Error())
	}
	return faces, "", nil
}

func (p *Pipeline) send(frame uint64) error {
	pix := p.scratch.Pix
	buf := p.transport.AcquirePooledBuffer(len(pix))
	if err := buf.CopyFrom(p.transport.HeaderOffset(), pix); err != nil {
		buf.Release()
		return err
	}
	p.transport.Send(buf, stream.ImageHeader{
		Frame:     frame,
		Timestamp: p.clock.Since(p.start).Seconds(),
		Width:     uint32(p.scratch.Width()),
		Height:    uint32(p.scratch.Height()),
		FOV:       float32(p.model.MaxAngle),
	})
	return nil
}

func (p *Pipeline) dropOrCancel(ctx context.Context, frame uint64, reason DropReason, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	p.stats.markDropped(reason)
	if p.dropLimiter.AllowN(p.clock.Now(), 1) {
		p.logger.Warnw("dropping frame", "pipeline", p.name, "frame", frame, "reason", reason, "error", err)
	} else {
		p.logger.CDebugw(ctx, "dropping frame", "pipeline", p.name, "frame", frame, "reason", reason, "error", err)
	}
	return nil
}

// Close stops the pipeline. It waits for a frame in progress to finish.
func (p *Pipeline) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setState(Idle)
	return nil
}
