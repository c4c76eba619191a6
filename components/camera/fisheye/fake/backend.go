// Package fake implements a render backend that draws a synthetic environment into a cube render
// target instead of rendering a scene.
package fake

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/fisheye/logging"
	"go.viam.com/fisheye/rimage"
	"go.viam.com/fisheye/rimage/cubemap"
	"go.viam.com/fisheye/utils"
)

// ErrNotReady is returned by TriggerCapture while the backend is marked not ready.
var ErrNotReady = errors.New("render backend not ready")

// Backend renders an Environment into six faces on a background worker, the way a render thread
// would. Every capture draws into its own back buffer; the faces returned by CubeFaceSet are never
// written again, so they stay valid until the next TriggerCapture.
type Backend struct {
	mu    sync.RWMutex
	env   Environment
	size  int
	front *faceBuffers
	spare []*faceBuffers
	// generation is bumped by every trigger and resize; only a capture of the current generation
	// is published.
	generation    uint64
	cancelCapture context.CancelFunc

	ready    atomic.Bool
	latency  atomic.Duration
	captures atomic.Int64
	resizes  atomic.Int64
	closed   atomic.Bool

	workers utils.StoppableWorkers
	logger  logging.Logger
}

type faceBuffers [cubemap.NumFaces]*rimage.BGRA

func newFaceBuffers(size int) *faceBuffers {
	var faces faceBuffers
	for i := range faces {
		faces[i] = rimage.NewBGRA(image.Rect(0, 0, size, size))
	}
	return &faces
}

// NewBackend returns a ready backend with no render target; call Resize before capturing.
func NewBackend(env Environment, logger logging.Logger) *Backend {
	if logger == nil {
		logger = logging.Global()
	}
	b := &Backend{
		env:           env,
		workers:       utils.NewStoppableWorkers(),
		logger:        logger,
		cancelCapture: func() {},
	}
	b.ready.Store(true)
	return b
}

// SetReady controls whether TriggerCapture succeeds.
func (b *Backend) SetReady(ready bool) {
	b.ready.Store(ready)
}

// SetLatency delays every capture by d before it is drawn.
func (b *Backend) SetLatency(d time.Duration) {
	b.latency.Store(d)
}

// SetEnvironment replaces the scene starting with the next capture.
func (b *Backend) SetEnvironment(env Environment) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.env = env
}

// Captures returns how many captures have completed.
func (b *Backend) Captures() int64 {
	return b.captures.Load()
}

// Resizes returns how many times the render target was reallocated.
func (b *Backend) Resizes() int64 {
	return b.resizes.Load()
}

// Size returns the current face size, or 0 before the first Resize.
func (b *Backend) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Resize reallocates the render target as faceSize x faceSize faces. A capture in progress and
// the previous capture are discarded.
func (b *Backend) Resize(ctx context.Context, faceSize int) error {
	if faceSize <= 0 {
		return errors.Errorf("invalid render target face size %d", faceSize)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelCapture()
	b.generation++
	b.size = faceSize
	b.front = nil
	b.spare = nil
	b.resizes.Inc()
	b.logger.Debugw("render target resized", "face_size", faceSize)
	return nil
}

// TriggerCapture starts drawing the environment and returns a fence closed when it is done. The
// environment is the one set when the capture was triggered. A new trigger supersedes any capture
// still in progress, whose fence then never closes.
func (b *Backend) TriggerCapture(ctx context.Context) (<-chan struct{}, error) {
	if b.closed.Load() {
		return nil, errors.New("render backend is closed")
	}
	if !b.ready.Load() {
		return nil, ErrNotReady
	}

	b.mu.Lock()
	if b.size == 0 {
		b.mu.Unlock()
		return nil, errors.New("render target has not been sized")
	}
	b.cancelCapture()
	b.generation++
	generation := b.generation
	env := b.env
	target := b.takeSpareLocked()
	captureCtx, cancel := context.WithCancel(ctx)
	b.cancelCapture = cancel
	b.mu.Unlock()

	fence := make(chan struct{})
	latency := b.latency.Load()
	b.workers.AddWorkers(func(workerCtx context.Context) {
		defer cancel()
		stop := context.AfterFunc(workerCtx, cancel)
		defer stop()
		if latency > 0 {
			timer := time.NewTimer(latency)
			defer timer.Stop()
			select {
			case <-captureCtx.Done():
				b.returnSpare(target)
				return
			case <-timer.C:
			}
		}
		if err := render(captureCtx, env, target); err != nil {
			if captureCtx.Err() == nil {
				b.logger.Warnw("capture failed", "error", err)
			}
			b.returnSpare(target)
			return
		}
		if !b.publish(generation, target) {
			b.logger.Debugw("discarding superseded capture", "generation", generation)
			return
		}
		b.captures.Inc()
		close(fence)
	})
	return fence, nil
}

// takeSpareLocked returns a back buffer of the current size.
func (b *Backend) takeSpareLocked() *faceBuffers {
	if n := len(b.spare); n > 0 {
		target := b.spare[n-1]
		b.spare = b.spare[:n-1]
		return target
	}
	return newFaceBuffers(b.size)
}

func (b *Backend) returnSpare(target *faceBuffers) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.returnSpareLocked(target)
}

// returnSpareLocked keeps target for reuse unless the render target was resized since it was
// allocated.
func (b *Backend) returnSpareLocked(target *faceBuffers) {
	if target[0].Bounds().Dx() == b.size {
		b.spare = append(b.spare, target)
	}
}

// publish swaps target in as the front faces if it belongs to the current generation. The old
// front is recycled; its borrowers were told it is only valid until the trigger that started
// this capture.
func (b *Backend) publish(generation uint64, target *faceBuffers) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if generation != b.generation {
		b.returnSpareLocked(target)
		return false
	}
	if b.front != nil {
		b.spare = append(b.spare, b.front)
	}
	b.front = target
	return true
}

func render(ctx context.Context, env Environment, target *faceBuffers) error {
	if env == nil {
		return errors.New("no environment to render")
	}
	for i, face := range target {
		if err := env.RenderFace(ctx, cubemap.Face(i), face); err != nil {
			return errors.Wrapf(err, "rendering face %v", cubemap.Face(i))
		}
	}
	return nil
}

// CubeFaceSet returns the last completed capture. The faces are borrowed until the next
// TriggerCapture or Resize.
func (b *Backend) CubeFaceSet() (*cubemap.FaceSet, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.front == nil {
		return nil, errors.New("no completed capture")
	}
	return cubemap.NewFaceSet(*b.front)
}

// Close stops any capture in progress.
func (b *Backend) Close() error {
	b.closed.Store(true)
	b.mu.Lock()
	b.cancelCapture()
	b.mu.Unlock()
	b.workers.Stop()
	return nil
}
