// Package stream carries finished sensor frames from the pipeline to whoever consumes them.
package stream

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"go.viam.com/fisheye/logging"
)

// A Stream accepts frames from one producer and fans them out to subscribers. Sending never
// blocks the producer.
type Stream interface {
	Name() string

	// HeaderOffset is where the payload starts in buffers handed out by AcquirePooledBuffer.
	HeaderOffset() int

	// AcquirePooledBuffer returns a buffer with room for the header and payloadSize bytes.
	AcquirePooledBuffer(payloadSize int) *Buffer

	// Send writes header into buf and delivers it. Ownership of buf passes to the stream.
	Send(buf *Buffer, header ImageHeader)

	// Subscribe returns a channel of frames and a function to stop receiving them. Receivers
	// must Release every buffer they read.
	Subscribe() (<-chan *Buffer, func())

	// Sent returns how many frames were accepted by Send.
	Sent() uint64
	// Dropped returns how many deliveries were skipped because a subscriber was behind.
	Dropped() uint64

	Close() error
}

// NewStream returns a stream that is ready to accept frames.
func NewStream(config StreamConfig) Stream {
	logger := config.Logger
	if logger == nil {
		logger = logging.Global()
	}
	if config.SubscriberQueueSize <= 0 {
		config.SubscriberQueueSize = DefaultSubscriberQueueSize
	}
	name := config.Name
	if name == "" {
		name = uuid.NewString()
	}
	return &basicStream{
		name:        name,
		config:      config,
		pool:        NewBufferPool(),
		subscribers: map[uint64]chan *Buffer{},
		logger:      logger,
	}
}

type basicStream struct {
	mu          sync.RWMutex
	name        string
	config      StreamConfig
	pool        *BufferPool
	closed      bool
	nextID      uint64
	subscribers map[uint64]chan *Buffer

	sent    atomic.Uint64
	dropped atomic.Uint64
	logger  logging.Logger
}

func (bs *basicStream) Name() string {
	return bs.name
}

func (bs *basicStream) HeaderOffset() int {
	return HeaderSize
}

func (bs *basicStream) AcquirePooledBuffer(payloadSize int) *Buffer {
	return bs.pool.Get(HeaderSize + payloadSize)
}

func (bs *basicStream) Send(buf *Buffer, header ImageHeader) {
	if buf == nil {
		return
	}
	defer buf.Release()

	if err := header.MarshalTo(buf.Bytes()); err != nil {
		bs.logger.Errorw("cannot write frame header", "stream", bs.name, "error", err)
		return
	}

	bs.mu.RLock()
	defer bs.mu.RUnlock()
	if bs.closed {
		return
	}
	bs.sent.Inc()
	for id, ch := range bs.subscribers {
		buf.Retain()
		select {
		case ch <- buf:
		default:
			buf.Release()
			bs.dropped.Inc()
			bs.logger.Debugw("subscriber behind, dropping frame", "stream", bs.name, "subscriber", id, "frame", header.Frame)
		}
	}
}

func (bs *basicStream) Subscribe() (<-chan *Buffer, func()) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	ch := make(chan *Buffer, bs.config.SubscriberQueueSize)
	if bs.closed {
		close(ch)
		return ch, func() {}
	}
	id := bs.nextID
	bs.nextID++
	bs.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			bs.mu.Lock()
			defer bs.mu.Unlock()
			if _, ok := bs.subscribers[id]; ok {
				delete(bs.subscribers, id)
				closeAndDrain(ch)
			}
		})
	}
}

func (bs *basicStream) Sent() uint64 {
	return bs.sent.Load()
}

func (bs *basicStream) Dropped() uint64 {
	return bs.dropped.Load()
}

func (bs *basicStream) Close() error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.closed {
		return nil
	}
	bs.closed = true
	for id, ch := range bs.subscribers {
		delete(bs.subscribers, id)
		close(ch)
	}
	return nil
}

// closeAndDrain closes ch and releases any frames nobody will read.
func closeAndDrain(ch chan *Buffer) {
	close(ch)
	for buf := range ch {
		buf.Release()
	}
}
