package stream

import "go.viam.com/fisheye/logging"

// DefaultSubscriberQueueSize is how many frames a subscriber may fall behind before frames are
// dropped for it.
const DefaultSubscriberQueueSize = 4

// A StreamConfig describes how a Stream should be managed.
type StreamConfig struct {
	Name string

	// SubscriberQueueSize bounds each subscriber's channel.
	SubscriberQueueSize int

	Logger logging.Logger
}
