package fisheye

import "fmt"

// State is the stage of the frame cycle a pipeline is in.
type State int32

// The frame cycle is Idle, optionally Configuring, then Capturing, Unwrapping, Sending and back
// to Idle.
const (
	Idle State = iota
	Configuring
	Capturing
	Unwrapping
	Sending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Configuring:
		return "configuring"
	case Capturing:
		return "capturing"
	case Unwrapping:
		return "unwrapping"
	case Sending:
		return "sending"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// DropReason says why a frame was not sent.
type DropReason string

// Reasons a frame is dropped.
const (
	DropConfigureFailed   DropReason = "configure_failed"
	DropNotReady          DropReason = "not_ready"
	DropFenceTimeout      DropReason = "fence_timeout"
	DropSourceUnavailable DropReason = "source_unavailable"
	DropUnwrapFailed      DropReason = "unwrap_failed"
	DropTransportFailed   DropReason = "transport_failed"
)
