package fisheye

import (
	"sync"
	"time"

	"github.com/montanaflynn/stats"
)

// latencyWindow is how many recent unwrap durations Stats summarizes.
const latencyWindow = 128

// Stats is a snapshot of a pipeline's counters.
type Stats struct {
	Ticks   uint64
	Sent    uint64
	Dropped map[DropReason]uint64

	// UnwrapMean and UnwrapP99 summarize the most recent unwraps.
	UnwrapMean time.Duration
	UnwrapP99  time.Duration
}

// TotalDropped sums drops over every reason.
func (s Stats) TotalDropped() uint64 {
	var total uint64
	for _, n := range s.Dropped {
		total += n
	}
	return total
}

type statsCollector struct {
	mu      sync.Mutex
	ticks   uint64
	sent    uint64
	dropped map[DropReason]uint64

	// latencies is a ring of unwrap durations in seconds.
	latencies []float64
	next      int
}

func newStatsCollector() *statsCollector {
	return &statsCollector{
		dropped:   map[DropReason]uint64{},
		latencies: make([]float64, 0, latencyWindow),
	}
}

func (c *statsCollector) tick() {
	c.mu.Lock()
	c.ticks++
	c.mu.Unlock()
}

func (c *statsCollector) markSent() {
	c.mu.Lock()
	c.sent++
	c.mu.Unlock()
}

func (c *statsCollector) markDropped(reason DropReason) {
	c.mu.Lock()
	c.dropped[reason]++
	c.mu.Unlock()
}

func (c *statsCollector) observeUnwrap(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.latencies) < latencyWindow {
		c.latencies = append(c.latencies, d.Seconds())
		return
	}
	c.latencies[c.next] = d.Seconds()
	c.next = (c.next + 1) % latencyWindow
}

func (c *statsCollector) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := Stats{
		Ticks:   c.ticks,
		Sent:    c.sent,
		Dropped: make(map[DropReason]uint64, len(c.dropped)),
	}
	for reason, n := range c.dropped {
		out.Dropped[reason] = n
	}
	if len(c.latencies) == 0 {
		return out
	}
	data := stats.Float64Data(c.latencies)
	if mean, err := data.Mean(); err == nil {
		out.UnwrapMean = secondsToDuration(mean)
	}
	if p99, err := data.Percentile(99); err == nil {
		out.UnwrapP99 = secondsToDuration(p99)
	}
	return out
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
