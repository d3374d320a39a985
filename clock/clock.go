// Package clock measures the elapsed cycles of a batch of repeated work
// using a fenced hardware counter where the platform has one.
package clock

import "time"

// Counter is a monotonically increasing cycle source. Start and End are
// separate reads so an implementation can fence each side of the
// measured region differently.
type Counter interface {
	Start() uint64
	End() uint64
	// Overhead is the cost of one Start/End pair in counter units.
	Overhead() uint64
	Name() string
}

// Clock runs work under a Counter.
type Clock struct {
	counter Counter
}

// New returns a Clock reading from counter.
func New(counter Counter) *Clock {
	return &Clock{counter: counter}
}

// Default returns a Clock backed by the best counter for this platform.
func Default() *Clock {
	return New(defaultCounter())
}

// Measure executes work iterations times back to back and returns the
// total elapsed counter units for the whole batch. The result is not
// divided by iterations. A counter that goes backwards yields 0.
func (c *Clock) Measure(work func(), iterations int) uint64 {
	if iterations < 1 {
		iterations = 1
	}

	start := c.counter.Start()
	for i := 0; i < iterations; i++ {
		work()
	}
	end := c.counter.End()

	if end < start {
		return 0
	}

	return end - start
}

// Overhead reports the counter's own read cost.
func (c *Clock) Overhead() uint64 {
	return c.counter.Overhead()
}

// CounterName identifies the counter in use ("tsc" or "monotonic-ns").
func (c *Clock) CounterName() string {
	return c.counter.Name()
}

var epoch = time.Now()

// monotonicCounter counts nanoseconds on the runtime's monotonic clock.
type monotonicCounter struct{}

// Monotonic returns a nanosecond Counter for platforms without a
// readable cycle counter.
func Monotonic() Counter {
	return monotonicCounter{}
}

func (monotonicCounter) Start() uint64 { return uint64(time.Since(epoch)) }

func (monotonicCounter) End() uint64 { return uint64(time.Since(epoch)) }

func (m monotonicCounter) Overhead() uint64 {
	best := ^uint64(0)
	for i := 0; i < 64; i++ {
		s := m.Start()
		e := m.End()
		if e-s < best {
			best = e - s
		}
	}

	return best
}

func (monotonicCounter) Name() string { return "monotonic-ns" }
