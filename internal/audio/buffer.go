package audio

import (
	"sync"
)

// SampleRing is a thread-safe ring buffer of float samples. Capture uses it to
// turn arbitrarily sized device callbacks into fixed-size frames.
type SampleRing struct {
	buffer []float32
	size   int
	read   int
	write  int
	mu     sync.RWMutex
}

// NewSampleRing creates a ring holding up to capacity samples
func NewSampleRing(capacity int) *SampleRing {
	size := capacity + 1 // one slot distinguishes full from empty
	return &SampleRing{
		buffer: make([]float32, size),
		size:   size,
	}
}

// Write writes samples to the ring.
// Returns the number written (less than len(data) if the ring fills up).
func (rb *SampleRing) Write(data []float32) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	written := 0
	for _, s := range data {
		if (rb.write+1)%rb.size == rb.read {
			break // full
		}
		rb.buffer[rb.write] = s
		rb.write = (rb.write + 1) % rb.size
		written++
	}

	return written
}

// ReadFrame removes exactly n samples if that many are buffered
func (rb *SampleRing) ReadFrame(n int) ([]float32, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.available() < n {
		return nil, false
	}
	frame := make([]float32, n)
	for i := range frame {
		frame[i] = rb.buffer[rb.read]
		rb.read = (rb.read + 1) % rb.size
	}
	return frame, true
}

// Available returns the number of samples available to read
func (rb *SampleRing) Available() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.available()
}

func (rb *SampleRing) available() int {
	if rb.write >= rb.read {
		return rb.write - rb.read
	}
	return rb.size - rb.read + rb.write
}

// Clear clears the buffer
func (rb *SampleRing) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.read = 0
	rb.write = 0
}
