package playback

import (
	"errors"
	"sync"
	"time"

	"github.com/lexiqai/live-interpreter/internal/observability"
)

// ErrClosed is returned when scheduling on a closed scheduler
var ErrClosed = errors.New("playback scheduler closed")

// Buffer is a decoded chunk of mono speech
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playing time of the buffer
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// Window is the scheduled [Start, End) span on the output clock
type Window struct {
	Start time.Duration
	End   time.Duration
}

// Output is an audio device with a monotonic clock
type Output interface {
	// Now returns the current device time
	Now() time.Duration
	// Play starts buf exactly at device time at
	Play(buf Buffer, at time.Duration) error
	Close() error
}

// Scheduler plays buffers back to back on one Output. Each buffer starts at
// max(end of previous buffer, device time), so chunks never overlap and
// never leave a gap while they keep arriving in time.
type Scheduler struct {
	out     Output
	metrics *observability.Metrics

	mu     sync.Mutex
	next   time.Duration
	played bool
	closed bool
}

// NewScheduler creates a scheduler over out
func NewScheduler(out Output, metrics *observability.Metrics) *Scheduler {
	return &Scheduler{out: out, metrics: metrics}
}

// Schedule queues buf and returns the window it will occupy
func (s *Scheduler) Schedule(buf Buffer) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Window{}, ErrClosed
	}

	now := s.out.Now()
	underrun := false
	if s.next < now {
		underrun = s.played
		s.next = now
	}

	start := s.next
	if err := s.out.Play(buf, start); err != nil {
		return Window{}, err
	}

	d := buf.Duration()
	s.next += d
	s.played = true
	s.metrics.RecordPlayback(d, underrun)

	return Window{Start: start, End: s.next}, nil
}

// Next returns the playback clock: the earliest start of the next buffer
func (s *Scheduler) Next() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Close closes the output and waits for it to release the device.
// Repeated calls return nil.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.out.Close()
}
