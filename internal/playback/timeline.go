package playback

import (
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep"

	"github.com/lexiqai/live-interpreter/internal/audio"
)

type chunk struct {
	start   int // sample position on the timeline
	samples []float32
}

// Timeline is a beep.Streamer that renders chunks at absolute sample
// positions. Its clock is the number of samples streamed so far, so it
// advances only as fast as the device pulls audio.
type Timeline struct {
	rate beep.SampleRate

	mu     sync.Mutex
	pos    int
	queue  []chunk
	closed bool
}

// NewTimeline creates a timeline at sampleRate
func NewTimeline(sampleRate int) *Timeline {
	return &Timeline{rate: beep.SampleRate(sampleRate)}
}

// Now returns the time rendered so far
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rate.D(t.pos)
}

// Play places buf at device time at. Buffers at another rate are resampled;
// a start in the past is moved to now.
func (t *Timeline) Play(buf Buffer, at time.Duration) error {
	samples := buf.Samples
	if buf.SampleRate > 0 && buf.SampleRate != int(t.rate) {
		samples = audio.Resample(samples, buf.SampleRate, int(t.rate))
	}
	if len(samples) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}

	start := t.position(at)
	if start < t.pos {
		start = t.pos
	}
	t.queue = append(t.queue, chunk{start: start, samples: samples})
	return nil
}

// position rounds rather than truncates so accumulated nanosecond error in
// the scheduler's clock never shifts a chunk by a sample
func (t *Timeline) position(at time.Duration) int {
	return int(math.Round(at.Seconds() * float64(t.rate)))
}

// Stream implements beep.Streamer
func (t *Timeline) Stream(samples [][2]float64) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, false
	}

	for i := range samples {
		samples[i] = [2]float64{}
	}

	end := t.pos + len(samples)
	kept := t.queue[:0]
	for _, c := range t.queue {
		cEnd := c.start + len(c.samples)
		if cEnd <= t.pos {
			continue
		}

		from, to := max(c.start, t.pos), min(cEnd, end)
		for p := from; p < to; p++ {
			v := float64(c.samples[p-c.start])
			samples[p-t.pos][0] += v
			samples[p-t.pos][1] += v
		}

		if cEnd > end {
			kept = append(kept, c)
		}
	}
	t.queue = kept
	t.pos = end

	return len(samples), true
}

// Err implements beep.Streamer
func (t *Timeline) Err() error {
	return nil
}

// Pending returns the number of chunks not yet fully rendered
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Close drops queued audio and ends the stream
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.queue = nil
	return nil
}
