package audio

import "time"

// SegmenterConfig holds configuration for energy-gated turn segmentation
type SegmenterConfig struct {
	SampleRate      int           // Samples per second of incoming frames
	EnergyThreshold float64       // RMS above which a frame counts as voiced
	Silence         time.Duration // Trailing silence that ends a turn
	MinTurn         time.Duration // Minimum buffered audio before a turn may end
}

// DefaultSegmenterConfig returns the 16 kHz uplink defaults
func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		SampleRate:      16000,
		EnergyThreshold: 0.01,
		Silence:         300 * time.Millisecond,
		MinTurn:         400 * time.Millisecond,
	}
}

// Turn is the audio buffered between two boundaries. The Segmenter only
// hands off turns in which at least one frame crossed the RMS threshold;
// a boundary over silence alone is discarded and never reaches a backend.
type Turn struct {
	Frames     [][]float32
	SampleRate int
	StartedAt  time.Time
	EndedAt    time.Time
}

// Merge concatenates the turn's frames
func (t Turn) Merge() []float32 {
	n := 0
	for _, f := range t.Frames {
		n += len(f)
	}
	out := make([]float32, 0, n)
	for _, f := range t.Frames {
		out = append(out, f...)
	}
	return out
}

// Samples returns the number of buffered samples
func (t Turn) Samples() int {
	n := 0
	for _, f := range t.Frames {
		n += len(f)
	}
	return n
}

// Duration returns the audio length of the turn
func (t Turn) Duration() time.Duration {
	return samplesToDuration(t.Samples(), t.SampleRate)
}

// Segmenter declares turn boundaries from a frame stream using an RMS gate,
// a trailing-silence timeout and a minimum-duration gate. It is not safe for
// concurrent use.
type Segmenter struct {
	config    SegmenterConfig
	frames    [][]float32
	samples   int
	lastVoice time.Time
	voiced    bool
	startedAt time.Time
}

// NewSegmenter creates a new segmenter
func NewSegmenter(config SegmenterConfig) *Segmenter {
	if config.SampleRate <= 0 {
		config.SampleRate = DefaultSegmenterConfig().SampleRate
	}
	return &Segmenter{config: config}
}

// Push appends a frame captured at now. When the frame closes a turn the
// buffered audio is returned and accumulation restarts.
//
// A boundary over audio that never crossed the energy threshold is dropped
// rather than returned.
func (s *Segmenter) Push(frame []float32, now time.Time) (Turn, bool) {
	if len(s.frames) == 0 {
		s.startedAt = now
	}

	if CalculateRMS(frame) > s.config.EnergyThreshold {
		s.lastVoice = now
		s.voiced = true
	}

	s.frames = append(s.frames, frame)
	s.samples += len(frame)

	if now.Sub(s.lastVoice) <= s.config.Silence || s.Buffered() <= s.config.MinTurn {
		return Turn{}, false
	}

	turn := Turn{
		Frames:     s.frames,
		SampleRate: s.config.SampleRate,
		StartedAt:  s.startedAt,
		EndedAt:    now,
	}
	voiced := s.voiced
	s.Reset()

	if !voiced {
		return Turn{}, false
	}
	return turn, true
}

// Buffered returns the duration of audio accumulated for the current turn
func (s *Segmenter) Buffered() time.Duration {
	return samplesToDuration(s.samples, s.config.SampleRate)
}

// Reset discards the current accumulation
func (s *Segmenter) Reset() {
	s.frames = nil
	s.samples = 0
	s.voiced = false
}

func samplesToDuration(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
