package capture

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-interpreter/internal/audio"
	"github.com/lexiqai/live-interpreter/internal/observability"
)

// Device is an exclusive microphone handle. Start delivers mono float samples
// of any chunk size to onSamples until Stop is called.
type Device interface {
	Start(sampleRate int, onSamples func([]float32)) error
	Stop() error
}

// Config holds capture settings
type Config struct {
	SampleRate  int // 16000 for the uplink
	FrameSize   int // samples per delivered frame
	QueueFrames int // frames buffered for a slow consumer before dropping
	Logger      zerolog.Logger
	Metrics     *observability.Metrics
}

// Source turns device callbacks into a stream of fixed-size frames
type Source struct {
	device  Device
	config  Config
	logger  zerolog.Logger
	metrics *observability.Metrics

	ring   *audio.SampleRing
	frames chan []float32

	mu      sync.Mutex
	stopped bool
	dropped int64
}

// Open acquires the device and starts delivering frames. Acquisition
// failures are returned as *Error.
func Open(device Device, config Config) (*Source, error) {
	if device == nil {
		return nil, &Error{Op: "open", Err: ErrNoDevice}
	}
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	if config.FrameSize <= 0 {
		config.FrameSize = 4096
	}
	if config.QueueFrames <= 0 {
		config.QueueFrames = 16
	}

	s := &Source{
		device:  device,
		config:  config,
		logger:  config.Logger.With().Str("component", "capture").Logger(),
		metrics: config.Metrics,
		ring:    audio.NewSampleRing(config.FrameSize * 4),
		frames:  make(chan []float32, config.QueueFrames),
	}

	if err := device.Start(config.SampleRate, s.push); err != nil {
		s.mu.Lock()
		s.stopped = true
		close(s.frames)
		s.mu.Unlock()
		return nil, &Error{Op: "start", Err: classify(err)}
	}

	s.logger.Info().
		Int("sample_rate", config.SampleRate).
		Int("frame_size", config.FrameSize).
		Msg("Microphone capture started")

	return s, nil
}

// Frames returns the frame stream. It is closed by Stop and cannot be
// restarted.
func (s *Source) Frames() <-chan []float32 {
	return s.frames
}

// SampleRate returns the capture rate
func (s *Source) SampleRate() int {
	return s.config.SampleRate
}

// push runs on the device callback and must not block
func (s *Source) push(samples []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	for len(samples) > 0 {
		n := s.ring.Write(samples)
		samples = samples[n:]

		for {
			frame, ok := s.ring.ReadFrame(s.config.FrameSize)
			if !ok {
				break
			}
			select {
			case s.frames <- frame:
			default:
				s.dropped++
				s.metrics.RecordFrameDropped("capture")
				if s.dropped == 1 || s.dropped%100 == 0 {
					s.logger.Warn().Int64("dropped", s.dropped).Msg("Consumer lagging, dropping captured frames")
				}
			}
		}
	}
}

// Stop releases the device. Safe to call any number of times.
func (s *Source) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.frames)
	s.ring.Clear()
	s.mu.Unlock()

	// Outside the lock: the device may wait for an in-flight callback.
	if err := s.device.Stop(); err != nil && !errors.Is(err, ErrNoDevice) {
		s.logger.Warn().Err(err).Msg("Error releasing capture device")
	}

	s.logger.Info().Msg("Microphone capture stopped")
	return nil
}

// Dropped returns the number of frames dropped so far
func (s *Source) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
