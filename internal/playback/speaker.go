package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"
	"github.com/rs/zerolog"
)

// SpeakerOutput plays a Timeline on the default output device
type SpeakerOutput struct {
	*Timeline
	logger    zerolog.Logger
	closeOnce sync.Once
}

// NewSpeakerOutput opens the speaker at sampleRate with the given device
// buffer latency
func NewSpeakerOutput(sampleRate int, latency time.Duration, logger zerolog.Logger) (*SpeakerOutput, error) {
	sr := beep.SampleRate(sampleRate)
	if err := speaker.Init(sr, sr.N(latency)); err != nil {
		return nil, fmt.Errorf("failed to open speaker: %w", err)
	}

	out := &SpeakerOutput{
		Timeline: NewTimeline(sampleRate),
		logger:   logger.With().Str("component", "speaker").Logger(),
	}
	speaker.Play(out.Timeline)

	out.logger.Info().Int("sample_rate", sampleRate).Dur("latency", latency).Msg("Speaker opened")
	return out, nil
}

// Close stops playback and releases the device. Safe to call repeatedly.
func (o *SpeakerOutput) Close() error {
	o.closeOnce.Do(func() {
		o.Timeline.Close()
		speaker.Clear()
		speaker.Close()
		o.logger.Info().Msg("Speaker closed")
	})
	return nil
}
