package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

// MalgoDevice captures mono float32 audio from the default input device
// through miniaudio
type MalgoDevice struct {
	logger zerolog.Logger

	mu  sync.Mutex
	ctx *malgo.AllocatedContext
	dev *malgo.Device
}

// NewMalgoDevice creates an unopened device
func NewMalgoDevice(logger zerolog.Logger) *MalgoDevice {
	return &MalgoDevice{
		logger: logger.With().Str("component", "malgo").Logger(),
	}
}

// Start opens the default capture device at sampleRate
func (m *MalgoDevice) Start(sampleRate int, onSamples func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dev != nil {
		return errors.New("capture device already started")
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		m.logger.Debug().Str("miniaudio", strings.TrimSpace(message)).Msg("miniaudio log")
	})
	if err != nil {
		return fmt.Errorf("failed to init audio context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(sampleRate)
	cfg.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			onSamples(decodeF32(input, int(frameCount)))
		},
	}

	dev, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		releaseContext(ctx)
		return fmt.Errorf("failed to open capture device: %w", err)
	}

	if err := dev.Start(); err != nil {
		dev.Uninit()
		releaseContext(ctx)
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	m.ctx = ctx
	m.dev = dev
	return nil
}

// Stop stops and releases the device and its context
func (m *MalgoDevice) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dev == nil {
		return nil
	}

	err := m.dev.Stop()
	m.dev.Uninit()
	releaseContext(m.ctx)
	m.dev = nil
	m.ctx = nil

	if err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}
	return nil
}

func releaseContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}

// decodeF32 reads little-endian float32 samples
func decodeF32(data []byte, frames int) []float32 {
	n := len(data) / 4
	if frames < n {
		n = frames
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}
