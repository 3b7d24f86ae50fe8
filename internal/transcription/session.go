package transcription

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-interpreter/internal/audio"
	"github.com/lexiqai/live-interpreter/internal/capture"
	"github.com/lexiqai/live-interpreter/internal/config"
	"github.com/lexiqai/live-interpreter/internal/observability"
	"github.com/lexiqai/live-interpreter/internal/playback"
	"github.com/lexiqai/live-interpreter/internal/resilience"
)

// State is the lifecycle of a session
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Handler receives session events. Callbacks run on session goroutines and
// stop as soon as Disconnect begins. Only the terminal OnClose, or OnError
// with a fatal error, may call Disconnect synchronously.
type Handler interface {
	OnOpen()
	OnClose()
	OnError(err error)
	OnInputTranscription(fragment string)
	OnOutputTranscription(fragment string)
	OnTurnComplete()
	OnAudioData(samples []float32)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Open                func()
	Close               func()
	Error               func(error)
	InputTranscription  func(string)
	OutputTranscription func(string)
	TurnComplete        func()
	AudioData           func([]float32)
}

func (h HandlerFuncs) OnOpen() {
	if h.Open != nil {
		h.Open()
	}
}

func (h HandlerFuncs) OnClose() {
	if h.Close != nil {
		h.Close()
	}
}

func (h HandlerFuncs) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}

func (h HandlerFuncs) OnInputTranscription(fragment string) {
	if h.InputTranscription != nil {
		h.InputTranscription(fragment)
	}
}

func (h HandlerFuncs) OnOutputTranscription(fragment string) {
	if h.OutputTranscription != nil {
		h.OutputTranscription(fragment)
	}
}

func (h HandlerFuncs) OnTurnComplete() {
	if h.TurnComplete != nil {
		h.TurnComplete()
	}
}

func (h HandlerFuncs) OnAudioData(samples []float32) {
	if h.AudioData != nil {
		h.AudioData(samples)
	}
}

// Config is the per-connection request
type Config struct {
	SystemInstruction string
}

// Session is a transcription/translation backend. A session is single use:
// once disconnected or failed, create a new one.
type Session interface {
	// Connect acquires the microphone and opens the backend. Errors during
	// acquisition are returned, not delivered to the handler.
	Connect(ctx context.Context, cfg Config, h Handler) error
	// Disconnect releases every resource. It is idempotent, safe from any
	// state and never fails.
	Disconnect() error
	State() State
	// Name identifies the backend in logs and metrics
	Name() string
}

// Resources are the hardware handles a session acquires
type Resources struct {
	Microphone capture.Device
	// NewOutput opens the speech output at the given rate. Only the
	// streaming backend plays audio.
	NewOutput func(sampleRate int) (playback.Output, error)
	Logger    zerolog.Logger
	Metrics   *observability.Metrics
}

// New builds the session selected by cfg.Backend
func New(cfg *config.Config, res Resources) (Session, error) {
	switch cfg.Backend {
	case config.BackendStreaming:
		return NewStreaming(StreamingConfigFrom(cfg), res), nil
	case config.BackendBuffered:
		return NewBuffered(BufferedConfigFrom(cfg), res), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// StreamingConfigFrom maps service configuration onto the streaming backend
func StreamingConfigFrom(cfg *config.Config) StreamingConfig {
	return StreamingConfig{
		APIKey:           cfg.GeminiAPIKey,
		Model:            cfg.GeminiModel,
		BaseURL:          cfg.GeminiBaseURL,
		Voice:            cfg.GeminiVoice,
		InputSampleRate:  cfg.InputSampleRate,
		OutputSampleRate: cfg.OutputSampleRate,
		FrameSize:        cfg.FrameSize,
		ConnectAttempts:  cfg.ConnectMaxAttempts,
		ConnectBackoff:   time.Duration(cfg.ConnectBackoff) * time.Millisecond,
	}
}

// BufferedConfigFrom maps service configuration onto the buffered backend
func BufferedConfigFrom(cfg *config.Config) BufferedConfig {
	return BufferedConfig{
		APIKey:     cfg.SiliconFlowAPIKey,
		URL:        cfg.SiliconFlowURL,
		Model:      cfg.SiliconFlowModel,
		MaxTokens:  cfg.SiliconFlowMaxTokens,
		SampleRate: cfg.InputSampleRate,
		FrameSize:  cfg.FrameSize,
		Segmenter: audio.SegmenterConfig{
			SampleRate:      cfg.InputSampleRate,
			EnergyThreshold: cfg.VADEnergyThreshold,
			Silence:         cfg.VADSilence(),
			MinTurn:         cfg.VADMinTurn(),
		},
		QueueSize:      cfg.TurnQueueSize,
		RequestTimeout: cfg.RequestTimeoutDuration(),
		Retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		Breaker: resilience.NewCircuitBreaker(resilience.BreakerConfig{
			Name:         "siliconflow",
			MaxFailures:  cfg.CircuitBreakerMaxFailures,
			ResetTimeout: time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second,
		}),
	}
}
