package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Supported transcription backends
const (
	BackendStreaming = "streaming" // Gemini Live persistent session
	BackendBuffered  = "buffered"  // SiliconFlow request per detected turn
)

// Config holds all configuration for the live interpreter service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Backend selects the transcription strategy: streaming or buffered
	Backend string `envconfig:"BACKEND" default:"streaming"`

	// Gemini Live configuration (streaming backend)
	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY" default:""`
	GeminiModel   string `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash-native-audio-preview-09-2025"`
	GeminiBaseURL string `envconfig:"GEMINI_BASE_URL" default:"wss://generativelanguage.googleapis.com/ws"`
	GeminiVoice   string `envconfig:"GEMINI_VOICE" default:"Kore"`

	// SiliconFlow configuration (buffered backend)
	SiliconFlowAPIKey    string `envconfig:"SILICONFLOW_API_KEY" default:""`
	SiliconFlowURL       string `envconfig:"SILICONFLOW_URL" default:"https://api.siliconflow.cn/v1/messages"`
	SiliconFlowModel     string `envconfig:"SILICONFLOW_MODEL" default:"Qwen/Qwen3-Omni-30B-A3B-Instruct"`
	SiliconFlowMaxTokens int    `envconfig:"SILICONFLOW_MAX_TOKENS" default:"1024"`
	RequestTimeout       int    `envconfig:"REQUEST_TIMEOUT" default:"30"` // seconds, per buffered turn

	// Audio configuration
	InputSampleRate  int `envconfig:"INPUT_SAMPLE_RATE" default:"16000"`  // microphone uplink
	OutputSampleRate int `envconfig:"OUTPUT_SAMPLE_RATE" default:"24000"` // synthesized speech
	FrameSize        int `envconfig:"FRAME_SIZE" default:"4096"`          // samples per captured frame
	PlaybackLatency  int `envconfig:"PLAYBACK_LATENCY" default:"100"`     // speaker buffer, milliseconds

	// Voice activity segmentation (buffered backend)
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"0.01"` // RMS on normalized samples
	VADSilenceMs       int     `envconfig:"VAD_SILENCE_MS" default:"300"`        // trailing silence that ends a turn
	VADMinTurnMs       int     `envconfig:"VAD_MIN_TURN_MS" default:"400"`       // minimum buffered audio per turn
	TurnQueueSize      int     `envconfig:"TURN_QUEUE_SIZE" default:"8"`         // turns waiting for a response

	// Language pair
	DefaultLangA  string `envconfig:"DEFAULT_LANG_A" default:"English"`
	DefaultLangB  string `envconfig:"DEFAULT_LANG_B" default:"Chinese"`
	LanguagesFile string `envconfig:"LANGUAGES_FILE" default:""` // optional YAML catalogue

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"1"`             // 1 = no retry of a failed turn
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"250"`        // milliseconds
	ConnectMaxAttempts         int `envconfig:"CONNECT_MAX_ATTEMPTS" default:"3"`           // streaming dial attempts
	ConnectBackoff             int `envconfig:"CONNECT_BACKOFF" default:"500"`              // milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the backend selection and its credentials
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendStreaming:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the %s backend", c.Backend)
		}
	case BackendBuffered:
		if c.SiliconFlowAPIKey == "" {
			return fmt.Errorf("SILICONFLOW_API_KEY is required for the %s backend", c.Backend)
		}
	default:
		return fmt.Errorf("unknown BACKEND %q (want %q or %q)", c.Backend, BackendStreaming, BackendBuffered)
	}

	if c.InputSampleRate <= 0 || c.OutputSampleRate <= 0 {
		return fmt.Errorf("sample rates must be positive")
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("FRAME_SIZE must be positive, got %d", c.FrameSize)
	}

	return nil
}

// RequestTimeoutDuration returns the per-turn HTTP timeout
func (c *Config) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// PlaybackLatencyDuration returns the speaker buffer size
func (c *Config) PlaybackLatencyDuration() time.Duration {
	return time.Duration(c.PlaybackLatency) * time.Millisecond
}

// VADSilence returns the trailing-silence threshold
func (c *Config) VADSilence() time.Duration {
	return time.Duration(c.VADSilenceMs) * time.Millisecond
}

// VADMinTurn returns the minimum buffered duration of a turn
func (c *Config) VADMinTurn() time.Duration {
	return time.Duration(c.VADMinTurnMs) * time.Millisecond
}
