package transcription

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-interpreter/internal/audio"
	"github.com/lexiqai/live-interpreter/internal/capture"
	"github.com/lexiqai/live-interpreter/internal/observability"
	"github.com/lexiqai/live-interpreter/internal/resilience"
)

const (
	defaultSiliconFlowURL   = "https://api.siliconflow.cn/v1/messages"
	defaultSiliconFlowModel = "Qwen/Qwen3-Omni-30B-A3B-Instruct"

	// strictJSONSuffix is appended to the system instruction so the model
	// replies with a parseable object
	strictJSONSuffix = "\nOutput strict JSON: {\"transcript\":\"\",\"translation\":\"\"}"

	maxResponseBytes = 1 << 20
)

// BufferedConfig configures the SiliconFlow backend
type BufferedConfig struct {
	APIKey         string
	URL            string
	Model          string
	MaxTokens      int
	SampleRate     int
	FrameSize      int
	QueueFrames    int
	Segmenter      audio.SegmenterConfig
	QueueSize      int
	RequestTimeout time.Duration
	Retry          *resilience.RetryConfig
	Breaker        *resilience.CircuitBreaker
	HTTPClient     *http.Client
	// Clock timestamps captured frames for segmentation
	Clock func() time.Time
}

// Buffered segments speech into turns and sends each completed turn as a
// single request. Turns are processed one at a time in capture order.
type Buffered struct {
	config     BufferedConfig
	res        Resources
	logger     zerolog.Logger
	metrics    *observability.Metrics
	httpClient *http.Client

	mu      sync.Mutex
	state   State
	handler Handler
	source  *capture.Source
	cancel  context.CancelFunc
	turns   chan audio.Turn
	done    chan struct{}
	system  string

	active atomic.Bool
}

// NewBuffered creates an idle buffered session
func NewBuffered(cfg BufferedConfig, res Resources) *Buffered {
	if cfg.URL == "" {
		cfg.URL = defaultSiliconFlowURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultSiliconFlowModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = 4096
	}
	if cfg.QueueFrames <= 0 {
		cfg.QueueFrames = 64
	}
	if cfg.Segmenter.SampleRate <= 0 {
		cfg.Segmenter = audio.DefaultSegmenterConfig()
		cfg.Segmenter.SampleRate = cfg.SampleRate
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 8
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = &resilience.RetryConfig{MaxAttempts: 1}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	if cfg.Breaker != nil {
		cfg.Breaker.OnStateChange(func(name string, state resilience.CircuitState, failed bool) {
			observability.UpdateCircuitBreakerState(name, int(state))
			if failed {
				observability.IncrementCircuitBreakerFailures(name)
			}
		})
	}

	return &Buffered{
		config:     cfg,
		res:        res,
		logger:     res.Logger.With().Str("component", "buffered_session").Logger(),
		metrics:    res.Metrics,
		httpClient: client,
		done:       make(chan struct{}),
	}
}

// Name implements Session
func (b *Buffered) Name() string {
	return "buffered"
}

// State implements Session
func (b *Buffered) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Connect implements Session. There is no persistent connection: the session
// is open as soon as the microphone is acquired.
func (b *Buffered) Connect(ctx context.Context, cfg Config, h Handler) error {
	if h == nil {
		h = HandlerFuncs{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateIdle {
		return ErrSessionUsed
	}
	if err := ctx.Err(); err != nil {
		b.state = StateErrored
		close(b.done)
		return err
	}

	source, err := capture.Open(b.res.Microphone, capture.Config{
		SampleRate:  b.config.SampleRate,
		FrameSize:   b.config.FrameSize,
		QueueFrames: b.config.QueueFrames,
		Logger:      b.logger,
		Metrics:     b.metrics,
	})
	if err != nil {
		b.state = StateErrored
		close(b.done)
		return fmt.Errorf("failed to acquire microphone: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	b.source = source
	b.cancel = cancel
	b.handler = h
	b.system = cfg.SystemInstruction + strictJSONSuffix
	b.turns = make(chan audio.Turn, b.config.QueueSize)
	b.state = StateOpen
	b.active.Store(true)

	b.logger.Info().Str("model", b.config.Model).Msg("Buffered session open")
	h.OnOpen()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.segmentLoop(sessCtx)
	}()
	go func() {
		defer wg.Done()
		b.worker(sessCtx)
	}()
	go func() {
		wg.Wait()
		close(b.done)
	}()

	return nil
}

// segmentLoop feeds captured frames through the segmenter and hands each
// completed turn to the worker without waiting for it
func (b *Buffered) segmentLoop(ctx context.Context) {
	defer close(b.turns)

	seg := audio.NewSegmenter(b.config.Segmenter)
	frames := b.source.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok || !b.active.Load() {
				return
			}

			b.handler.OnAudioData(frame)

			turn, ready := seg.Push(frame, b.config.Clock())
			if !ready {
				continue
			}

			select {
			case b.turns <- turn:
			default:
				b.logger.Warn().
					Dur("duration", turn.Duration()).
					Msg("Turn queue full, dropping turn")
				b.metrics.RecordTurn("dropped")
			}
		}
	}
}

func (b *Buffered) worker(ctx context.Context) {
	for turn := range b.turns {
		if ctx.Err() != nil || !b.active.Load() {
			continue
		}
		b.processTurn(ctx, turn)
	}
}

func (b *Buffered) processTurn(ctx context.Context, turn audio.Turn) {
	start := time.Now()
	logger := b.logger.With().Dur("turn_duration", turn.Duration()).Logger()

	text, err := b.requestTurn(ctx, turn)
	b.metrics.RecordTurnRequest(start, err == nil)

	// Late result of a disconnected session
	if ctx.Err() != nil || !b.active.Load() {
		return
	}

	h := b.handler
	if err != nil {
		logger.Error().Err(err).Msg("Turn request failed")
		b.metrics.RecordTurn("failed")
		b.metrics.RecordError("request", "buffered_session")
		h.OnError(err)
		return
	}

	result, ok := ExtractTranscript(text)
	if !ok {
		logger.Warn().Err(ErrMalformedResponse).Str("text", text).Msg("No transcript in model reply")
		b.metrics.RecordTurn("empty")
	} else {
		if result.Loose {
			logger.Debug().Msg("Recovered transcript from non-JSON reply")
		}
		b.metrics.RecordTurn("completed")
	}

	if result.Transcript != "" {
		b.metrics.RecordFragment("input")
		h.OnInputTranscription(result.Transcript)
	}
	if result.Translation != "" {
		b.metrics.RecordFragment("output")
		h.OnOutputTranscription(result.Translation)
	}
	h.OnTurnComplete()

	logger.Debug().Dur("latency", time.Since(start)).Msg("Turn processed")
}

type turnRequest struct {
	Model     string        `json:"model"`
	System    string        `json:"system"`
	Messages  []turnMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
	Stream    bool          `json:"stream"`
}

type turnMessage struct {
	Role    string        `json:"role"`
	Content []turnContent `json:"content"`
}

type turnContent struct {
	Type       string      `json:"type"`
	InputAudio *inputAudio `json:"input_audio,omitempty"`
}

type inputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

// requestTurn encodes the turn as WAV and returns the model's reply text
func (b *Buffered) requestTurn(ctx context.Context, turn audio.Turn) (string, error) {
	pcm := audio.FloatToInt16(turn.Merge())
	wav, err := audio.EncodeWAV(pcm, b.config.SampleRate)
	if err != nil {
		return "", fmt.Errorf("failed to encode turn: %w", err)
	}
	b.metrics.RecordAudioBytes("in", int64(len(wav)))

	payload, err := json.Marshal(turnRequest{
		Model:  b.config.Model,
		System: b.system,
		Messages: []turnMessage{{
			Role: "user",
			Content: []turnContent{{
				Type: "input_audio",
				InputAudio: &inputAudio{
					Data:   base64.StdEncoding.EncodeToString(wav),
					Format: "wav",
				},
			}},
		}},
		MaxTokens: b.config.MaxTokens,
		Stream:    false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var text string
	call := func() error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			t, err := b.post(ctx, payload)
			if err != nil {
				return err
			}
			text = t
			return nil
		}, b.config.Retry, isRetryableRequest)
	}

	if b.config.Breaker != nil {
		err = b.config.Breaker.Call(call)
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return "", &RequestError{Err: err}
		}
	} else {
		err = call()
	}
	if err != nil {
		// strip the retry marker
		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			return "", reqErr
		}
		return "", err
	}
	return text, nil
}

func (b *Buffered) post(ctx context.Context, payload []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.config.URL, bytes.NewReader(payload))
	if err != nil {
		return "", &RequestError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.config.APIKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", &RequestError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &RequestError{Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reqErr := &RequestError{
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(body)),
			Err:    fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", resilience.NewRetryableError(reqErr)
		}
		return "", reqErr
	}

	text, err := responseText(body)
	if err != nil {
		return "", &RequestError{Status: resp.StatusCode, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	return text, nil
}

// isRetryableRequest retries 429 and 5xx replies and transient network errors
func isRetryableRequest(err error) bool {
	if resilience.IsRetryable(err) {
		return true
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) && reqErr.Status > 0 {
		return false
	}
	return resilience.IsRetryableNetworkError(err)
}

// Disconnect implements Session. In-flight requests are cancelled and their
// results discarded.
func (b *Buffered) Disconnect() error {
	b.mu.Lock()
	switch b.state {
	case StateIdle:
		b.state = StateClosed
		close(b.done)
		b.mu.Unlock()
		return nil
	case StateOpen:
		b.state = StateClosed
	default:
		b.mu.Unlock()
		return nil
	}
	b.active.Store(false)
	source, cancel := b.source, b.cancel
	b.mu.Unlock()

	b.logger.Info().Msg("Disconnecting buffered session")
	source.Stop()
	cancel()
	<-b.done
	return nil
}
