package transcription

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/live-interpreter/internal/audio"
	"github.com/lexiqai/live-interpreter/internal/capture"
	"github.com/lexiqai/live-interpreter/internal/observability"
	"github.com/lexiqai/live-interpreter/internal/playback"
	"github.com/lexiqai/live-interpreter/internal/resilience"
)

const (
	defaultGeminiModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultGeminiBaseURL = "wss://generativelanguage.googleapis.com/ws"
	defaultGeminiVoice   = "Kore"

	keepaliveInterval = 20 * time.Second
	controlTimeout    = 5 * time.Second
	writeTimeout      = 10 * time.Second
)

// errRemoteClosed ends the loops when the service closes the stream cleanly
var errRemoteClosed = errors.New("stream closed by remote")

// StreamingConfig configures the Gemini Live backend
type StreamingConfig struct {
	APIKey           string
	Model            string
	BaseURL          string
	Voice            string
	InputSampleRate  int
	OutputSampleRate int
	FrameSize        int
	QueueFrames      int
	ConnectAttempts  int
	ConnectBackoff   time.Duration
	KeepaliveEvery   time.Duration
	Dialer           *websocket.Dialer
}

// Streaming keeps one bidirectional Gemini Live session open, pushing every
// captured frame and playing back synthesized speech as it arrives
type Streaming struct {
	config  StreamingConfig
	res     Resources
	logger  zerolog.Logger
	metrics *observability.Metrics

	mu        sync.Mutex
	state     State
	handler   Handler
	conn      *websocket.Conn
	source    *capture.Source
	scheduler *playback.Scheduler
	cancel    context.CancelFunc
	done      chan struct{}

	active      atomic.Bool
	writeMu     sync.Mutex
	releaseOnce sync.Once
	doneOnce    sync.Once
}

// NewStreaming creates an idle streaming session
func NewStreaming(cfg StreamingConfig, res Resources) *Streaming {
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiBaseURL
	}
	if cfg.Voice == "" {
		cfg.Voice = defaultGeminiVoice
	}
	if cfg.InputSampleRate <= 0 {
		cfg.InputSampleRate = 16000
	}
	if cfg.OutputSampleRate <= 0 {
		cfg.OutputSampleRate = 24000
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = 4096
	}
	if cfg.QueueFrames <= 0 {
		cfg.QueueFrames = 64
	}
	if cfg.KeepaliveEvery <= 0 {
		cfg.KeepaliveEvery = keepaliveInterval
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}

	return &Streaming{
		config:  cfg,
		res:     res,
		logger:  res.Logger.With().Str("component", "streaming_session").Logger(),
		metrics: res.Metrics,
		done:    make(chan struct{}),
	}
}

// Name implements Session
func (s *Streaming) Name() string {
	return "streaming"
}

// State implements Session
func (s *Streaming) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect implements Session
func (s *Streaming) Connect(ctx context.Context, cfg Config, h Handler) error {
	if h == nil {
		h = HandlerFuncs{}
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrSessionUsed
	}
	dialCtx, cancelDial := context.WithCancel(ctx)
	defer cancelDial()
	s.state = StateConnecting
	s.handler = h
	s.cancel = cancelDial
	s.mu.Unlock()

	source, err := capture.Open(s.res.Microphone, capture.Config{
		SampleRate:  s.config.InputSampleRate,
		FrameSize:   s.config.FrameSize,
		QueueFrames: s.config.QueueFrames,
		Logger:      s.logger,
		Metrics:     s.metrics,
	})
	if err != nil {
		s.fail()
		return fmt.Errorf("failed to acquire microphone: %w", err)
	}

	if s.res.NewOutput == nil {
		source.Stop()
		s.fail()
		return errors.New("no audio output configured")
	}
	out, err := s.res.NewOutput(s.config.OutputSampleRate)
	if err != nil {
		source.Stop()
		s.fail()
		return fmt.Errorf("failed to open audio output: %w", err)
	}
	scheduler := playback.NewScheduler(out, s.metrics)

	conn, err := s.dial(dialCtx)
	if err == nil {
		err = s.sendSetup(conn, cfg)
		if err != nil {
			conn.Close()
			err = &TransportError{Op: "setup", Err: err}
		}
	}
	if err != nil {
		source.Stop()
		scheduler.Close()
		s.fail()
		return err
	}

	sessCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.state != StateConnecting {
		// Disconnect won the race
		s.mu.Unlock()
		cancel()
		conn.Close()
		source.Stop()
		scheduler.Close()
		s.closeDone()
		return ErrDisconnected
	}
	s.conn = conn
	s.source = source
	s.scheduler = scheduler
	s.cancel = cancel
	s.state = StateOpen
	s.active.Store(true)
	s.mu.Unlock()

	s.logger.Info().Str("model", s.config.Model).Str("voice", s.config.Voice).Msg("Streaming session open")
	h.OnOpen()

	g, gctx := errgroup.WithContext(sessCtx)
	g.Go(func() error { return s.receiveLoop(gctx) })
	g.Go(func() error { return s.pumpLoop(gctx) })
	g.Go(func() error { return s.keepaliveLoop(gctx) })
	g.Go(func() error {
		// unblocks receiveLoop when another loop fails
		<-gctx.Done()
		conn.Close()
		return nil
	})
	go s.watch(g)

	return nil
}

func (s *Streaming) url() string {
	return fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		s.config.BaseURL, url.QueryEscape(s.config.APIKey),
	)
}

// dial opens the websocket with bounded retries. Only the initial dial is
// retried; an established stream that fails is not reconnected.
func (s *Streaming) dial(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	err := resilience.Reconnect(ctx, func(ctx context.Context) error {
		c, resp, err := s.config.Dialer.DialContext(ctx, s.url(), nil)
		if err != nil {
			if resp != nil {
				return fmt.Errorf("%w (HTTP %d)", err, resp.StatusCode)
			}
			return err
		}
		conn = c
		return nil
	}, &resilience.ReconnectConfig{
		MaxAttempts: s.config.ConnectAttempts,
		Backoff:     s.config.ConnectBackoff,
		Multiplier:  2.0,
		MaxBackoff:  10 * time.Second,
		Logger:      &s.logger,
	})
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	return conn, nil
}

func (s *Streaming) sendSetup(conn *websocket.Conn, cfg Config) error {
	msg := setupMessage{
		Setup: setupConfig{
			Model: "models/" + s.config.Model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
				SpeechConfig: &speechConfig{
					VoiceConfig: voiceConfig{
						PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: s.config.Voice},
					},
				},
			},
			InputAudioTranscription:  &struct{}{},
			OutputAudioTranscription: &struct{}{},
		},
	}
	if cfg.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: cfg.SystemInstruction}}}
	}

	return s.writeJSONTo(conn, msg)
}

func (s *Streaming) writeJSON(v any) error {
	return s.writeJSONTo(s.conn, v)
}

// writeJSONTo serializes writers; gorilla allows one concurrent writer
func (s *Streaming) writeJSONTo(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// receiveLoop reads server messages until the connection ends
func (s *Streaming) receiveLoop(ctx context.Context) error {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || !s.active.Load() {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errRemoteClosed
			}
			return &TransportError{Op: "read", Err: err}
		}

		if !s.active.Load() {
			return nil
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug().Err(err).Msg("Skipping malformed server message")
			continue
		}

		if err := s.handleServerMessage(&msg); err != nil {
			return err
		}
	}
}

func (s *Streaming) handleServerMessage(msg *serverMessage) error {
	if msg.SetupComplete != nil {
		s.logger.Debug().Msg("Setup complete")
	}

	if msg.Error != nil {
		text := msg.Error.Message
		if text == "" {
			text = "unknown error"
		}
		return &TransportError{Op: "server", Err: fmt.Errorf("gemini: %s (code %d)", text, msg.Error.Code)}
	}

	sc := msg.ServerContent
	if sc == nil {
		return nil
	}

	h := s.handler
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		s.metrics.RecordFragment("output")
		h.OnOutputTranscription(sc.OutputTranscription.Text)
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		s.metrics.RecordFragment("input")
		h.OnInputTranscription(sc.InputTranscription.Text)
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				s.playChunk(p.InlineData.Data)
			}
		}
	}
	if sc.TurnComplete {
		h.OnTurnComplete()
	}

	return nil
}

// playChunk decodes base64 PCM16 speech and queues it for gapless playback
func (s *Streaming) playChunk(encoded string) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Dropping undecodable audio chunk")
		s.metrics.RecordError("decode", "streaming_session")
		return
	}
	pcm, err := audio.BytesToInt16(raw)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Dropping malformed audio chunk")
		s.metrics.RecordError("decode", "streaming_session")
		return
	}
	s.metrics.RecordAudioBytes("out", int64(len(raw)))

	buf := playback.Buffer{Samples: audio.Int16ToFloat(pcm), SampleRate: s.config.OutputSampleRate}
	if _, err := s.scheduler.Schedule(buf); err != nil && !errors.Is(err, playback.ErrClosed) {
		s.logger.Warn().Err(err).Msg("Failed to schedule playback")
		s.metrics.RecordError("playback", "streaming_session")
	}
}

// pumpLoop pushes every captured frame to the service
func (s *Streaming) pumpLoop(ctx context.Context) error {
	frames := s.source.Frames()
	mime := fmt.Sprintf("audio/pcm;rate=%d", s.source.SampleRate())
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-frames:
			if !ok || !s.active.Load() {
				return nil
			}

			s.handler.OnAudioData(frame)

			pcm := audio.Int16ToBytes(audio.FloatToInt16(frame))
			msg := realtimeInputMessage{
				RealtimeInput: realtimeInput{
					MediaChunks: []mediaChunk{{
						MIMEType: mime,
						Data:     base64.StdEncoding.EncodeToString(pcm),
					}},
				},
			}
			if err := s.writeJSON(msg); err != nil {
				if !s.active.Load() {
					return nil
				}
				return &TransportError{Op: "write", Err: err}
			}
			s.metrics.RecordAudioBytes("in", int64(len(pcm)))
		}
	}
}

func (s *Streaming) keepaliveLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.config.KeepaliveEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlTimeout)); err != nil {
				s.logger.Debug().Err(err).Msg("Keepalive ping failed")
			}
		}
	}
}

// watch tears the session down once the loops end. Callbacks fire after
// resources are released so a handler may call Disconnect.
func (s *Streaming) watch(g *errgroup.Group) {
	err := g.Wait()

	s.mu.Lock()
	wasActive := s.active.Swap(false)
	s.mu.Unlock()
	s.release()

	s.mu.Lock()
	if wasActive {
		if err != nil && !errors.Is(err, errRemoteClosed) {
			s.state = StateErrored
		} else {
			s.state = StateClosed
		}
	}
	h := s.handler
	s.mu.Unlock()
	s.closeDone()

	if !wasActive {
		return
	}

	if err != nil && !errors.Is(err, errRemoteClosed) {
		s.logger.Error().Err(err).Msg("Streaming session failed")
		s.metrics.RecordError("transport", "streaming_session")
		h.OnError(err)
		return
	}
	s.logger.Info().Msg("Streaming session closed by remote")
	h.OnClose()
}

// release stops capture, closes the websocket and waits for the audio
// output to shut down
func (s *Streaming) release() {
	s.releaseOnce.Do(func() {
		s.mu.Lock()
		source, conn, scheduler, cancel := s.source, s.conn, s.scheduler, s.cancel
		s.mu.Unlock()

		if source != nil {
			source.Stop()
		}
		if conn != nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(controlTimeout))
			conn.Close()
		}
		if cancel != nil {
			cancel()
		}
		if scheduler != nil {
			if err := scheduler.Close(); err != nil {
				s.logger.Warn().Err(err).Msg("Error closing audio output")
			}
		}
	})
}

func (s *Streaming) fail() {
	s.mu.Lock()
	if s.state == StateConnecting {
		s.state = StateErrored
	}
	s.mu.Unlock()
	s.closeDone()
}

func (s *Streaming) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Disconnect implements Session
func (s *Streaming) Disconnect() error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.state = StateClosed
		s.mu.Unlock()
		s.closeDone()
		return nil
	case StateConnecting:
		// Connect notices, releases what it acquired and closes done
		s.state = StateClosed
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()
		<-s.done
		return nil
	case StateOpen:
		s.state = StateClosed
	}
	wasActive := s.active.Swap(false)
	s.mu.Unlock()

	if wasActive {
		s.logger.Info().Msg("Disconnecting streaming session")
	}
	s.release()
	<-s.done
	return nil
}
