package interpreter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-interpreter/internal/audio"
	"github.com/lexiqai/live-interpreter/internal/config"
	"github.com/lexiqai/live-interpreter/internal/observability"
	"github.com/lexiqai/live-interpreter/internal/subtitle"
	"github.com/lexiqai/live-interpreter/internal/transcription"
)

// Status is the connection status shown to users
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

const connectTimeout = 30 * time.Second

var (
	// ErrAlreadyActive is returned by Start while a session is connecting or connected
	ErrAlreadyActive = errors.New("session already active")
	// ErrUnknownLanguage is returned for a language outside the catalogue
	ErrUnknownLanguage = errors.New("unknown language")
)

// SessionFactory creates a transcription session tagged with the given
// logger and metrics
type SessionFactory func(logger zerolog.Logger, metrics *observability.Metrics) (transcription.Session, error)

// Options configure a Controller
type Options struct {
	Backend      string
	NewSession   SessionFactory
	Languages    *config.Catalogue
	DefaultLangA string
	DefaultLangB string
	Events       Broadcaster
	Logger       zerolog.Logger
}

// StatusView is a point-in-time view of the controller
type StatusView struct {
	Status    Status            `json:"status"`
	Error     string            `json:"error,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Backend   string            `json:"backend"`
	LangA     string            `json:"lang_a"`
	LangB     string            `json:"lang_b"`
	Current   *subtitle.Message `json:"current,omitempty"`
	Messages  int               `json:"messages"`
}

// Controller runs at most one interpretation session at a time and turns its
// events into subtitles
type Controller struct {
	opts   Options
	logger zerolog.Logger

	acc     *subtitle.Accumulator
	history *subtitle.History

	mu        sync.Mutex
	status    Status
	lastErr   string
	gen       uint64
	session   transcription.Session
	sessionID string
	metrics   *observability.Metrics
	langA     string
	langB     string
}

// NewController creates a disconnected controller
func NewController(opts Options) *Controller {
	if opts.Events == nil {
		opts.Events = nopBroadcaster{}
	}
	langA, langB := opts.DefaultLangA, opts.DefaultLangB
	if opts.Languages != nil {
		if l, ok := opts.Languages.Lookup(langA); ok {
			langA = l
		}
		if l, ok := opts.Languages.Lookup(langB); ok {
			langB = l
		}
	}

	return &Controller{
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "controller").Logger(),
		acc:     subtitle.NewAccumulator(),
		history: subtitle.NewHistory(),
		status:  StatusDisconnected,
		langA:   langA,
		langB:   langB,
	}
}

// resolve maps a requested language onto the catalogue, falling back to def
// when empty
func (c *Controller) resolve(lang, def string) (string, error) {
	if lang == "" {
		lang = def
	}
	if c.opts.Languages == nil {
		return lang, nil
	}
	l, ok := c.opts.Languages.Lookup(lang)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, lang)
	}
	return l, nil
}

// Start begins a session interpreting between langA and langB. Empty
// languages keep the current selection. Connection happens in the background;
// progress is reported through status events.
func (c *Controller) Start(langA, langB string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, err := c.resolve(langA, c.langA)
	if err != nil {
		return err
	}
	b, err := c.resolve(langB, c.langB)
	if err != nil {
		return err
	}
	if c.status == StatusConnecting || c.status == StatusConnected {
		return ErrAlreadyActive
	}

	sessionID := observability.NewCorrelationID()
	logger := observability.SessionLogger(c.opts.Logger, sessionID, c.opts.Backend)
	metrics := observability.NewSessionMetrics(sessionID, c.opts.Backend)

	sess, err := c.opts.NewSession(logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	c.gen++
	gen := c.gen
	c.session = sess
	c.sessionID = sessionID
	c.metrics = metrics
	c.langA, c.langB = a, b
	c.lastErr = ""
	c.setStatusLocked(StatusConnecting)

	logger.Info().Str("lang_a", a).Str("lang_b", b).Msg("Starting interpretation session")

	go c.connect(gen, sess, Instruction(a, b), logger)
	return nil
}

func (c *Controller) connect(gen uint64, sess transcription.Session, instruction string, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	err := sess.Connect(ctx, transcription.Config{SystemInstruction: instruction}, c.handler(gen))
	if err == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		// stopped while connecting
		return
	}
	logger.Error().Err(err).Msg("Failed to start session")
	c.metrics.RecordError("connect", "controller")
	c.session = nil
	c.failLocked(err)
}

// Stop ends the current session. Safe to call in any state.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.gen++
	sess, metrics := c.session, c.metrics
	c.session = nil
	c.lastErr = ""
	c.setStatusLocked(StatusDisconnected)
	c.discardPendingLocked()
	c.mu.Unlock()

	if sess != nil {
		sess.Disconnect()
		c.logger.Info().Str("backend", sess.Name()).Msg("Session stopped")
	}
	metrics.RecordSessionEnd()
}

// Reset clears the subtitle history and the turn in progress
func (c *Controller) Reset() {
	c.acc.Reset()
	c.history.Clear()
	c.opts.Events.Broadcast(Event{Type: EventReset})
}

// Messages returns the finalized subtitles, oldest first
func (c *Controller) Messages() []subtitle.Message {
	return c.history.Messages()
}

// Snapshot returns the current status
func (c *Controller) Snapshot() StatusView {
	c.mu.Lock()
	view := StatusView{
		Status:    c.status,
		Error:     c.lastErr,
		SessionID: c.sessionID,
		Backend:   c.opts.Backend,
		LangA:     c.langA,
		LangB:     c.langB,
	}
	c.mu.Unlock()

	if p, ok := c.acc.Preview(); ok {
		view.Current = &p
	}
	view.Messages = c.history.Len()
	return view
}

// InitialEvents are sent to a newly connected subtitle client
func (c *Controller) InitialEvents() []Event {
	view := c.Snapshot()
	events := []Event{{Type: EventStatus, Status: view.Status, Error: view.Error}}
	for _, m := range c.history.Messages() {
		m := m
		events = append(events, Event{Type: EventSubtitle, Message: &m})
	}
	if view.Current != nil {
		events = append(events, Event{Type: EventOriginal, Text: view.Current.Original, Message: view.Current})
	}
	return events
}

func (c *Controller) setStatusLocked(s Status) {
	c.status = s
	c.opts.Events.Broadcast(Event{Type: EventStatus, Status: s, Error: c.lastErr})
}

func (c *Controller) failLocked(err error) {
	c.lastErr = err.Error()
	c.setStatusLocked(StatusError)
	c.opts.Events.Broadcast(Event{Type: EventError, Error: err.Error()})
	c.discardPendingLocked()
	c.metrics.RecordSessionEnd()
}

// discardPendingLocked drops the unfinished turn of a session that ended
func (c *Controller) discardPendingLocked() {
	_, pending := c.acc.Preview()
	c.acc.Reset()
	if pending {
		c.opts.Events.Broadcast(Event{Type: EventClear})
	}
}

// current runs fn under the lock if gen is still the live session
func (c *Controller) current(gen uint64, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	fn()
	return true
}

func (c *Controller) live(gen uint64) bool {
	return c.current(gen, func() {})
}

// handler binds session callbacks to one generation so a stopped session
// can no longer touch the subtitles
func (c *Controller) handler(gen uint64) transcription.Handler {
	return transcription.HandlerFuncs{
		Open: func() {
			c.current(gen, func() {
				c.metrics.RecordSessionStart()
				c.setStatusLocked(StatusConnected)
			})
		},
		Close: func() {
			c.current(gen, func() {
				c.session = nil
				c.setStatusLocked(StatusDisconnected)
				c.discardPendingLocked()
				c.metrics.RecordSessionEnd()
			})
		},
		Error: func(err error) {
			var sess transcription.Session
			ok := c.current(gen, func() {
				if !transcription.IsFatal(err) {
					c.opts.Events.Broadcast(Event{Type: EventError, Error: err.Error()})
					return
				}
				sess = c.session
				c.session = nil
				c.failLocked(err)
			})
			if ok && sess != nil {
				// resources may still be held; never block the session goroutine
				go sess.Disconnect()
			}
		},
		// Turn updates run under the lock so Stop cannot interleave a
		// reset with a late fragment of the ending session.
		InputTranscription: func(fragment string) {
			c.current(gen, func() {
				st := c.acc.AppendOriginal(fragment)
				c.broadcastPending(EventOriginal, st.Original)
			})
		},
		OutputTranscription: func(fragment string) {
			c.current(gen, func() {
				st := c.acc.AppendTranslated(fragment)
				c.broadcastPending(EventTranslated, st.Translated)
			})
		},
		TurnComplete: func() {
			c.current(gen, func() {
				msg, ok := c.acc.Complete()
				if !ok {
					return
				}
				c.history.Append(msg)
				c.opts.Events.Broadcast(Event{Type: EventSubtitle, Message: &msg})
			})
		},
		AudioData: func(samples []float32) {
			if !c.live(gen) {
				return
			}
			c.opts.Events.Broadcast(Event{Type: EventLevel, Level: audio.CalculateRMS(samples)})
		},
	}
}

func (c *Controller) broadcastPending(eventType, text string) {
	ev := Event{Type: eventType, Text: text}
	if p, ok := c.acc.Preview(); ok {
		ev.Message = &p
	}
	c.opts.Events.Broadcast(ev)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(Event) {}
