package subtitle

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PreviewID identifies the in-progress, not yet final subtitle
const PreviewID = "current"

// Message is one subtitle line. Finalized messages are never mutated.
type Message struct {
	ID         string    `json:"id"`
	Original   string    `json:"original"`
	Translated string    `json:"translated"`
	IsFinal    bool      `json:"is_final"`
	Timestamp  time.Time `json:"timestamp"`
}

// TurnState is the text collected for the turn in progress
type TurnState struct {
	Original   string    `json:"original"`
	Translated string    `json:"translated"`
	StartedAt  time.Time `json:"started_at"`
}

// Blank reports whether both sides are empty after trimming whitespace
func (t TurnState) Blank() bool {
	return strings.TrimSpace(t.Original) == "" && strings.TrimSpace(t.Translated) == ""
}

// Accumulator merges transcript fragments into one turn and finalizes it.
// Append and Complete are serialized, so a fragment lands either in the turn
// being finalized or in the next one, never in a consumed state.
type Accumulator struct {
	mu    sync.Mutex
	turn  TurnState
	now   func() time.Time
	newID func() string
}

// NewAccumulator creates an empty accumulator
func NewAccumulator() *Accumulator {
	return &Accumulator{
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// AppendOriginal appends a source-language fragment
func (a *Accumulator) AppendOriginal(fragment string) TurnState {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.begin()
	a.turn.Original += fragment
	return a.turn
}

// AppendTranslated appends a translated fragment
func (a *Accumulator) AppendTranslated(fragment string) TurnState {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.begin()
	a.turn.Translated += fragment
	return a.turn
}

// begin must be called with mu held
func (a *Accumulator) begin() {
	if a.turn.StartedAt.IsZero() {
		a.turn.StartedAt = a.now()
	}
}

// Complete finalizes the current turn and resets it. A blank turn yields no
// message.
func (a *Accumulator) Complete() (Message, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	turn := a.turn
	a.turn = TurnState{}

	if turn.Blank() {
		return Message{}, false
	}

	return Message{
		ID:         a.newID(),
		Original:   turn.Original,
		Translated: turn.Translated,
		IsFinal:    true,
		Timestamp:  a.now(),
	}, true
}

// Pending returns a copy of the turn in progress
func (a *Accumulator) Pending() TurnState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.turn
}

// Preview returns the turn in progress as a non-final message, or false when
// nothing has been received yet
func (a *Accumulator) Preview() (Message, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.turn.Original == "" && a.turn.Translated == "" {
		return Message{}, false
	}
	return Message{
		ID:         PreviewID,
		Original:   a.turn.Original,
		Translated: a.turn.Translated,
		Timestamp:  a.now(),
	}, true
}

// Reset discards the turn in progress
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.turn = TurnState{}
}

// History is the ordered, append-only list of finalized messages
type History struct {
	mu       sync.RWMutex
	messages []Message
}

// NewHistory creates an empty history
func NewHistory() *History {
	return &History{}
}

// Append adds a finalized message at the end
func (h *History) Append(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, m)
}

// Messages returns a copy in conversation order
func (h *History) Messages() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of messages
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Clear drops all messages
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
}
