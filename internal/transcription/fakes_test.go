package transcription

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-interpreter/internal/playback"
)

// frameSize is 50ms at 16kHz
const frameSize = 800

type fakeMic struct {
	mu        sync.Mutex
	onSamples func([]float32)
	starts    int
	stops     int
}

func (m *fakeMic) Start(sampleRate int, onSamples func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	m.onSamples = onSamples
	return nil
}

func (m *fakeMic) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	return nil
}

func (m *fakeMic) stopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

// emit delivers n frames of constant amplitude
func (m *fakeMic) emit(n int, v float32) {
	m.mu.Lock()
	cb := m.onSamples
	m.mu.Unlock()

	for i := 0; i < n; i++ {
		frame := make([]float32, frameSize)
		for j := range frame {
			frame[j] = v
		}
		cb(frame)
	}
}

type fakeOutput struct {
	mu      sync.Mutex
	rate    int
	buffers []playback.Buffer
	closes  int
}

func (o *fakeOutput) Now() time.Duration { return 0 }

func (o *fakeOutput) Play(buf playback.Buffer, at time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.buffers = append(o.buffers, buf)
	return nil
}

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closes++
	return nil
}

func (o *fakeOutput) played() []playback.Buffer {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]playback.Buffer(nil), o.buffers...)
}

func (o *fakeOutput) closeCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closes
}

func testResources(mic *fakeMic, out *fakeOutput) Resources {
	return Resources{
		Microphone: mic,
		NewOutput: func(sampleRate int) (playback.Output, error) {
			out.mu.Lock()
			out.rate = sampleRate
			out.mu.Unlock()
			return out, nil
		},
		Logger: zerolog.Nop(),
	}
}

// recorder collects handler events as strings
type recorder struct {
	mu     sync.Mutex
	events []string
	errs   []error
	frames int
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) handler() Handler {
	return HandlerFuncs{
		Open:                func() { r.add("open") },
		Close:               func() { r.add("close") },
		InputTranscription:  func(s string) { r.add("input:" + s) },
		OutputTranscription: func(s string) { r.add("output:" + s) },
		TurnComplete:        func() { r.add("turn") },
		Error: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
			r.add("error")
		},
		AudioData: func([]float32) {
			r.mu.Lock()
			r.frames++
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// waitEvents waits until n events were recorded
func (r *recorder) waitEvents(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if ev := r.snapshot(); len(ev) >= n {
			return ev
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d events, got %v", n, r.snapshot())
	return nil
}

func assertEvents(t *testing.T, got, want []string) {
	t.Helper()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Expected events %v, got %v", want, got)
	}
}
