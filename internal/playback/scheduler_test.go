package playback

import (
	"errors"
	"testing"
	"time"
)

type fakeOutput struct {
	now    time.Duration
	starts []time.Duration
	closes int
	err    error
}

func (o *fakeOutput) Now() time.Duration { return o.now }

func (o *fakeOutput) Play(buf Buffer, at time.Duration) error {
	if o.err != nil {
		return o.err
	}
	o.starts = append(o.starts, at)
	return nil
}

func (o *fakeOutput) Close() error {
	o.closes++
	return nil
}

// buffer of d (whole milliseconds) at 24kHz
func bufferOf(d time.Duration) Buffer {
	return Buffer{Samples: make([]float32, int(d.Milliseconds())*24), SampleRate: 24000}
}

func TestBuffer_Duration(t *testing.T) {
	if d := bufferOf(500 * time.Millisecond).Duration(); d != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %v", d)
	}
	if d := (Buffer{Samples: make([]float32, 10)}).Duration(); d != 0 {
		t.Errorf("Expected zero duration without a sample rate, got %v", d)
	}
}

func TestScheduler_GaplessWithJitter(t *testing.T) {
	out := &fakeOutput{now: 100 * time.Millisecond}
	s := NewScheduler(out, nil)

	d1, d2, d3 := 200*time.Millisecond, 300*time.Millisecond, 100*time.Millisecond
	t0 := out.now

	w1, err := s.Schedule(bufferOf(d1))
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	// second chunk arrives while the first is still playing
	out.now = 150 * time.Millisecond
	w2, _ := s.Schedule(bufferOf(d2))

	// third chunk arrives immediately after
	out.now = 151 * time.Millisecond
	w3, _ := s.Schedule(bufferOf(d3))

	want := []Window{
		{t0, t0 + d1},
		{t0 + d1, t0 + d1 + d2},
		{t0 + d1 + d2, t0 + d1 + d2 + d3},
	}
	for i, got := range []Window{w1, w2, w3} {
		if got != want[i] {
			t.Errorf("window %d: got %+v, want %+v", i+1, got, want[i])
		}
	}
	for i := 1; i < len(out.starts); i++ {
		if out.starts[i] < out.starts[i-1] {
			t.Errorf("Expected non-decreasing starts, got %v", out.starts)
		}
	}
}

func TestScheduler_LateChunkStartsAtDeviceTime(t *testing.T) {
	out := &fakeOutput{}
	s := NewScheduler(out, nil)

	s.Schedule(bufferOf(100 * time.Millisecond))

	// the network stalls past the end of the first chunk
	out.now = 400 * time.Millisecond
	w, err := s.Schedule(bufferOf(100 * time.Millisecond))
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if w.Start != 400*time.Millisecond || w.End != 500*time.Millisecond {
		t.Errorf("Expected late chunk at [400ms,500ms), got %+v", w)
	}
	if s.Next() != 500*time.Millisecond {
		t.Errorf("Expected clock at 500ms, got %v", s.Next())
	}
}

func TestScheduler_PlayErrorKeepsClock(t *testing.T) {
	out := &fakeOutput{err: errors.New("device gone")}
	s := NewScheduler(out, nil)

	if _, err := s.Schedule(bufferOf(100 * time.Millisecond)); err == nil {
		t.Fatal("Expected play error")
	}
	if s.Next() != 0 {
		t.Errorf("Expected clock unchanged after a failed play, got %v", s.Next())
	}
}

func TestScheduler_CloseIdempotent(t *testing.T) {
	out := &fakeOutput{}
	s := NewScheduler(out, nil)

	for i := 0; i < 3; i++ {
		if err := s.Close(); err != nil {
			t.Errorf("Close #%d returned %v", i+1, err)
		}
	}
	if out.closes != 1 {
		t.Errorf("Expected output closed once, got %d", out.closes)
	}
	if _, err := s.Schedule(bufferOf(time.Millisecond)); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
}
