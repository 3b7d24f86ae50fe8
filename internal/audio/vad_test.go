package audio

import (
	"testing"
	"time"
)

// 50ms at 16kHz
const testFrameSamples = 800

func constFrame(v float32) []float32 {
	f := make([]float32, testFrameSamples)
	for i := range f {
		f[i] = v
	}
	return f
}

func TestSegmenter_VoiceThenSilence(t *testing.T) {
	seg := NewSegmenter(DefaultSegmenterConfig())
	base := time.Unix(1700000000, 0)
	at := func(ms int) time.Time { return base.Add(time.Duration(ms) * time.Millisecond) }

	fired := 0
	var turn Turn
	var firedAt int

	// 500ms of voice
	for ms := 50; ms <= 500; ms += 50 {
		if tr, ok := seg.Push(constFrame(0.2), at(ms)); ok {
			fired++
			turn = tr
			firedAt = ms
		}
	}
	if fired != 0 {
		t.Fatalf("Expected no boundary during voice, got %d", fired)
	}

	// 350ms of silence
	for ms := 550; ms <= 850; ms += 50 {
		if tr, ok := seg.Push(constFrame(0), at(ms)); ok {
			fired++
			turn = tr
			firedAt = ms
		}
	}

	if fired != 1 {
		t.Fatalf("Expected exactly one boundary, got %d", fired)
	}
	if firedAt != 850 {
		t.Errorf("Expected boundary once silence exceeded 300ms (t=850ms), got t=%dms", firedAt)
	}
	if turn.Duration() != 850*time.Millisecond {
		t.Errorf("Expected 850ms turn, got %v", turn.Duration())
	}
	if len(turn.Merge()) != 17*testFrameSamples {
		t.Errorf("Expected %d merged samples, got %d", 17*testFrameSamples, len(turn.Merge()))
	}
	if seg.Buffered() != 0 {
		t.Errorf("Expected accumulation reset after boundary, got %v", seg.Buffered())
	}
}

func TestSegmenter_MinTurnGate(t *testing.T) {
	seg := NewSegmenter(DefaultSegmenterConfig())
	base := time.Unix(1700000000, 0)

	// A short blip: 100ms voice then silence. Boundary may only fire once
	// more than 400ms of audio is buffered.
	seg.Push(constFrame(0.3), base)
	seg.Push(constFrame(0.3), base.Add(50*time.Millisecond))

	for ms := 100; ms <= 2000; ms += 50 {
		_, ok := seg.Push(constFrame(0), base.Add(time.Duration(ms)*time.Millisecond))
		if ok {
			if seg.Buffered() != 0 {
				t.Error("Expected reset after boundary")
			}
			// 9 frames = 450ms is the first buffered size above 400ms;
			// silence exceeds 300ms at t=400ms (frame 9)
			if ms != 400 {
				t.Errorf("Expected boundary at t=400ms, got t=%dms", ms)
			}
			return
		}
	}
	t.Fatal("Expected a boundary after the blip")
}

func TestSegmenter_SilenceOnlyIsDropped(t *testing.T) {
	seg := NewSegmenter(DefaultSegmenterConfig())
	base := time.Unix(1700000000, 0)

	for ms := 0; ms <= 3000; ms += 50 {
		if _, ok := seg.Push(constFrame(0.001), base.Add(time.Duration(ms)*time.Millisecond)); ok {
			t.Fatalf("Expected no turn from pure silence, got one at t=%dms", ms)
		}
	}
	if seg.Buffered() > 500*time.Millisecond {
		t.Errorf("Expected idle silence to be discarded periodically, buffered %v", seg.Buffered())
	}
}

func TestSegmenter_Reset(t *testing.T) {
	seg := NewSegmenter(DefaultSegmenterConfig())
	seg.Push(constFrame(0.5), time.Now())
	if seg.Buffered() != 50*time.Millisecond {
		t.Errorf("Expected 50ms buffered, got %v", seg.Buffered())
	}
	seg.Reset()
	if seg.Buffered() != 0 {
		t.Errorf("Expected 0 buffered after reset, got %v", seg.Buffered())
	}
}
