package subtitle

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestAccumulator_BlankTurnProducesNothing(t *testing.T) {
	tests := []struct {
		name       string
		original   string
		translated string
	}{
		{"nothing received", "", ""},
		{"whitespace only", "  \n", "\t "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := NewAccumulator()
			if tt.original != "" {
				acc.AppendOriginal(tt.original)
			}
			if tt.translated != "" {
				acc.AppendTranslated(tt.translated)
			}

			if _, ok := acc.Complete(); ok {
				t.Error("Expected no message for a blank turn")
			}
			if p := acc.Pending(); p.Original != "" || p.Translated != "" {
				t.Errorf("Expected turn reset, got %+v", p)
			}
		})
	}
}

func TestAccumulator_EitherSideFinalizes(t *testing.T) {
	tests := []struct {
		name       string
		original   []string
		translated []string
	}{
		{"original only", []string{"Hel", "lo"}, nil},
		{"translated only", nil, []string{"你", "好"}},
		{"both", []string{"Hi ", "there"}, []string{"嗨"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := NewAccumulator()
			wantOrig, wantTrans := "", ""
			for _, f := range tt.original {
				acc.AppendOriginal(f)
				wantOrig += f
			}
			for _, f := range tt.translated {
				acc.AppendTranslated(f)
				wantTrans += f
			}

			msg, ok := acc.Complete()
			if !ok {
				t.Fatal("Expected a message")
			}
			if !msg.IsFinal {
				t.Error("Expected IsFinal=true")
			}
			if msg.Original != wantOrig || msg.Translated != wantTrans {
				t.Errorf("Expected %q/%q, got %q/%q", wantOrig, wantTrans, msg.Original, msg.Translated)
			}
			if msg.ID == "" || msg.ID == PreviewID {
				t.Errorf("Expected a unique id, got %q", msg.ID)
			}

			if _, ok := acc.Complete(); ok {
				t.Error("Expected the turn to be consumed by the first Complete")
			}
		})
	}
}

func TestAccumulator_StartedAt(t *testing.T) {
	acc := NewAccumulator()
	start := time.Unix(1700000000, 0)
	acc.now = func() time.Time { return start }

	acc.AppendOriginal("a")
	acc.now = func() time.Time { return start.Add(time.Second) }
	acc.AppendTranslated("b")

	if got := acc.Pending().StartedAt; !got.Equal(start) {
		t.Errorf("Expected StartedAt at first fragment, got %v", got)
	}
}

func TestAccumulator_Preview(t *testing.T) {
	acc := NewAccumulator()
	if _, ok := acc.Preview(); ok {
		t.Error("Expected no preview before any fragment")
	}

	acc.AppendOriginal("Bon")
	p, ok := acc.Preview()
	if !ok || p.ID != PreviewID || p.IsFinal || p.Original != "Bon" {
		t.Errorf("Unexpected preview %+v", p)
	}

	acc.Reset()
	if _, ok := acc.Preview(); ok {
		t.Error("Expected no preview after reset")
	}
}

func TestAccumulator_ConcurrentFragmentsNotLost(t *testing.T) {
	acc := NewAccumulator()
	history := NewHistory()

	const fragments = 500
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < fragments; i++ {
			acc.AppendOriginal("x")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if m, ok := acc.Complete(); ok {
				history.Append(m)
			}
		}
	}()
	wg.Wait()
	if m, ok := acc.Complete(); ok {
		history.Append(m)
	}

	total := 0
	for _, m := range history.Messages() {
		total += len(m.Original)
	}
	if total != fragments {
		t.Errorf("Expected all %d fragments across messages, got %d", fragments, total)
	}
}

func TestHistory_Order(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 5; i++ {
		h.Append(Message{ID: fmt.Sprint(i), IsFinal: true})
	}

	msgs := h.Messages()
	if len(msgs) != 5 || h.Len() != 5 {
		t.Fatalf("Expected 5 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.ID != fmt.Sprint(i) {
			t.Errorf("position %d: expected id %d, got %s", i, i, m.ID)
		}
	}

	// copies do not alias the history
	msgs[0].Original = "mutated"
	if h.Messages()[0].Original != "" {
		t.Error("Expected Messages to return a copy")
	}

	h.Clear()
	if h.Len() != 0 {
		t.Errorf("Expected empty history after Clear, got %d", h.Len())
	}
}
