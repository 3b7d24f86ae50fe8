package interpreter

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-interpreter/internal/subtitle"
)

func TestHub_DropsSlowClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	slow := &client{send: make(chan []byte, 1)}
	fast := &client{send: make(chan []byte, 8)}
	hub.attach(slow, nil)
	hub.attach(fast, nil)

	hub.Broadcast(Event{Type: EventLevel, Level: 0.1})
	hub.Broadcast(Event{Type: EventLevel, Level: 0.2})

	if hub.Clients() != 1 {
		t.Fatalf("Expected the slow client removed, have %d clients", hub.Clients())
	}

	// slow client got the first event, then its channel was closed
	if _, ok := <-slow.send; !ok {
		t.Error("Expected the buffered event before close")
	}
	if _, ok := <-slow.send; ok {
		t.Error("Expected slow client channel closed")
	}

	if len(fast.send) != 2 {
		t.Fatalf("Expected 2 events for the fast client, got %d", len(fast.send))
	}
	var ev Event
	if err := json.Unmarshal(<-fast.send, &ev); err != nil || ev.Type != EventLevel || ev.Level != 0.1 {
		t.Errorf("Unexpected first event %+v (%v)", ev, err)
	}
}

func TestHub_CloseRejectsNewClients(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := &client{send: make(chan []byte, 1)}
	hub.attach(c, nil)

	hub.Close()
	if hub.Clients() != 0 {
		t.Errorf("Expected no clients after Close, got %d", hub.Clients())
	}
	if _, ok := <-c.send; ok {
		t.Error("Expected client channel closed")
	}
	if hub.attach(&client{send: make(chan []byte, 1)}, nil) {
		t.Error("Expected attach to fail after Close")
	}

	// unregistering a removed client is harmless
	hub.unregister(c)
}

func TestHub_AttachKeepsEventsDuringSnapshot(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := &client{send: make(chan []byte, 8)}

	done := subtitle.Message{ID: "m1", Original: "hi", IsFinal: true}
	initial := func() []Event {
		// events published while the snapshot is taken
		hub.Broadcast(Event{Type: EventSubtitle, Message: &done})
		hub.Broadcast(Event{Type: EventLevel, Level: 0.3})
		return []Event{
			{Type: EventStatus, Status: StatusConnected},
			{Type: EventSubtitle, Message: &done},
		}
	}
	if !hub.attach(c, initial) {
		t.Fatal("attach failed")
	}
	hub.Broadcast(Event{Type: EventLevel, Level: 0.4})

	var got []Event
	for len(c.send) > 0 {
		var ev Event
		if err := json.Unmarshal(<-c.send, &ev); err != nil {
			t.Fatalf("Invalid event: %v", err)
		}
		got = append(got, ev)
	}

	want := []string{EventStatus, EventSubtitle, EventLevel, EventLevel}
	if len(got) != len(want) {
		t.Fatalf("Expected %d events, got %+v", len(want), got)
	}
	for i, ev := range got {
		if ev.Type != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], ev.Type)
		}
	}
	if got[2].Level != 0.3 || got[3].Level != 0.4 {
		t.Errorf("Expected levels in publish order, got %v and %v", got[2].Level, got[3].Level)
	}
}

func TestHub_CloseWhileAttaching(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := &client{send: make(chan []byte, 8)}

	ok := hub.attach(c, func() []Event {
		hub.Close()
		return []Event{{Type: EventStatus, Status: StatusDisconnected}}
	})
	if ok {
		t.Error("Expected attach to fail when the hub closed meanwhile")
	}
	if _, open := <-c.send; open {
		t.Error("Expected client channel closed")
	}
}
