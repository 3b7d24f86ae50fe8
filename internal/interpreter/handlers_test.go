package interpreter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/live-interpreter/internal/subtitle"
)

func newTestServer(t *testing.T) (*httptest.Server, *Controller, func() []*fakeSession) {
	t.Helper()
	hub := NewHub(zerolog.Nop())
	ctrl, sessions := newTestController(t, hub)

	mux := http.NewServeMux()
	NewAPI(ctrl, hub, testCatalogue(t), zerolog.Nop()).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		ctrl.Stop()
		hub.Close()
		srv.Close()
	})
	return srv, ctrl, sessions
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAPI_StartStop(t *testing.T) {
	srv, ctrl, sessions := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown language", `{"lang_a":"Elvish","lang_b":"English"}`, http.StatusBadRequest},
		{"malformed body", `{"lang_a":`, http.StatusBadRequest},
		{"start", `{"lang_a":"japanese","lang_b":"english"}`, http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := post(t, srv.URL+"/session/start", tt.body); resp.StatusCode != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}

	started(t, ctrl, sessions)
	if resp := post(t, srv.URL+"/session/start", `{}`); resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 while connected, got %d", resp.StatusCode)
	}

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	defer resp.Body.Close()
	var view StatusView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("Invalid status body: %v", err)
	}
	if view.Status != StatusConnected || view.LangA != "Japanese" || view.LangB != "English" {
		t.Errorf("Unexpected status %+v", view)
	}

	if resp := post(t, srv.URL+"/session/stop", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 from stop, got %d", resp.StatusCode)
	}
	if ctrl.Snapshot().Status != StatusDisconnected {
		t.Errorf("Expected disconnected after stop, got %s", ctrl.Snapshot().Status)
	}
}

func TestAPI_SubtitlesAndReset(t *testing.T) {
	srv, ctrl, sessions := newTestServer(t)

	if err := ctrl.Start("", ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h := started(t, ctrl, sessions).h()
	h.OnInputTranscription("hello")
	h.OnOutputTranscription("你好")
	h.OnTurnComplete()

	resp, err := http.Get(srv.URL + "/subtitles")
	if err != nil {
		t.Fatalf("GET /subtitles failed: %v", err)
	}
	var msgs []subtitle.Message
	json.NewDecoder(resp.Body).Decode(&msgs)
	resp.Body.Close()
	if len(msgs) != 1 || msgs[0].Original != "hello" || msgs[0].Translated != "你好" {
		t.Fatalf("Unexpected subtitles %+v", msgs)
	}

	if resp := post(t, srv.URL+"/subtitles/reset", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", resp.StatusCode)
	}
	if len(ctrl.Messages()) != 0 {
		t.Error("Expected history cleared")
	}
}

func TestAPI_Languages(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/languages")
	if err != nil {
		t.Fatalf("GET /languages failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string][]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Invalid body: %v", err)
	}
	if len(body["languages"]) != 14 || body["languages"][0] != "English" {
		t.Errorf("Unexpected languages %v", body["languages"])
	}
}

func TestAPI_MethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/session/start")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", resp.StatusCode)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	return ev
}

func TestAPI_SubtitleStream(t *testing.T) {
	srv, ctrl, sessions := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/subtitles/ws", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if ev := readEvent(t, conn); ev.Type != EventStatus || ev.Status != StatusDisconnected {
		t.Errorf("Expected initial status, got %+v", ev)
	}

	if err := ctrl.Start("", ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h := started(t, ctrl, sessions).h()

	if ev := readEvent(t, conn); ev.Type != EventStatus || ev.Status != StatusConnecting {
		t.Errorf("Expected connecting, got %+v", ev)
	}
	if ev := readEvent(t, conn); ev.Type != EventStatus || ev.Status != StatusConnected {
		t.Errorf("Expected connected, got %+v", ev)
	}

	h.OnOutputTranscription("Bonjour")
	ev := readEvent(t, conn)
	if ev.Type != EventTranslated || ev.Text != "Bonjour" || ev.Message == nil || ev.Message.ID != subtitle.PreviewID {
		t.Errorf("Unexpected translated event %+v", ev)
	}

	h.OnTurnComplete()
	ev = readEvent(t, conn)
	if ev.Type != EventSubtitle || ev.Message == nil || !ev.Message.IsFinal || ev.Message.Translated != "Bonjour" {
		t.Errorf("Unexpected subtitle event %+v", ev)
	}
}
