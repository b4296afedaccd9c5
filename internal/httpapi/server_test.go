package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cpoepke/claude-talk-audio/internal/coordinator"
	"github.com/cpoepke/claude-talk-audio/internal/session"
)

func newTestServer(t *testing.T) (*Server, *coordinator.Coordinator) {
	t.Helper()
	capture := func(ctx context.Context, ttsText string, spawnTTS bool) session.Result {
		return session.Result{Text: "hello"}
	}
	coord := coordinator.New(capture, nil, nil)
	s := New("127.0.0.1:0", coord, nil, nil, nil)
	return s, coord
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var reqBody *strings.Reader
	if body == "" {
		reqBody = strings.NewReader("")
	} else {
		reqBody = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reqBody)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	return w
}

func TestHandleStatus(t *testing.T) {
	s, _ := newTestServer(t)
	w := doRequest(s, http.MethodGet, "/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["state"] != "idle" {
		t.Fatalf("expected idle, got %v", got["state"])
	}
}

func TestHandleListen(t *testing.T) {
	s, _ := newTestServer(t)
	w := doRequest(s, http.MethodGet, "/listen", "")
	var got map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["text"] != "hello" {
		t.Fatalf("expected hello, got %q", got["text"])
	}
}

func TestHandleMuteThenStatus(t *testing.T) {
	s, _ := newTestServer(t)
	doRequest(s, http.MethodPost, "/mute", "")
	w := doRequest(s, http.MethodGet, "/status", "")
	var got map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["muted"] != true {
		t.Fatalf("expected muted=true, got %v", got["muted"])
	}
}

func TestHandleSpeakDecodesBody(t *testing.T) {
	var spokenText string
	capture := func(ctx context.Context, ttsText string, spawnTTS bool) session.Result {
		spokenText = ttsText
		return session.Result{Text: "hello"}
	}
	coord := coordinator.New(capture, nil, nil)
	s := New("127.0.0.1:0", coord, nil, nil, nil)
	w := doRequest(s, http.MethodPost, "/speak", `{"text":"hi there"}`)
	if spokenText != "hi there" {
		t.Fatalf("expected decoded text %q passed to capture, got %q", "hi there", spokenText)
	}
	var got map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["text"] != "hello" {
		t.Fatalf("expected capture's result %q, got %q", "hello", got["text"])
	}
}

func TestHandleVoice(t *testing.T) {
	var captured string
	capture := func(ctx context.Context, ttsText string, spawnTTS bool) session.Result {
		return session.Result{}
	}
	coord := coordinator.New(capture, nil, nil)
	s := New("127.0.0.1:0", coord, nil, func(v string) { captured = v }, nil)

	doRequest(s, http.MethodPost, "/voice", `{"voice":"nova"}`)
	if captured != "nova" {
		t.Fatalf("expected setVoice called with nova, got %q", captured)
	}
}

func TestHandleDevicesWithoutLister(t *testing.T) {
	s, _ := newTestServer(t)
	w := doRequest(s, http.MethodGet, "/devices", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
