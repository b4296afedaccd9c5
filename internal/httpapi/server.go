// Package httpapi exposes the server's loopback-only HTTP surface:
// a thin net/http.ServeMux delegating every route straight to the
// session coordinator. No third-party router is imported — see
// DESIGN.md for why: nothing else in the example corpus reaches for
// one either.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cpoepke/claude-talk-audio/internal/coordinator"
	"github.com/cpoepke/claude-talk-audio/internal/device"
	"github.com/cpoepke/claude-talk-audio/internal/logging"
)

// Server is the HTTP API layer described in the external-interface
// contract's endpoint table.
type Server struct {
	coord      *coordinator.Coordinator
	devices    func() ([]device.Info, error)
	setVoice   func(string)
	logger     *logging.Logger
	httpServer *http.Server
	shutdown   context.CancelFunc
}

// New builds a Server listening on addr (loopback only — callers
// should bind to 127.0.0.1). devices and setVoice may be nil.
func New(addr string, coord *coordinator.Coordinator, devices func() ([]device.Info, error), setVoice func(string), logger *logging.Logger) *Server {
	s := &Server{coord: coord, devices: devices, setVoice: setVoice, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /listen", s.handleListen)
	mux.HandleFunc("POST /queue-listen", s.handleQueueListen)
	mux.HandleFunc("POST /speak", s.handleSpeak)
	mux.HandleFunc("POST /mute", s.handleMute)
	mux.HandleFunc("POST /unmute", s.handleUnmute)
	mux.HandleFunc("POST /voice", s.handleVoice)
	mux.HandleFunc("POST /stop", s.handleStop)
	mux.HandleFunc("GET /devices", s.handleDevices)

	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// ListenAndServe starts the HTTP server; it blocks until Shutdown is
// called (via /stop or process shutdown) or a fatal listen error.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	// The error-handling contract requires the API always return a
	// 2xx with a text/status field; internal errors become sentinel
	// strings already baked into v by the caller, not an HTTP error.
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, muted := s.coord.Status()
	inputDevice := "auto"
	metrics := s.coord.Metrics()
	writeJSON(w, map[string]any{
		"state":         status,
		"muted":         muted,
		"input_device":  inputDevice,
		"mic_overflows": metrics.MicOverflows,
		"ref_overflows": metrics.RefOverflows,
		"aec_failures":  metrics.AECFailures,
	})
}

func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	text := s.coord.Listen(r.Context())
	writeJSON(w, map[string]string{"text": text})
}

func (s *Server) handleQueueListen(w http.ResponseWriter, r *http.Request) {
	// queue_listen runs in the background by design; it must outlive
	// this request, so it is given a detached context rather than
	// r.Context() (which is cancelled the instant the handler returns).
	s.coord.QueueListen(context.Background())
	writeJSON(w, map[string]string{"status": "ok"})
}

type speakRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	text := s.coord.Speak(r.Context(), req.Text)
	writeJSON(w, map[string]string{"text": text})
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	s.coord.Mute()
	writeJSON(w, map[string]string{"status": "muted"})
}

func (s *Server) handleUnmute(w http.ResponseWriter, r *http.Request) {
	s.coord.Unmute()
	writeJSON(w, map[string]string{"status": "unmuted"})
}

type voiceRequest struct {
	Voice string `json:"voice"`
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	var req voiceRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if s.setVoice != nil && req.Voice != "" {
		s.setVoice(req.Voice)
	}
	writeJSON(w, map[string]string{"voice": req.Voice})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "shutting down"})
	go func() {
		time.Sleep(1 * time.Second)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	}()
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if s.devices == nil {
		writeJSON(w, map[string]any{"devices": []device.Info{}})
		return
	}
	infos, err := s.devices()
	if err != nil {
		writeJSON(w, map[string]any{"devices": []device.Info{}, "error": err.Error()})
		return
	}
	writeJSON(w, map[string]any{"devices": infos})
}
