// Package recognizer is the push-streaming client for the external
// speech-recognition service: we send binary 16-bit PCM frames, we
// receive JSON transcript messages. The wire shape and retry/dial
// pattern mirror the teacher's websocket-based TTS client, adapted
// from audio-in/binary-out to PCM-out/JSON-in.
package recognizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"

	"github.com/cpoepke/claude-talk-audio/internal/frame"
	"github.com/cpoepke/claude-talk-audio/internal/logging"
)

// DefaultURL is the recognizer endpoint's documented default.
const DefaultURL = "ws://localhost:8090/asr"

const (
	connectRetries = 10
	retryInterval  = 1 * time.Second
	idleTimeout    = 10 * time.Second
)

// ErrUnreachable is returned when the recognizer could not be dialed
// after all connectRetries attempts.
var ErrUnreachable = errors.New("recognizer: unreachable")

// ErrConnectionLost is returned when a previously-connected recognizer
// drops mid-session.
var ErrConnectionLost = errors.New("recognizer: connection lost")

// Transcript is one decoded recognizer message. Extra JSON fields are
// ignored per the wire contract.
type Transcript struct {
	Lines               []Line `json:"lines"`
	BufferTranscription string `json:"buffer_transcription"`
}

// Line is one committed transcript line.
type Line struct {
	Text string `json:"text"`
}

// Text concatenates committed line texts followed by the unstable
// buffer, the "live transcript" construction from the capture
// session's transcript-accumulation rule.
func (t Transcript) Text() string {
	s := ""
	for i, l := range t.Lines {
		if i > 0 {
			s += " "
		}
		s += l.Text
	}
	if s != "" && t.BufferTranscription != "" {
		s += " "
	}
	return s + t.BufferTranscription
}

// Client is a connected recognizer session: send PCM frames, receive
// Transcript messages, until Close.
type Client struct {
	conn   *websocket.Conn
	logger *logging.Logger
}

// Dial connects to url, retrying connectRetries times at
// retryInterval apart before giving up with ErrUnreachable — the
// "10 retries on connection refusal, 1s apart" rule from the capture
// session's INIT state. logger may be nil.
func Dial(ctx context.Context, url string, logger *logging.Logger) (*Client, error) {
	if url == "" {
		url = DefaultURL
	}
	var lastErr error
	for attempt := 0; attempt < connectRetries; attempt++ {
		conn, _, err := websocket.Dial(ctx, url, nil)
		if err == nil {
			logger.Debug("recognizer", "recognizer connected", map[string]any{"url": url, "attempt": attempt})
			return &Client{conn: conn, logger: logger}, nil
		}
		lastErr = err
		logger.Warn("recognizer", "dial attempt failed", map[string]any{"url": url, "attempt": attempt, "error": err.Error()})
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, ctx.Err())
		case <-time.After(retryInterval):
		}
	}
	logger.Warn("recognizer", ErrUnreachable.Error(), map[string]any{"url": url, "attempts": connectRetries, "error": lastErr.Error()})
	return nil, fmt.Errorf("%w: %v", ErrUnreachable, lastErr)
}

// Send writes one Frame as raw little-endian int16 PCM bytes, exactly
// as captured — no framing, chunking, or re-encoding.
func (c *Client) Send(ctx context.Context, f frame.Frame) error {
	if err := c.conn.Write(ctx, websocket.MessageBinary, f.Bytes()); err != nil {
		c.logger.Warn("recognizer", ErrConnectionLost.Error(), map[string]any{"error": err.Error()})
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return nil
}

// Recv blocks for the next transcript message, bounded by the
// recognizer's 10s idle timeout: if nothing arrives in that window,
// ErrConnectionLost is returned so the capture session can declare
// the recognizer dead and finalize with whatever partial text_result
// it has.
func (c *Client) Recv(ctx context.Context) (Transcript, error) {
	rctx, cancel := context.WithTimeout(ctx, idleTimeout)
	defer cancel()

	_, payload, err := c.conn.Read(rctx)
	if err != nil {
		c.logger.Warn("recognizer", ErrConnectionLost.Error(), map[string]any{"error": err.Error()})
		return Transcript{}, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	var t Transcript
	if err := json.Unmarshal(payload, &t); err != nil {
		// A single malformed message is logged and swallowed here, not
		// fatal to the session — return a zero Transcript rather than an
		// error so the receive loop just skips it.
		c.logger.Warn("recognizer", "malformed transcript message skipped", map[string]any{"error": err.Error()})
		return Transcript{}, nil
	}
	return t, nil
}

// Close closes the connection cleanly.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
