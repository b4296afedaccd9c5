// Package coordinator implements the session coordinator: it
// serializes speak/listen/queue_listen behind one session lock,
// manages the pre-queued capture's single-slot buffer, and tracks the
// process-wide mute flag and status.
package coordinator

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cpoepke/claude-talk-audio/internal/logging"
	"github.com/cpoepke/claude-talk-audio/internal/session"
)

// Status is the process-wide ServerState.status value.
type Status string

const (
	StatusIdle             Status = "idle"
	StatusListening         Status = "listening"
	StatusSpeaking          Status = "speaking"
	StatusSpeakingListening Status = "speaking+listening"
)

// Sentinel result strings, distinguishable from real speech per the
// error-handling contract's "user-visible failure" rule.
const (
	sentinelSilence = "(silence)"
	sentinelMuted   = "(muted)"
	sentinelWLKErr  = "(wlk_error)"
)

// CaptureFunc runs one capture session to completion and returns its
// result. ttsText is "" for a plain listen(); spawnTTS selects whether
// the session is tied to a TTS process (speak) or not (listen/
// queue_listen). This indirection lets the coordinator stay ignorant
// of devices, AEC, and the recognizer client — all of that is wired
// by cmd/audioserver into the closure passed to New.
type CaptureFunc func(ctx context.Context, ttsText string, spawnTTS bool) session.Result

// SpeakFunc performs TTS with no capture attached (the "consume a
// buffered result" path of speak()).
type SpeakFunc func(ctx context.Context, text string) error

// Coordinator is the process-wide session coordinator. Construct one
// per server process and share it across HTTP handlers.
type Coordinator struct {
	capture CaptureFunc
	speak   SpeakFunc
	logger  *logging.Logger

	sessionLock sync.Mutex // serializes speak/listen/queue_listen

	mu     sync.Mutex
	muted  bool
	status Status

	buffered       string
	bufferedValid  bool
	preQueueCancel context.CancelFunc
	preQueueDone   chan struct{}

	// Cumulative metrics surfaced over GET /status, per SPEC_FULL.md
	// §4.1's "observable from /status" requirement. Added to after
	// every capture session by the wiring layer via RecordMetrics.
	micOverflows atomic.Uint64
	refOverflows atomic.Uint64
	aecFailures  atomic.Uint64
}

// Metrics is the cumulative device/AEC counter snapshot reported by
// GET /status.
type Metrics struct {
	MicOverflows uint64
	RefOverflows uint64
	AECFailures  uint64
}

// New constructs a Coordinator. capture and speak are the wiring
// layer's closures over real devices/recognizer/TTS.
func New(capture CaptureFunc, speak SpeakFunc, logger *logging.Logger) *Coordinator {
	return &Coordinator{capture: capture, speak: speak, logger: logger, status: StatusIdle}
}

// Status returns the current {state, muted} snapshot. Never blocks.
func (c *Coordinator) Status() (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.muted
}

// Metrics returns the cumulative device/AEC counters recorded via
// RecordMetrics, for GET /status.
func (c *Coordinator) Metrics() Metrics {
	return Metrics{
		MicOverflows: c.micOverflows.Load(),
		RefOverflows: c.refOverflows.Load(),
		AECFailures:  c.aecFailures.Load(),
	}
}

// RecordMetrics accumulates one finished session's device/AEC counters
// into the process-wide totals. Called by the wiring layer after each
// capture session, since the rings and AEC state themselves are
// recreated per session and would otherwise lose their counts.
func (c *Coordinator) RecordMetrics(micOverflows, refOverflows, aecFailures uint64) {
	c.micOverflows.Add(micOverflows)
	c.refOverflows.Add(refOverflows)
	c.aecFailures.Add(aecFailures)
}

// Mute sets the mute flag. A pre-check only — it does not interrupt a
// session already in flight.
func (c *Coordinator) Mute() {
	c.mu.Lock()
	c.muted = true
	c.mu.Unlock()
	c.logger.Info("coordinator", "muted", nil)
}

// Unmute clears the mute flag.
func (c *Coordinator) Unmute() {
	c.mu.Lock()
	c.muted = false
	c.mu.Unlock()
	c.logger.Info("coordinator", "unmuted", nil)
}

func (c *Coordinator) isMuted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func (c *Coordinator) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// cancelPreQueue cancels any in-flight pre-queued capture and waits
// for it to exit before returning — Open Question (c): a pre-queued
// capture does not survive a subsequent session-starting call.
func (c *Coordinator) cancelPreQueue() {
	c.mu.Lock()
	cancel := c.preQueueCancel
	done := c.preQueueDone
	c.preQueueCancel = nil
	c.preQueueDone = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// takeBuffered consumes the single-slot buffered result, if any
// non-trivial one exists. "Non-trivial" excludes silence/mute
// sentinels — those are not a usable buffered answer.
func (c *Coordinator) takeBuffered() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.bufferedValid || c.buffered == "" || c.buffered == sentinelSilence || c.buffered == sentinelMuted || c.buffered == sentinelWLKErr {
		return "", false
	}
	text := c.buffered
	c.buffered = ""
	c.bufferedValid = false
	return text, true
}

// Speak implements `speak(text)`: if a pre-queued capture has already
// produced a usable result, consume it and perform TTS without
// capture. Otherwise cancel any in-flight pre-queue, acquire the
// session lock, and run a capture session tied to the TTS process.
func (c *Coordinator) Speak(ctx context.Context, text string) string {
	if buffered, ok := c.takeBuffered(); ok {
		if c.speak != nil {
			_ = c.speak(ctx, text)
		}
		return buffered
	}

	c.cancelPreQueue()

	c.sessionLock.Lock()
	defer c.sessionLock.Unlock()

	c.setStatus(StatusSpeakingListening)
	defer c.setStatus(StatusIdle)

	res := c.capture(ctx, text, true)
	return resultText(res)
}

// Listen implements `listen()`: acquire the session lock and run a
// capture session with no TTS. Mute is checked before any device is
// opened.
func (c *Coordinator) Listen(ctx context.Context) string {
	if c.isMuted() {
		c.logger.Debug("coordinator", session.ErrMuted.Error(), nil)
		return sentinelMuted
	}

	c.cancelPreQueue()

	c.sessionLock.Lock()
	defer c.sessionLock.Unlock()

	c.setStatus(StatusListening)
	defer c.setStatus(StatusIdle)

	res := c.capture(ctx, "", false)
	return resultText(res)
}

// QueueListen implements `queue_listen()`: cancel any in-flight
// pre-queue, then start a background capture session whose result is
// stashed in the single buffered slot.
func (c *Coordinator) QueueListen(ctx context.Context) {
	c.cancelPreQueue()

	pqCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.preQueueCancel = cancel
	c.preQueueDone = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.sessionLock.Lock()
		defer c.sessionLock.Unlock()

		c.setStatus(StatusListening)
		res := c.capture(pqCtx, "", false)
		c.setStatus(StatusIdle)

		if pqCtx.Err() != nil {
			return // cancelled by a subsequent speak/listen; discard
		}
		c.mu.Lock()
		c.buffered = resultText(res)
		c.bufferedValid = true
		c.mu.Unlock()
	}()
}

// resultText maps a finished capture session's Result onto the
// sentinel strings the error-handling contract requires: a recognizer
// that was never reachable (all connect retries exhausted) is a
// distinct failure from plain silence, and gets "(wlk_error)" rather
// than "(silence)". A recognizer lost mid-session still returns
// whatever partial text_result was accumulated before it dropped.
func resultText(res session.Result) string {
	if res.RecognizerUnreachable {
		return sentinelWLKErr
	}
	if res.Text == "" {
		return sentinelSilence
	}
	return res.Text
}
