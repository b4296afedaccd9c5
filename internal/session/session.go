// Package session implements the capture session state machine that
// owns one user-turn: await TTS completion (or barge-in), stream mic
// frames to the recognizer, accumulate transcripts, and declare
// end-of-utterance. This is the largest package in the repository —
// the "core" of the spec — orchestrating devices, AEC, barge-in
// detection, the recognizer client, and the TTS controller.
package session

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cpoepke/claude-talk-audio/internal/aec"
	"github.com/cpoepke/claude-talk-audio/internal/bargein"
	"github.com/cpoepke/claude-talk-audio/internal/echofilter"
	"github.com/cpoepke/claude-talk-audio/internal/frame"
	"github.com/cpoepke/claude-talk-audio/internal/logging"
	"github.com/cpoepke/claude-talk-audio/internal/recognizer"
)

// Recognizer is the subset of *recognizer.Client a session needs;
// satisfied structurally by the real client, and by fakes in tests.
type Recognizer interface {
	Send(ctx context.Context, f frame.Frame) error
	Recv(ctx context.Context) (recognizer.Transcript, error)
	Close() error
}

// TTSHandle is the subset of *tts.Controller a session needs.
type TTSHandle interface {
	PID() int
	Done() bool
	Kill() error
}

// minTextLength is the minimum text_result length for end-of-utterance.
const minTextLength = 2

var hallucinationLiterals = []string{"[music]", "[inaudible]"}

// blankTokenPattern matches any bracketed BLANK... variant
// ("[BLANK_AUDIO]", "[BLANK_SPEECH]", "[BLANK]", ...), case-insensitive.
var blankTokenPattern = regexp.MustCompile(`(?i)\[blank[^\]]*\]`)

// Config carries every timing knob the state machine runs on. The
// first two map to the documented SILENCE_SECS/BARGE_IN env keys; the
// rest are the fixed cadences spec.md §5 names (20Hz TTS poll, 300ms
// EOU poll, 500ms frame wait, 10s recognizer idle, 60s hard cap, 0.5s/
// 1.5s flush delay) — left overridable only so tests can run the same
// state machine on a compressed clock, not because production ever
// needs to tune them.
type Config struct {
	SilenceTimeout time.Duration
	BargeInEnabled bool

	TTSMonitorInterval    time.Duration
	EOUMonitorInterval    time.Duration
	FrameWaitTimeout      time.Duration
	RecognizerIdleTimeout time.Duration
	MaxDuration           time.Duration
	FlushDelayWithAEC     time.Duration
	FlushDelayWithoutAEC  time.Duration
}

// DefaultConfig mirrors the external Environment/Config defaults
// (SILENCE_SECS=2.0, BARGE_IN=true) plus the spec's fixed cadences.
func DefaultConfig() Config {
	return Config{
		SilenceTimeout:        2 * time.Second,
		BargeInEnabled:        true,
		TTSMonitorInterval:    50 * time.Millisecond,
		EOUMonitorInterval:    300 * time.Millisecond,
		FrameWaitTimeout:      500 * time.Millisecond,
		RecognizerIdleTimeout: 10 * time.Second,
		MaxDuration:           60 * time.Second,
		FlushDelayWithAEC:     500 * time.Millisecond,
		FlushDelayWithoutAEC:  1500 * time.Millisecond,
	}
}

// Deps bundles the collaborators one CaptureSession is wired to. A
// nil MicRing is invalid; RefRing/AEC/TTS may be nil when a reference
// device, echo canceller, or TTS process respectively is not in play.
type Deps struct {
	MicRing    *frame.Ring
	RefRing    *frame.Ring
	AEC        *aec.State
	Recognizer Recognizer
	TTS        TTSHandle
	TTSText    string // for the echo-text filter at finalization; "" if none
	Logger     *logging.Logger
}

// Result is what a finished capture session hands back to its caller.
type Result struct {
	Text           string
	BargeInFired   bool
	RecognizerLost bool

	// RecognizerUnreachable is set by the wiring layer, not by Run:
	// it means the recognizer could not be dialed at all (all connect
	// retries exhausted), so no Session was ever constructed for this
	// turn. Distinct from RecognizerLost, which means a session did
	// run and the connection dropped mid-stream.
	RecognizerUnreachable bool
}

// Session is one capture session instance: run it once with Run.
type Session struct {
	deps Deps
	cfg  Config

	mu             sync.Mutex
	gotText        bool
	lastChangeAt   time.Time
	textResult     string
	ttsDone        bool
	bargeInFired   bool
	recognizerLost bool
}

// New constructs a Session ready to Run.
func New(deps Deps, cfg Config) *Session {
	return &Session{deps: deps, cfg: cfg}
}

// Run executes the full state machine to completion: INIT, WAIT_TTS,
// STREAMING, FINALIZING. It blocks until end-of-utterance, recognizer
// death, or the hard 60s cap, then returns the (possibly echo-
// filtered) final text.
func (s *Session) Run(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.MaxDuration)
	defer cancel()

	// INIT: tts_pid == 0 marks tts_done immediately.
	if s.deps.TTS == nil {
		s.setTTSDone()
	}

	var bd *bargein.Detector
	bargeInActive := s.cfg.BargeInEnabled && s.deps.TTS != nil && s.deps.RefRing != nil
	if bargeInActive {
		bd = bargein.New(s.deps.AEC != nil, s.deps.Logger)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); s.ttsMonitor(ctx) }()

	if bargeInActive {
		wg.Add(1)
		go func() { defer wg.Done(); s.bargeInMonitor(ctx, bd) }()
	}

	// WAIT_TTS: block until tts_done (naturally, by monitor, or by barge-in).
	s.awaitTTSDone(ctx)

	viaBargeIn := s.bargeInTriggered()
	if !viaBargeIn {
		s.flush(ctx)
	} else if bd != nil {
		s.requeue(bd.Replay())
	}

	// STREAMING: sender + receiver + end-of-utterance monitor.
	wg.Add(1)
	go func() { defer wg.Done(); s.sender(ctx) }()

	doneCh := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.receiver(ctx, doneCh)
	}()

	s.eouMonitor(ctx, doneCh)

	cancel() // FINALIZING: cancel all activities
	wg.Wait()

	if s.deps.Recognizer != nil {
		_ = s.deps.Recognizer.Close()
	}

	return s.finalize()
}

func (s *Session) setTTSDone() {
	s.mu.Lock()
	s.ttsDone = true
	s.mu.Unlock()
}

func (s *Session) isTTSDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttsDone
}

func (s *Session) bargeInTriggered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bargeInFired
}

// ttsMonitor polls the TTS process at 20Hz; on disappearance it sets
// tts_done.
func (s *Session) ttsMonitor(ctx context.Context) {
	if s.deps.TTS == nil {
		return
	}
	ticker := time.NewTicker(s.cfg.TTSMonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.deps.TTS.Done() {
				s.setTTSDone()
				return
			}
			if s.isTTSDone() {
				return
			}
		}
	}
}

// bargeInMonitor consumes mic frames while TTS plays, feeding the
// detector (which buffers them), and killing TTS the
// instant barge-in is declared.
func (s *Session) bargeInMonitor(ctx context.Context, bd *bargein.Detector) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if s.isTTSDone() {
			return
		}
		mic, ok := s.deps.MicRing.Pop()
		if !ok {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if bd.Step(mic) {
			s.mu.Lock()
			s.bargeInFired = true
			s.ttsDone = true
			s.mu.Unlock()
			s.deps.Logger.Info("session", "barge-in triggered", nil)
			if s.deps.TTS != nil {
				_ = s.deps.TTS.Kill()
			}
			return
		}
	}
}

func (s *Session) awaitTTSDone(ctx context.Context) {
	if s.isTTSDone() {
		return
	}
	ticker := time.NewTicker(s.cfg.TTSMonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.isTTSDone() {
				return
			}
		}
	}
}

// flush waits the flush delay then discards the mic/reference rings:
// those frames are TTS-reverb-contaminated and the transition was not
// via barge-in, so nothing buffered needs replaying.
func (s *Session) flush(ctx context.Context) {
	delay := s.cfg.FlushDelayWithoutAEC
	if s.deps.AEC != nil {
		delay = s.cfg.FlushDelayWithAEC
	}
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
	if s.deps.MicRing != nil {
		s.deps.MicRing.Drain()
	}
	if s.deps.RefRing != nil {
		s.deps.RefRing.Drain()
	}
}

// requeue re-pushes the barge-in detector's replay frames into the
// mic ring so the sender picks them up first, preserving capture
// order.
func (s *Session) requeue(frames []frame.Frame) {
	for _, f := range frames {
		s.deps.MicRing.Push(f)
	}
}

// sender pulls mic frames, optionally applies AEC against the latest
// reference frame, and sends raw PCM to the recognizer in capture
// order.
func (s *Session) sender(ctx context.Context) {
	if s.deps.Recognizer == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		mic, ok := s.deps.MicRing.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.FrameWaitTimeout):
			}
			continue
		}
		out := mic
		if s.deps.AEC != nil && s.deps.RefRing != nil {
			if ref, ok := s.deps.RefRing.Pop(); ok {
				out = s.deps.AEC.Cancel(mic, ref)
			}
		}
		if err := s.deps.Recognizer.Send(ctx, out); err != nil {
			return
		}
	}
}

// receiver reads transcript messages, accumulates text_result per the
// hallucination-stripped concatenation rule, and declares the
// recognizer dead after s.cfg.RecognizerIdleTimeout of silence.
func (s *Session) receiver(ctx context.Context, doneCh chan<- struct{}) {
	defer close(doneCh)
	if s.deps.Recognizer == nil {
		return
	}
	lastMsg := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if time.Since(lastMsg) >= s.cfg.RecognizerIdleTimeout {
			s.mu.Lock()
			s.recognizerLost = true
			s.mu.Unlock()
			s.deps.Logger.Warn("session", ErrRecognizerConnectionLost.Error(), map[string]any{"reason": "idle_timeout"})
			return
		}
		rctx, rcancel := context.WithTimeout(ctx, s.cfg.RecognizerIdleTimeout)
		tr, err := s.deps.Recognizer.Recv(rctx)
		rcancel()
		if err != nil {
			if ctx.Err() != nil {
				return // session finalizing or hard cap reached, not a lost recognizer
			}
			s.mu.Lock()
			s.recognizerLost = true
			s.mu.Unlock()
			s.deps.Logger.Warn("session", ErrRecognizerConnectionLost.Error(), map[string]any{"error": err.Error()})
			return
		}
		lastMsg = time.Now()
		text := stripHallucinations(tr.Text())
		s.applyTranscript(text)
	}
}

func (s *Session) applyTranscript(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if text == "" || text == s.textResult {
		return
	}
	s.textResult = text
	s.lastChangeAt = time.Now()
	if !s.gotText {
		s.gotText = true
	}
}

// eouMonitor polls for the end-of-utterance condition, doubling the
// effective silence timeout after a barge-in (the user is mid-thought
// and may pause longer).
func (s *Session) eouMonitor(ctx context.Context, doneCh <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.EOUMonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-doneCh:
			return
		case <-ticker.C:
			if s.endOfUtterance() {
				return
			}
		}
	}
}

func (s *Session) endOfUtterance() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.gotText {
		return false
	}
	timeout := s.cfg.SilenceTimeout
	if s.bargeInFired {
		timeout *= 2
	}
	if time.Since(s.lastChangeAt) < timeout {
		return false
	}
	return len(s.textResult) >= minTextLength
}

func (s *Session) finalize() Result {
	s.mu.Lock()
	text := s.textResult
	bargeIn := s.bargeInFired
	lost := s.recognizerLost
	s.mu.Unlock()

	if s.deps.TTSText != "" {
		text = echofilter.Filter(text, s.deps.TTSText)
	}
	s.logSummary(bargeIn, lost)
	return Result{Text: text, BargeInFired: bargeIn, RecognizerLost: lost}
}

// logSummary emits one Debug line per finished session carrying the
// counters SPEC_FULL.md §4.1/§4.2 require be observable: ring
// overflows and AEC cancellation failures accrued during this
// session's lifetime.
func (s *Session) logSummary(bargeIn, lost bool) {
	fields := map[string]any{
		"barge_in_fired":  bargeIn,
		"recognizer_lost": lost,
	}
	if s.deps.MicRing != nil {
		fields["mic_overflows"] = s.deps.MicRing.Overflows.Load()
	}
	if s.deps.RefRing != nil {
		fields["ref_overflows"] = s.deps.RefRing.Overflows.Load()
	}
	if s.deps.AEC != nil {
		fields["aec_failures"] = s.deps.AEC.Failures.Load()
	}
	s.deps.Logger.Debug("session", "capture session finished", fields)
}

func stripHallucinations(s string) string {
	s = blankTokenPattern.ReplaceAllString(s, "")
	lower := strings.ToLower(s)
	for _, h := range hallucinationLiterals {
		if strings.Contains(lower, h) {
			s = replaceCaseInsensitive(s, h)
			lower = strings.ToLower(s)
		}
	}
	return strings.Join(strings.Fields(s), " ")
}

// replaceCaseInsensitive removes every case-insensitive occurrence of
// needle from s. needle is always lowercase already.
func replaceCaseInsensitive(s, needle string) string {
	lower := strings.ToLower(s)
	var b strings.Builder
	i := 0
	for {
		idx := strings.Index(lower[i:], needle)
		if idx < 0 {
			b.WriteString(s[i:])
			break
		}
		b.WriteString(s[i : i+idx])
		i += idx + len(needle)
	}
	return b.String()
}
