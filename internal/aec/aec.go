// Package aec provides a Speex-style adaptive linear echo canceller:
// a thin cgo binding to libspeexdsp, contract-bound to this server's
// fixed 1600-sample/100ms/16kHz frame shape.
package aec

/*
#cgo pkg-config: speexdsp
#include <speex/speex_echo.h>
#include <speex/speex_preprocess.h>
#include <stdlib.h>
*/
import "C"

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/cpoepke/claude-talk-audio/internal/frame"
	"github.com/cpoepke/claude-talk-audio/internal/logging"
)

// DefaultTailMs is the default echo-tail filter length: 300ms of taps.
const DefaultTailMs = 300

// State is the adaptive-filter state for one capture session. Its
// lifetime is exactly one CaptureSession when both a mic and a
// reference device exist; it is created at session start and
// destroyed at session end via Close.
type State struct {
	echoState    *C.SpeexEchoState
	preprocState *C.SpeexPreprocessState
	frameSize    int
	filterLen    int
	logger       *logging.Logger

	// Failures counts non-fatal cancellation failures (frame-size
	// mismatch, closed/nil state). Incremented from Cancel, which runs
	// on the session goroutine's hot path — atomic so a
	// status handler can read it concurrently without locking.
	Failures atomic.Uint64

	// warnOnce logs the first AECFailure of a session at Warn; every
	// subsequent failure this session only increments Failures, per
	// SPEC_FULL.md §4.2's "logs at Warn once per session" rule.
	warnOnce sync.Once
}

// New creates an echo canceller sized for this server's fixed frame
// contract: frameSize samples per call (1600 = 100ms @ 16kHz),
// filterLenMs milliseconds of echo tail, at sampleRate Hz. A non-nil
// error here is the AEC analogue of DeviceOpenFailed: the caller is
// expected to fall back to passing raw mic frames through. logger may
// be nil.
func New(frameSize, filterLenMs, sampleRate int, logger *logging.Logger) (*State, error) {
	filterLen := sampleRate * filterLenMs / 1000

	echoState := C.speex_echo_state_init(C.int(frameSize), C.int(filterLen))
	if echoState == nil {
		logger.Warn("aec", "echo state init failed", nil)
		return nil, errAECInit
	}
	rate := C.int(sampleRate)
	C.speex_echo_ctl(echoState, C.SPEEX_ECHO_SET_SAMPLING_RATE, unsafe.Pointer(&rate))

	preprocState := C.speex_preprocess_state_init(C.int(frameSize), C.int(sampleRate))
	if preprocState == nil {
		C.speex_echo_state_destroy(echoState)
		logger.Warn("aec", "preprocess state init failed", nil)
		return nil, errAECInit
	}
	one := C.int(1)
	C.speex_preprocess_ctl(preprocState, C.SPEEX_PREPROCESS_SET_DENOISE, unsafe.Pointer(&one))
	C.speex_preprocess_ctl(preprocState, C.SPEEX_PREPROCESS_SET_AGC, unsafe.Pointer(&one))
	C.speex_preprocess_ctl(preprocState, C.SPEEX_PREPROCESS_SET_ECHO_STATE, unsafe.Pointer(echoState))

	logger.Debug("aec", "echo canceller initialized", map[string]any{"frame_size": frameSize, "filter_len_ms": filterLenMs})
	return &State{
		echoState:    echoState,
		preprocState: preprocState,
		frameSize:    frameSize,
		filterLen:    filterLen,
		logger:       logger,
	}, nil
}

// NewDefault builds a State using this server's standard frame
// contract (1600 samples, 300ms tail, 16kHz). logger may be nil.
func NewDefault(logger *logging.Logger) (*State, error) {
	return New(frame.Samples, DefaultTailMs, frame.SampleRate, logger)
}

// Cancel subtracts a linear model of ref from mic and returns a clean
// frame of equal size. On any failure (nil state, size mismatch) it
// is non-fatal: it increments Failures and returns mic unchanged, per
// the AECFailure error kind's "falls back to raw mic, counted" rule.
func (s *State) Cancel(mic, ref frame.Frame) frame.Frame {
	if s == nil || s.echoState == nil || s.preprocState == nil {
		if s != nil {
			s.Failures.Add(1)
			s.warnOnce.Do(func() { s.logger.Warn("aec", "echo cancellation unavailable, passing raw mic frames", nil) })
		}
		return mic
	}
	if len(mic) != s.frameSize || len(ref) != s.frameSize {
		s.Failures.Add(1)
		s.warnOnce.Do(func() {
			s.logger.Warn("aec", "frame size mismatch, passing raw mic frame", map[string]any{"mic_len": len(mic), "ref_len": len(ref)})
		})
		return mic
	}

	var out frame.Frame
	micPtr := (*C.spx_int16_t)(unsafe.Pointer(&mic[0]))
	refPtr := (*C.spx_int16_t)(unsafe.Pointer(&ref[0]))
	outPtr := (*C.spx_int16_t)(unsafe.Pointer(&out[0]))

	C.speex_echo_cancellation(s.echoState, micPtr, refPtr, outPtr)
	C.speex_preprocess_run(s.preprocState, outPtr)
	return out
}

// Reset clears the adaptive filter's learned state without freeing
// it, for reuse across back-to-back sessions if a caller chooses to
// pool State instances instead of recreating one per session.
func (s *State) Reset() {
	if s != nil && s.echoState != nil {
		C.speex_echo_state_reset(s.echoState)
	}
}

// Close destroys the underlying C state. Safe to call on a nil
// receiver or to call twice.
func (s *State) Close() {
	if s == nil {
		return
	}
	if s.preprocState != nil {
		C.speex_preprocess_state_destroy(s.preprocState)
		s.preprocState = nil
	}
	if s.echoState != nil {
		C.speex_echo_state_destroy(s.echoState)
		s.echoState = nil
	}
}
