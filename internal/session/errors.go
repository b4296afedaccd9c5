package session

import "errors"

// Sentinel errors returned by a capture session. These are the Go
// realization of the error kinds in the external error-handling
// contract: audio-thread failures are counted (see frame.Ring.Overflows
// and AEC's failure counter), never returned as errors; only
// session-task-level failures surface here, and every one of them is
// translated to a sentinel string before reaching a caller.
var (
	// ErrDeviceOpenFailed means a required audio device could not be
	// opened; fatal to the session, the caller sees an empty result.
	ErrDeviceOpenFailed = errors.New("session: device open failed")

	// ErrRecognizerUnreachable means the recognizer could not be
	// dialed after all retries; the caller sees "(wlk_error)".
	ErrRecognizerUnreachable = errors.New("session: recognizer unreachable")

	// ErrRecognizerConnectionLost means a connected recognizer dropped
	// mid-session; any partial text_result is preserved.
	ErrRecognizerConnectionLost = errors.New("session: recognizer connection lost")

	// ErrTTSSpawnFailed means the TTS subprocess could not be started;
	// the caller sees "(silence)".
	ErrTTSSpawnFailed = errors.New("session: tts spawn failed")

	// ErrMuted means the capture was skipped because the mute flag is
	// set; no device is opened.
	ErrMuted = errors.New("session: muted")
)
