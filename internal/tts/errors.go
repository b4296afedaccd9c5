package tts

import "errors"

// ErrSpawnFailed is returned when the TTS binary cannot be started.
// Per the error-handling contract this is non-fatal to the overall
// request: the caller's text result becomes "(silence)".
var ErrSpawnFailed = errors.New("tts: spawn failed")
