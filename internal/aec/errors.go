package aec

import "errors"

// errAECInit covers both speex_echo_state_init and
// speex_preprocess_state_init returning NULL; AEC init failure is
// non-fatal to the session, so callers treat it the same as any other
// AECFailure: fall back to raw mic frames.
var errAECInit = errors.New("aec: failed to initialize speex state")
