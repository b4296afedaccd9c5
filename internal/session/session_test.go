package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cpoepke/claude-talk-audio/internal/frame"
	"github.com/cpoepke/claude-talk-audio/internal/recognizer"
)

// fakeRecognizer scripts a sequence of transcripts delivered at fixed
// intervals, then goes silent (blocking until ctx is done) — enough
// to drive every end-to-end scenario spec.md §8 names without a real
// network connection.
type fakeRecognizer struct {
	mu       sync.Mutex
	sent     []frame.Frame
	messages []recognizer.Transcript
	idx      int
	interval time.Duration
}

func (f *fakeRecognizer) Send(_ context.Context, fr frame.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, fr)
	return nil
}

func (f *fakeRecognizer) Recv(ctx context.Context) (recognizer.Transcript, error) {
	f.mu.Lock()
	idx := f.idx
	f.idx++
	f.mu.Unlock()

	if idx < len(f.messages) {
		select {
		case <-ctx.Done():
			return recognizer.Transcript{}, ctx.Err()
		case <-time.After(f.interval):
		}
		return f.messages[idx], nil
	}
	<-ctx.Done()
	return recognizer.Transcript{}, ctx.Err()
}

func (f *fakeRecognizer) Close() error { return nil }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SilenceTimeout = 150 * time.Millisecond
	cfg.TTSMonitorInterval = 5 * time.Millisecond
	cfg.EOUMonitorInterval = 10 * time.Millisecond
	cfg.FrameWaitTimeout = 10 * time.Millisecond
	cfg.RecognizerIdleTimeout = 300 * time.Millisecond
	cfg.MaxDuration = 2 * time.Second
	cfg.FlushDelayWithAEC = 10 * time.Millisecond
	cfg.FlushDelayWithoutAEC = 10 * time.Millisecond
	return cfg
}

func fillRing(r *frame.Ring, n int) {
	for i := 0; i < n; i++ {
		r.Push(frame.Frame{})
	}
}

// Scenario 2: listen() with user saying "hello world", recognizer
// quiets down after -> returns "hello world".
func TestSessionHelloWorld(t *testing.T) {
	rec := &fakeRecognizer{
		interval: 5 * time.Millisecond,
		messages: []recognizer.Transcript{
			{Lines: []recognizer.Line{{Text: "hello"}}, BufferTranscription: "world"},
		},
	}
	micRing := frame.NewRing()
	fillRing(micRing, 50)

	s := New(Deps{MicRing: micRing, Recognizer: rec}, testConfig())
	res := s.Run(context.Background())

	if res.Text != "hello world" {
		t.Fatalf("expected %q, got %q", "hello world", res.Text)
	}
}

// Scenario 3: speak() where the recognizer hears TTS bleed through;
// echo-filter strips the shared prefix.
func TestSessionEchoFilterStripsPrefix(t *testing.T) {
	rec := &fakeRecognizer{
		interval: 5 * time.Millisecond,
		messages: []recognizer.Transcript{
			{Lines: []recognizer.Line{{Text: "Good morning friend how are you"}}},
		},
	}
	micRing := frame.NewRing()
	fillRing(micRing, 50)

	s := New(Deps{MicRing: micRing, Recognizer: rec, TTSText: "Good morning friend"}, testConfig())
	res := s.Run(context.Background())

	if res.Text != "how are you" {
		t.Fatalf("expected %q, got %q", "how are you", res.Text)
	}
}

// Scenario with hallucination tokens: literal bracketed tokens are
// stripped from the accumulated transcript.
func TestSessionHallucinationTokensStripped(t *testing.T) {
	rec := &fakeRecognizer{
		interval: 5 * time.Millisecond,
		messages: []recognizer.Transcript{
			{Lines: []recognizer.Line{{Text: "[Music] hello there [BLANK_AUDIO]"}}},
		},
	}
	micRing := frame.NewRing()
	fillRing(micRing, 50)

	s := New(Deps{MicRing: micRing, Recognizer: rec}, testConfig())
	res := s.Run(context.Background())

	if res.Text != "hello there" {
		t.Fatalf("expected hallucination tokens stripped, got %q", res.Text)
	}
}

// A bracketed BLANK... variant that isn't the literal "[BLANK_AUDIO]"
// token must still be stripped.
func TestSessionHallucinationBlankVariantStripped(t *testing.T) {
	rec := &fakeRecognizer{
		interval: 5 * time.Millisecond,
		messages: []recognizer.Transcript{
			{Lines: []recognizer.Line{{Text: "hello [BLANK_SPEECH] there [blank]"}}},
		},
	}
	micRing := frame.NewRing()
	fillRing(micRing, 50)

	s := New(Deps{MicRing: micRing, Recognizer: rec}, testConfig())
	res := s.Run(context.Background())

	if res.Text != "hello there" {
		t.Fatalf("expected bracketed BLANK variants stripped, got %q", res.Text)
	}
}

// No TTS and an always-silent recognizer: the recognizer idle timeout
// (shorter than the hard cap here) ends the session, which returns
// empty text that the coordinator translates to "(silence)".
func TestSessionNoSpeechReturnsEmpty(t *testing.T) {
	rec := &fakeRecognizer{interval: 5 * time.Millisecond}
	micRing := frame.NewRing()
	fillRing(micRing, 200)

	cfg := testConfig()
	cfg.MaxDuration = 120 * time.Millisecond
	cfg.RecognizerIdleTimeout = 60 * time.Millisecond

	s := New(Deps{MicRing: micRing, Recognizer: rec}, cfg)
	res := s.Run(context.Background())

	if res.Text != "" {
		t.Fatalf("expected empty text, got %q", res.Text)
	}
}
