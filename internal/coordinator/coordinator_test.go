package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/cpoepke/claude-talk-audio/internal/session"
)

func TestListenReturnsSilenceWhenEmpty(t *testing.T) {
	capture := func(ctx context.Context, ttsText string, spawnTTS bool) session.Result {
		return session.Result{Text: ""}
	}
	c := New(capture, nil, nil)
	if got := c.Listen(context.Background()); got != sentinelSilence {
		t.Fatalf("expected %q, got %q", sentinelSilence, got)
	}
}

func TestListenReturnsMutedWithoutCapturing(t *testing.T) {
	called := false
	capture := func(ctx context.Context, ttsText string, spawnTTS bool) session.Result {
		called = true
		return session.Result{Text: "should not happen"}
	}
	c := New(capture, nil, nil)
	c.Mute()
	if got := c.Listen(context.Background()); got != sentinelMuted {
		t.Fatalf("expected %q, got %q", sentinelMuted, got)
	}
	if called {
		t.Fatal("expected no device/capture to run while muted")
	}
}

func TestListenReturnsText(t *testing.T) {
	capture := func(ctx context.Context, ttsText string, spawnTTS bool) session.Result {
		return session.Result{Text: "hello world"}
	}
	c := New(capture, nil, nil)
	if got := c.Listen(context.Background()); got != "hello world" {
		t.Fatalf("expected %q, got %q", "hello world", got)
	}
}

func TestQueueListenBufferConsumedBySpeak(t *testing.T) {
	capture := func(ctx context.Context, ttsText string, spawnTTS bool) session.Result {
		if !spawnTTS {
			return session.Result{Text: "ready"}
		}
		return session.Result{Text: ""}
	}
	spokenWithoutCapture := false
	speakFn := func(ctx context.Context, text string) error {
		spokenWithoutCapture = true
		return nil
	}
	c := New(capture, speakFn, nil)

	c.QueueListen(context.Background())
	// allow the background goroutine to finish and stash the buffer
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		ready := c.bufferedValid
		c.mu.Unlock()
		if ready {
			break
		}
		time.Sleep(time.Millisecond)
	}

	got := c.Speak(context.Background(), "Anything else?")
	if got != "ready" {
		t.Fatalf("expected buffered result %q, got %q", "ready", got)
	}
	if !spokenWithoutCapture {
		t.Fatal("expected speak() to perform TTS without capture when consuming a buffer")
	}
}

func TestSpeakCancelsInFlightPreQueue(t *testing.T) {
	started := make(chan struct{})
	capture := func(ctx context.Context, ttsText string, spawnTTS bool) session.Result {
		if !spawnTTS {
			close(started)
			<-ctx.Done()
			return session.Result{Text: "late"}
		}
		return session.Result{Text: "spoken"}
	}
	c := New(capture, nil, nil)
	c.QueueListen(context.Background())
	<-started

	got := c.Speak(context.Background(), "hi")
	if got != "spoken" {
		t.Fatalf("expected speak's own capture result, got %q", got)
	}

	c.mu.Lock()
	buffered := c.bufferedValid
	c.mu.Unlock()
	if buffered {
		t.Fatal("expected the cancelled pre-queue result to never populate the buffer")
	}
}
