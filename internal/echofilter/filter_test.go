package echofilter

import "testing"

func TestFilterPrefixStrip(t *testing.T) {
	got := Filter("Good morning friend how are you", "Good morning friend")
	if got != "how are you" {
		t.Fatalf("expected %q, got %q", "how are you", got)
	}
}

func TestFilterPrefixRunTooShortIsNotApplied(t *testing.T) {
	got := Filter("Good morning to everyone here today", "Good morning")
	if got == Silence {
		t.Fatal("a 2-word overlap must not collapse the transcript")
	}
	if got != "good morning to everyone here today" {
		t.Fatalf("unexpected strip applied: %q", got)
	}
}

func TestFilterEmptyAfterStripIsSilence(t *testing.T) {
	got := Filter("Good morning friend", "Good morning friend")
	if got != Silence {
		t.Fatalf("expected %q, got %q", Silence, got)
	}
}

func TestFilterFuzzyWholeSentence(t *testing.T) {
	tts := "The quick brown fox jumps over the lazy dog"
	transcript := "fox dog the quick jumps"
	got := Filter(transcript, tts)
	if got != Silence {
		t.Fatalf("expected fuzzy match to collapse to silence, got %q", got)
	}
}

func TestFilterGenuineReplyIsKept(t *testing.T) {
	got := Filter("stop talking", "The quick brown fox")
	if got != "stop talking" {
		t.Fatalf("expected genuine reply unchanged, got %q", got)
	}
}

func TestFilterIsIdempotent(t *testing.T) {
	tts := "Good morning friend"
	transcript := "Good morning friend how are you"
	once := Filter(transcript, tts)
	twice := Filter(once, tts)
	if once != twice {
		t.Fatalf("filter not idempotent: once=%q twice=%q", once, twice)
	}
}
