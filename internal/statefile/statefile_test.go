package statefile

import (
	"path/filepath"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.txt")
	want := State{KeySession: "abc123", KeyStatus: "listening", KeyMuted: "false"}
	if err := Write(path, want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("key %s: expected %q, got %q", k, v, got[k])
		}
	}
}

func TestReadMissingFileReturnsEmptyState(t *testing.T) {
	got, err := Read(filepath.Join(t.TempDir(), "does-not-exist.txt"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty state, got %v", got)
	}
}

func TestWriteOverwritesPreviousContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.txt")
	if err := Write(path, State{KeyStatus: "idle"}); err != nil {
		t.Fatalf("Write 1: %v", err)
	}
	if err := Write(path, State{KeyStatus: "speaking"}); err != nil {
		t.Fatalf("Write 2: %v", err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got[KeyStatus] != "speaking" {
		t.Fatalf("expected speaking, got %q", got[KeyStatus])
	}
}
