// Package tts spawns and monitors the external text-to-speech binary.
// It owns nothing about audio playback itself — the TTS binary writes
// directly to the OS audio output — only the process lifecycle: spawn,
// poll-for-exit, and forced termination.
package tts

import (
	"os/exec"
	"sync"
	"syscall"

	"github.com/cpoepke/claude-talk-audio/internal/logging"
)

// Controller spawns the TTS binary with (voice, text) and exposes its
// PID to the TTS monitor and barge-in detector, plus forced
// termination for barge-in.
type Controller struct {
	binary string
	logger *logging.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	pid  int
	done bool
}

// NewController builds a Controller that invokes binary with
// `-v <voice> <text>`; stdout/stderr are discarded, matching the
// external TTS invocation contract. logger may be nil.
func NewController(binary string, logger *logging.Logger) *Controller {
	return &Controller{binary: binary, logger: logger}
}

// Speak starts the TTS process. Returns ErrSpawnFailed (non-fatal to
// the caller, which should treat the session's result as "(silence)")
// if the binary cannot be started.
func (c *Controller) Speak(voice, text string) error {
	cmd := exec.Command(c.binary, "-v", voice, text)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		c.logger.Warn("tts", ErrSpawnFailed.Error(), map[string]any{"binary": c.binary, "error": err.Error()})
		return ErrSpawnFailed
	}
	c.mu.Lock()
	c.cmd = cmd
	c.pid = cmd.Process.Pid
	c.done = false
	c.mu.Unlock()
	c.logger.Debug("tts", "tts process spawned", map[string]any{"pid": cmd.Process.Pid, "voice": voice})

	go func() {
		_ = cmd.Wait()
		c.mu.Lock()
		c.done = true
		c.mu.Unlock()
	}()
	return nil
}

// PID returns the spawned process's PID, or 0 if none was spawned
// (the "tts_pid == 0" case in the capture session's INIT state).
func (c *Controller) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid
}

// Done reports whether the TTS process has exited, naturally or via
// Kill. Polled at 20Hz by the TTS monitor activity.
func (c *Controller) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid == 0 || c.done
}

// Kill sends a single termination signal to the TTS process. The
// process is assumed to honour it within one poll interval; Kill does
// not itself wait for exit (the TTS monitor's poll loop observes
// Done() going true).
func (c *Controller) Kill() error {
	c.mu.Lock()
	cmd := c.cmd
	c.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	c.logger.Debug("tts", "killing tts process", map[string]any{"pid": cmd.Process.Pid})
	return cmd.Process.Signal(syscall.SIGTERM)
}

// Alive probes an arbitrary PID with a zero-signal, the POSIX
// "does this process exist" idiom, for a PID this Controller did not
// spawn. The capture session's TTS monitor does not use it: it polls
// Done, which is driven by this Controller's own cmd.Wait goroutine.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}
