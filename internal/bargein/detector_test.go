package bargein

import (
	"math"
	"testing"

	"github.com/cpoepke/claude-talk-audio/internal/frame"
)

// sineFrame generates one 100ms Frame of a sine wave at the given
// amplitude (0-1 of full scale), mirroring the teacher's generateSine
// test helper pattern but producing a Frame instead of a []byte.
func sineFrame(freq, amp float64, phase0 float64) (frame.Frame, float64) {
	var f frame.Frame
	ph := phase0
	step := 2 * math.Pi * freq / float64(frame.SampleRate)
	for i := range f {
		f[i] = int16(amp * 32767 * math.Sin(ph))
		ph += step
	}
	return f, ph
}

func feedSilence(d *Detector, n int) {
	var silence frame.Frame
	for i := 0; i < n; i++ {
		d.Step(silence)
	}
}

func TestDetectorStaysQuietDuringGraceAndCalibration(t *testing.T) {
	d := New(false, nil)
	// grace period: 5 frames = 500ms
	for i := 0; i < 5; i++ {
		if d.Step(frame.Frame{}) {
			t.Fatalf("must not trigger during grace period (frame %d)", i)
		}
	}
	feedSilence(d, CalibrationFrames)
	if d.Triggered() {
		t.Fatal("must not trigger from silence during calibration")
	}
}

func TestDetectorTriggersOnSustainedSpeech(t *testing.T) {
	d := New(false, nil)
	feedSilence(d, 5) // grace
	feedSilence(d, CalibrationFrames)

	triggered := false
	phase := 0.0
	for i := 0; i < SpikeThreshold+2 && !triggered; i++ {
		var f frame.Frame
		f, phase = sineFrame(300, 0.8, phase)
		if d.Step(f) {
			triggered = true
		}
	}
	if !triggered {
		t.Fatal("expected barge-in to trigger on sustained loud speech")
	}
	if len(d.Replay()) != ReplayFrames {
		t.Fatalf("expected %d replay frames, got %d", ReplayFrames, len(d.Replay()))
	}
}

func TestDetectorDoesNotTriggerOnQuietBleed(t *testing.T) {
	d := New(true, nil) // AEC active: stricter multiplier/floor
	feedSilence(d, 5)
	// calibrate on a low-level constant bleed
	phase := 0.0
	for i := 0; i < CalibrationFrames; i++ {
		var f frame.Frame
		f, phase = sineFrame(300, 0.01, phase)
		d.Step(f)
	}
	for i := 0; i < 20; i++ {
		var f frame.Frame
		f, phase = sineFrame(300, 0.01, phase)
		if d.Step(f) {
			t.Fatal("must not trigger on bleed at the calibrated baseline level")
		}
	}
}
