// Package bargein implements the double-talk decision made while TTS
// is playing: is the microphone carrying only TTS echo, or has the
// user started talking over it? It runs one step per 100ms frame.
package bargein

import (
	"math"
	"time"

	"github.com/cpoepke/claude-talk-audio/internal/frame"
	"github.com/cpoepke/claude-talk-audio/internal/logging"
)

type phase int

const (
	phaseGrace phase = iota
	phaseCalibrating
	phaseActive
	phaseTriggered
)

const (
	// GracePeriod lets TTS stabilise before any measurement begins.
	GracePeriod = 500 * time.Millisecond
	// CalibrationFrames is how many frames the baseline is averaged over (~0.8s).
	CalibrationFrames = 8
	// SpikeThreshold is the confirmed-spike count that declares barge-in (~0.4s).
	SpikeThreshold = 4
	// ReplayFrames is how many of the most recent buffered frames are
	// re-queued to the recognizer when barge-in fires.
	ReplayFrames = 3

	baselineMultiplierWithAEC    = 3.0
	baselineFloorWithAEC         = 400.0
	baselineMultiplierWithoutAEC = 2.5
	baselineFloorWithoutAEC      = 1200.0
)

// Detector runs the grace->calibrate->active state machine described
// in the capture session's barge-in algorithm: an adaptive baseline
// measured live, not a fixed mic/reference ratio test, so it works
// without a reference device of known loudness.
type Detector struct {
	aecActive bool
	logger    *logging.Logger

	ph           phase
	elapsed      time.Duration
	calibSamples []float64
	baseline     float64
	threshold    float64
	spikeCount   int

	// Buffered holds every mic frame seen since the detector started,
	// so that the last ReplayFrames can be re-queued to the recognizer
	// the instant barge-in fires.
	Buffered []frame.Frame
}

// New creates a Detector. aecActive selects the threshold formula:
// a tighter multiplier/floor is used when AEC already attenuates
// bleed into the mic. logger may be nil.
func New(aecActive bool, logger *logging.Logger) *Detector {
	return &Detector{aecActive: aecActive, logger: logger, ph: phaseGrace}
}

// Triggered reports whether barge-in has fired.
func (d *Detector) Triggered() bool {
	return d.ph == phaseTriggered
}

// Step advances the detector by one 100ms mic frame. It returns true
// the instant barge-in is declared (once, on the triggering call).
func (d *Detector) Step(mic frame.Frame) bool {
	if d.ph == phaseTriggered {
		return false
	}

	d.Buffered = append(d.Buffered, mic)
	d.elapsed += 100 * time.Millisecond

	rms := rms(mic)

	switch d.ph {
	case phaseGrace:
		if d.elapsed >= GracePeriod {
			d.ph = phaseCalibrating
			d.calibSamples = d.calibSamples[:0]
		}
		return false

	case phaseCalibrating:
		d.calibSamples = append(d.calibSamples, rms)
		if len(d.calibSamples) >= CalibrationFrames {
			sum := 0.0
			for _, s := range d.calibSamples {
				sum += s
			}
			d.baseline = sum / float64(len(d.calibSamples))
			d.threshold = dynamicThreshold(d.baseline, d.aecActive)
			d.ph = phaseActive
			d.logger.Debug("bargein", "calibration complete", map[string]any{"baseline": d.baseline, "threshold": d.threshold})
		}
		return false

	case phaseActive:
		if rms > d.threshold {
			d.spikeCount++
		} else if d.spikeCount > 0 {
			d.spikeCount--
		}
		if d.spikeCount >= SpikeThreshold {
			d.ph = phaseTriggered
			d.logger.Debug("bargein", "spike threshold reached", map[string]any{"rms": rms, "threshold": d.threshold})
			return true
		}
		return false
	}
	return false
}

// Replay returns the last ReplayFrames buffered frames, which are
// re-queued into the mic ring so the recognizer hears the start of
// the user's utterance; earlier frames are TTS-echo-contaminated and
// are discarded by the caller.
func (d *Detector) Replay() []frame.Frame {
	if len(d.Buffered) <= ReplayFrames {
		return d.Buffered
	}
	return d.Buffered[len(d.Buffered)-ReplayFrames:]
}

func dynamicThreshold(baseline float64, aecActive bool) float64 {
	if aecActive {
		return math.Max(baseline*baselineMultiplierWithAEC, baselineFloorWithAEC)
	}
	return math.Max(baseline*baselineMultiplierWithoutAEC, baselineFloorWithoutAEC)
}

// rms computes the root-mean-square energy of a Frame, expressed on
// the raw int16 scale to match the threshold floors above (400/1200),
// which are themselves raw-int16-scale constants.
func rms(f frame.Frame) float64 {
	var sum float64
	for _, s := range f {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(f)))
}
