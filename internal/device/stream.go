// Package device opens the two input streams the capture pipeline
// reads from: the primary microphone, and — when present — a
// loopback "reference" device carrying a clean copy of what the OS is
// about to play. Both stream int16 mono frames straight into a
// frame.Ring from a real-time audio callback: no locks, no
// allocation, no logging on that thread.
package device

import (
	"errors"
	"fmt"
	"math"

	"github.com/gen2brain/malgo"

	"github.com/cpoepke/claude-talk-audio/internal/frame"
	"github.com/cpoepke/claude-talk-audio/internal/logging"
)

// ErrOpenFailed wraps any malgo device-open failure, the Go
// realization of the DeviceOpenFailed error kind.
var ErrOpenFailed = errors.New("device: open failed")

// Info describes one enumerated input device, for GET /devices.
type Info struct {
	Name   string
	ID     string
	IsDefault bool
}

// Context owns the shared malgo audio context every Stream is opened
// against. One Context per process.
type Context struct {
	ctx    *malgo.AllocatedContext
	logger *logging.Logger
}

// NewContext initializes the shared malgo context. logger may be nil.
func NewContext(logger *logging.Logger) (*Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		logger.Warn("device", "audio context init failed", map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	logger.Debug("device", "audio context initialized", nil)
	return &Context{ctx: ctx, logger: logger}, nil
}

// Close releases the shared context. Call after every Stream opened
// against it has been closed.
func (c *Context) Close() {
	if c.ctx != nil {
		_ = c.ctx.Uninit()
		c.ctx.Free()
		c.ctx = nil
		c.logger.Debug("device", "audio context closed", nil)
	}
}

// ListCaptureDevices enumerates capture-capable devices, for the
// /devices HTTP endpoint.
func (c *Context) ListCaptureDevices() ([]Info, error) {
	infos, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		c.logger.Warn("device", "device enumeration failed", map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	out := make([]Info, 0, len(infos))
	for _, d := range infos {
		out = append(out, Info{Name: d.Name(), ID: fmt.Sprintf("%v", d.ID), IsDefault: d.IsDefault != 0})
	}
	return out, nil
}

// Stream is one open capture-only input: a device name (or "" for the
// OS default), delivering fixed-size Frames into a ring.
type Stream struct {
	device *malgo.Device
	ring   *frame.Ring
	logger *logging.Logger

	gain    float64
	clipped bool
}

// streamConfig bundles the per-stream options Open needs.
type streamConfig struct {
	deviceName string
	gain       float64
}

// OpenMic opens the primary microphone with the configured linear
// gain and saturation clipping to int16 range (spec's mic-path-only
// gain rule). deviceName "" or "auto" picks the OS default.
func (c *Context) OpenMic(deviceName string, gain float64) (*Stream, error) {
	return c.open(streamConfig{deviceName: deviceName, gain: gain})
}

// OpenReference opens the loopback reference device unmodified (no
// gain, no clipping) — a clean copy of what the OS is about to play.
func (c *Context) OpenReference(deviceName string) (*Stream, error) {
	return c.open(streamConfig{deviceName: deviceName, gain: 1.0})
}

func (c *Context) open(cfg streamConfig) (*Stream, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = frame.SampleRate
	deviceConfig.PeriodSizeInFrames = frame.Samples

	s := &Stream{ring: frame.NewRing(), gain: cfg.gain, logger: c.logger}

	deviceID, err := resolveDeviceID(c.ctx, cfg.deviceName)
	if err != nil {
		c.logger.Warn("device", "device resolution failed", map[string]any{"device": cfg.deviceName, "error": err.Error()})
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	if deviceID != nil {
		deviceConfig.Capture.DeviceID = deviceID
	}

	onRecv := func(_, pInput []byte, frameCount uint32) {
		if pInput == nil {
			return
		}
		f := frame.FromBytes(pInput)
		if s.gain != 1.0 {
			for i, v := range f {
				scaled := float64(v) * s.gain
				f[i] = clampInt16(scaled)
			}
		}
		s.ring.Push(f)
	}

	dev, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecv})
	if err != nil {
		c.logger.Warn("device", "device init failed", map[string]any{"device": cfg.deviceName, "error": err.Error()})
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		c.logger.Warn("device", "device start failed", map[string]any{"device": cfg.deviceName, "error": err.Error()})
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	s.device = dev
	c.logger.Debug("device", "device opened", map[string]any{"device": cfg.deviceName, "gain": cfg.gain})
	return s, nil
}

// Ring exposes the stream's frame ring to the consumer (session task).
func (s *Stream) Ring() *frame.Ring {
	return s.ring
}

// Close stops and releases the device. If any frames were dropped to
// ring overflow over the stream's lifetime, that is logged at Warn —
// the overflow counter itself is incremented lock/log-free from the
// real-time audio callback (see Push), so this is the first safe
// place to report it.
func (s *Stream) Close() {
	if s.device != nil {
		s.device.Stop()
		s.device.Uninit()
		s.device = nil
	}
	if overflows := s.ring.Overflows.Load(); overflows > 0 {
		s.logger.Warn("device", "ring overflow: frames dropped", map[string]any{"count": overflows})
	}
	s.logger.Debug("device", "device closed", nil)
}

func resolveDeviceID(ctx *malgo.AllocatedContext, name string) (*malgo.DeviceID, error) {
	if name == "" || name == "auto" {
		return nil, nil
	}
	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, err
	}
	for _, d := range infos {
		if d.Name() == name {
			id := d.ID
			return &id, nil
		}
	}
	return nil, fmt.Errorf("device %q not found", name)
}

func clampInt16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
