// Package config loads the server's configuration from a .env file,
// the process environment, and command-line flags, in that order of
// increasing precedence — the same layering cmd/agent used in the
// teacher repo, generalized with agalue's flag-bound-to-struct-field
// pattern.
package config

import (
	"flag"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds every recognized environment/flag key from the
// external-interface contract. No keys beyond this set are read;
// the surface is bounded by what clients are documented to set.
type Config struct {
	AudioDevice     string  // AUDIO_DEVICE, default "auto"
	MicGain         float64 // MIC_GAIN, default 8.0
	SilenceSecs     float64 // SILENCE_SECS, default 2.0
	BargeIn         bool    // BARGE_IN, default true
	BlackholeDevice string  // BLACKHOLE_DEVICE, default "": no reference device is opened; there is no auto-detection
	BargeInRatio    float64 // BARGE_IN_RATIO, default 0.4
	Voice           string  // VOICE, default "Daniel"
	WLKURL          string  // WLK_URL, default ws://localhost:8090/asr
	WLKPort         int     // WLK_PORT, default 8090
	AudioServerPort int     // AUDIO_SERVER_PORT, default 8150
}

// Default returns the configuration's documented defaults.
func Default() Config {
	return Config{
		AudioDevice:     "auto",
		MicGain:         8.0,
		SilenceSecs:     2.0,
		BargeIn:         true,
		BlackholeDevice: "",
		BargeInRatio:    0.4,
		Voice:           "Daniel",
		WLKURL:          "ws://localhost:8090/asr",
		WLKPort:         8090,
		AudioServerPort: 8150,
	}
}

// Load reads a .env file if present (missing file is not an error),
// then layers environment variables and flags over the defaults.
// fs is the flag.FlagSet to register onto (pass flag.CommandLine in
// main, or a fresh set in tests), and args are the arguments to parse
// (os.Args[1:] in main).
func Load(fs *flag.FlagSet, args []string) (Config, error) {
	_ = godotenv.Load() // best-effort; absence of .env is normal in prod

	cfg := Default()
	cfg.AudioDevice = envOr("AUDIO_DEVICE", cfg.AudioDevice)
	cfg.MicGain = envFloatOr("MIC_GAIN", cfg.MicGain)
	cfg.SilenceSecs = envFloatOr("SILENCE_SECS", cfg.SilenceSecs)
	cfg.BargeIn = envBoolOr("BARGE_IN", cfg.BargeIn)
	cfg.BlackholeDevice = envOr("BLACKHOLE_DEVICE", cfg.BlackholeDevice)
	cfg.BargeInRatio = envFloatOr("BARGE_IN_RATIO", cfg.BargeInRatio)
	cfg.Voice = envOr("VOICE", cfg.Voice)
	cfg.WLKURL = envOr("WLK_URL", cfg.WLKURL)
	cfg.WLKPort = envIntOr("WLK_PORT", cfg.WLKPort)
	cfg.AudioServerPort = envIntOr("AUDIO_SERVER_PORT", cfg.AudioServerPort)

	fs.StringVar(&cfg.AudioDevice, "audio-device", cfg.AudioDevice, "input device name or \"auto\"")
	fs.Float64Var(&cfg.MicGain, "mic-gain", cfg.MicGain, "linear gain applied to the mic path")
	fs.Float64Var(&cfg.SilenceSecs, "silence-secs", cfg.SilenceSecs, "end-of-utterance silence timeout")
	fs.BoolVar(&cfg.BargeIn, "barge-in", cfg.BargeIn, "enable barge-in detection during TTS playback")
	fs.StringVar(&cfg.BlackholeDevice, "blackhole-device", cfg.BlackholeDevice, "loopback reference device name")
	fs.Float64Var(&cfg.BargeInRatio, "barge-in-ratio", cfg.BargeInRatio, "reserved threshold ratio knob")
	fs.StringVar(&cfg.Voice, "voice", cfg.Voice, "TTS voice name")
	fs.StringVar(&cfg.WLKURL, "wlk-url", cfg.WLKURL, "recognizer websocket URL")
	fs.IntVar(&cfg.WLKPort, "wlk-port", cfg.WLKPort, "recognizer port (reserved; not read by the server)")
	fs.IntVar(&cfg.AudioServerPort, "audio-server-port", cfg.AudioServerPort, "HTTP API listen port")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envFloatOr(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envIntOr(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBoolOr(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
