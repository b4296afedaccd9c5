// Command audioserver wires the capture pipeline's components
// together and exposes them over the loopback HTTP API: config,
// logging, device streams, the echo canceller, the TTS controller,
// the recognizer client, the session state machine, and the
// coordinator that serializes speak/listen/queue_listen.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cpoepke/claude-talk-audio/internal/aec"
	"github.com/cpoepke/claude-talk-audio/internal/config"
	"github.com/cpoepke/claude-talk-audio/internal/coordinator"
	"github.com/cpoepke/claude-talk-audio/internal/device"
	"github.com/cpoepke/claude-talk-audio/internal/httpapi"
	"github.com/cpoepke/claude-talk-audio/internal/logging"
	"github.com/cpoepke/claude-talk-audio/internal/recognizer"
	"github.com/cpoepke/claude-talk-audio/internal/session"
	"github.com/cpoepke/claude-talk-audio/internal/statefile"
	"github.com/cpoepke/claude-talk-audio/internal/tts"
)

func main() {
	cfg, err := config.Load(flag.NewFlagSet("audioserver", flag.ExitOnError), os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{
		Dir:     os.Getenv("AUDIO_SERVER_LOG_DIR"),
		Level:   envOr("AUDIO_SERVER_LOG_LEVEL", "info"),
		Console: true,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}

	audioCtx, err := device.NewContext(logger)
	if err != nil {
		logger.Error("main", "failed to initialize audio context", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer audioCtx.Close()

	voice := cfg.Voice
	ttsBinary := envOr("TTS_BINARY", "say")
	statePath := envOr("AUDIO_SERVER_STATE_FILE", "/tmp/audio-server-state.txt")

	// coord is assigned below, after coordinator.New; capture needs it
	// to feed RecordMetrics after each session, so it's declared first
	// and closed over by reference.
	var coord *coordinator.Coordinator

	capture := func(ctx context.Context, ttsText string, spawnTTS bool) session.Result {
		micStream, err := audioCtx.OpenMic(cfg.AudioDevice, cfg.MicGain)
		if err != nil {
			logger.Error("main", session.ErrDeviceOpenFailed.Error(), map[string]any{"error": err.Error()})
			return session.Result{}
		}
		defer micStream.Close()

		var refStream *device.Stream
		var aecState *aec.State
		if cfg.BlackholeDevice != "" {
			refStream, err = audioCtx.OpenReference(cfg.BlackholeDevice)
			if err != nil {
				logger.Warn("main", "reference device open failed, continuing without AEC", map[string]any{"error": err.Error()})
			} else {
				defer refStream.Close()
				aecState, err = aec.NewDefault(logger)
				if err != nil {
					logger.Warn("main", "AEC init failed, continuing without echo cancellation", map[string]any{"error": err.Error()})
					aecState = nil
				} else {
					defer aecState.Close()
				}
			}
		}

		rc, err := recognizer.Dial(ctx, cfg.WLKURL, logger)
		if err != nil {
			logger.Error("main", session.ErrRecognizerUnreachable.Error(), map[string]any{"error": err.Error()})
			return session.Result{RecognizerUnreachable: true}
		}

		var ttsHandle session.TTSHandle
		if spawnTTS {
			ctrl := tts.NewController(ttsBinary, logger)
			if err := ctrl.Speak(voice, ttsText); err != nil {
				logger.Warn("main", session.ErrTTSSpawnFailed.Error(), map[string]any{"error": err.Error()})
				_ = rc.Close()
				return session.Result{}
			} else {
				ttsHandle = ctrl
			}
		}

		deps := session.Deps{
			MicRing: micStream.Ring(),
			TTS:     ttsHandle,
			TTSText: ttsText,
			Logger:  logger,
		}
		if refStream != nil {
			deps.RefRing = refStream.Ring()
		}
		if aecState != nil {
			deps.AEC = aecState
		}
		deps.Recognizer = rc

		sess := session.New(deps, sessionConfig(cfg))
		res := sess.Run(ctx)
		_ = rc.Close()

		var aecFailures uint64
		if aecState != nil {
			aecFailures = aecState.Failures.Load()
		}
		var refOverflows uint64
		if refStream != nil {
			refOverflows = refStream.Ring().Overflows.Load()
		}
		coord.RecordMetrics(micStream.Ring().Overflows.Load(), refOverflows, aecFailures)

		return res
	}

	speak := func(ctx context.Context, text string) error {
		ctrl := tts.NewController(ttsBinary, logger)
		return ctrl.Speak(voice, text)
	}

	setVoice := func(v string) { voice = v }
	listDevices := func() ([]device.Info, error) { return audioCtx.ListCaptureDevices() }

	coord = coordinator.New(capture, speak, logger)

	_ = statefile.Write(statePath, statefile.State{
		statefile.KeyStatus: "idle",
		statefile.KeyMuted:  "false",
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.AudioServerPort)
	server := httpapi.New(addr, coord, listDevices, setVoice, logger)

	go func() {
		logger.Info("main", "http api listening", map[string]any{"addr": addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("main", "http server error", map[string]any{"error": err.Error()})
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("main", "shutting down", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
}

func sessionConfig(cfg config.Config) session.Config {
	sc := session.DefaultConfig()
	sc.SilenceTimeout = time.Duration(cfg.SilenceSecs * float64(time.Second))
	sc.BargeInEnabled = cfg.BargeIn
	return sc
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
