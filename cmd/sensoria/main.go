// Command sensoria runs one perception process: a sense (hearing, vision,
// screen) or the voice output. The core orchestrator spawns one process per
// role, sends commands on stdin and reads signals from stdout; logs go to
// stderr so they never pollute the protocol stream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/sensoria/internal/capture"
	"github.com/MrWong99/sensoria/internal/config"
	"github.com/MrWong99/sensoria/internal/observe"
	"github.com/MrWong99/sensoria/internal/output/voice"
	"github.com/MrWong99/sensoria/internal/sense"
	"github.com/MrWong99/sensoria/internal/sense/hearing"
	"github.com/MrWong99/sensoria/internal/sense/screen"
	"github.com/MrWong99/sensoria/internal/sense/vision"
	"github.com/MrWong99/sensoria/pkg/audio/playback"
	"github.com/MrWong99/sensoria/pkg/provider/score"
	"github.com/MrWong99/sensoria/pkg/provider/score/energy"
	"github.com/MrWong99/sensoria/pkg/provider/stt"
	oaistt "github.com/MrWong99/sensoria/pkg/provider/stt/openai"
	"github.com/MrWong99/sensoria/pkg/provider/tts"
	oaitts "github.com/MrWong99/sensoria/pkg/provider/tts/openai"
	"github.com/MrWong99/sensoria/pkg/provider/vlm"
	oaivlm "github.com/MrWong99/sensoria/pkg/provider/vlm/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	roleFlag := flag.String("role", "", "process role: hearing, vision, screen or voice")
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	role := config.Role(*roleFlag)
	if !role.IsValid() {
		fmt.Fprintf(os.Stderr, "sensoria: invalid -role %q (want hearing, vision, screen or voice)\n", *roleFlag)
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "sensoria: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sensoria: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Process.LogLevel).With("role", string(role)))
	slog.Info("sensoria starting", "config", *configPath, "log_level", cfg.Process.LogLevel)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "sensoria-" + string(role),
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	if cfg.Process.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.Process.MetricsAddr)
	}

	// ── Build and run the role's handler ──────────────────────────────────────
	handler, err := buildHandler(role, cfg)
	if err != nil {
		slog.Error("failed to build process", "err", err)
		return 1
	}

	if err := sense.NewRunner(handler, os.Stdin, os.Stdout).Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Handler wiring ────────────────────────────────────────────────────────────

// buildHandler constructs the sense or output implementation for one role.
func buildHandler(role config.Role, cfg *config.Config) (sense.Handler, error) {
	switch role {
	case config.RoleHearing:
		transcriber, err := buildSTT(cfg.Providers.STT)
		if err != nil {
			return nil, err
		}
		var micOpts []capture.MicOption
		if len(cfg.Hearing.CaptureCommand) > 0 {
			micOpts = append(micOpts, capture.WithMicCommand(cfg.Hearing.CaptureCommand))
		}
		if cfg.Hearing.SampleRate > 0 {
			micOpts = append(micOpts, capture.WithMicSampleRate(cfg.Hearing.SampleRate))
		}
		if cfg.Hearing.ChunkMS > 0 {
			micOpts = append(micOpts, capture.WithMicChunkMS(cfg.Hearing.ChunkMS))
		}
		return hearing.New(cfg.Hearing, capture.NewMic(micOpts...), buildScorer(cfg.Hearing.Scorer), transcriber), nil

	case config.RoleVision:
		describer, err := buildVLM(cfg.Providers.VLM)
		if err != nil {
			return nil, err
		}
		frames, err := buildFrames(cfg.Vision, capture.CameraCommand)
		if err != nil {
			return nil, err
		}
		return vision.New(cfg.Vision, frames, describer), nil

	case config.RoleScreen:
		describer, err := buildVLM(cfg.Providers.VLM)
		if err != nil {
			return nil, err
		}
		frames, err := buildFrames(cfg.Screen, capture.ScreenCommand)
		if err != nil {
			return nil, err
		}
		return screen.New(cfg.Screen, frames, describer), nil

	case config.RoleVoice:
		synth, err := buildTTS(cfg.Providers.TTS)
		if err != nil {
			return nil, err
		}
		var playerOpts []playback.ProcessOption
		if len(cfg.Voice.PlayerCommand) > 0 {
			playerOpts = append(playerOpts, playback.WithCommand(cfg.Voice.PlayerCommand))
		}
		return voice.New(cfg.Voice, synth, playback.NewProcessPlayer(playerOpts...)), nil
	}
	return nil, fmt.Errorf("sensoria: unsupported role %q", role)
}

// buildFrames picks the configured grabber command or the stock one at the
// configured frame rate.
func buildFrames(cfg config.VisionConfig, stock func(fps float64) []string) (*capture.Frames, error) {
	command := cfg.CaptureCommand
	if len(command) == 0 {
		intervalMS := cfg.CaptureIntervalMS
		if intervalMS <= 0 {
			intervalMS = 1000
		}
		command = stock(1000 / float64(intervalMS))
	}
	return capture.NewFrames(command)
}

// buildScorer returns the configured speech-probability backend. The energy
// scorer is the default; it needs no model runtime.
func buildScorer(cfg config.ScorerConfig) score.Scorer {
	var opts []energy.Option
	if cfg.NoiseFloor > 0 {
		opts = append(opts, energy.WithNoiseFloor(cfg.NoiseFloor))
	}
	if cfg.Steepness > 0 {
		opts = append(opts, energy.WithSteepness(cfg.Steepness))
	}
	return energy.New(opts...)
}

func buildSTT(entry config.ProviderConfig) (stt.Transcriber, error) {
	switch entry.Name {
	case "", "openai":
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if entry.Language != "" {
			opts = append(opts, oaistt.WithLanguage(entry.Language))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	}
	return nil, fmt.Errorf("sensoria: unknown stt provider %q", entry.Name)
}

func buildTTS(entry config.ProviderConfig) (tts.Synthesizer, error) {
	switch entry.Name {
	case "", "openai":
		var opts []oaitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		if entry.Voice != "" {
			opts = append(opts, oaitts.WithVoice(entry.Voice))
		}
		return oaitts.New(entry.APIKey, entry.Model, opts...)
	}
	return nil, fmt.Errorf("sensoria: unknown tts provider %q", entry.Name)
}

func buildVLM(entry config.ProviderConfig) (vlm.Describer, error) {
	switch entry.Name {
	case "", "openai":
		var opts []oaivlm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaivlm.WithBaseURL(entry.BaseURL))
		}
		if entry.Prompt != "" {
			opts = append(opts, oaivlm.WithPrompt(entry.Prompt))
		}
		return oaivlm.New(entry.APIKey, entry.Model, opts...)
	}
	return nil, fmt.Errorf("sensoria: unknown vlm provider %q", entry.Name)
}

// ── Metrics endpoint ──────────────────────────────────────────────────────────

// serveMetrics exposes the Prometheus bridge on /metrics until ctx ends.
func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Warn("metrics endpoint failed", "err", err)
	}
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
