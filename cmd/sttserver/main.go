// Command sttserver is the Sentiric speech-to-text server: a batch HTTP
// transcription endpoint and a WebSocket streaming endpoint in front of a
// pluggable transcription engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sentiric/stt-service/internal/config"
	"github.com/sentiric/stt-service/internal/engine"
	"github.com/sentiric/stt-service/internal/health"
	"github.com/sentiric/stt-service/internal/observe"
	"github.com/sentiric/stt-service/internal/server"
	"github.com/sentiric/stt-service/pkg/audio"
	"github.com/sentiric/stt-service/pkg/provider/asr"
	"github.com/sentiric/stt-service/pkg/provider/asr/openai"
	"github.com/sentiric/stt-service/pkg/provider/asr/whisper"
	"github.com/sentiric/stt-service/pkg/provider/vad"
	"github.com/sentiric/stt-service/pkg/provider/vad/energy"
)

// Set at build time via -ldflags "-X main.version=… -X main.commit=… -X main.buildDate=…".
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "sttserver: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sttserver: %v\n", err)
		}
		return 1
	}

	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("sttserver starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"engine", cfg.Engine.Name,
		"log_level", cfg.Server.LogLevel,
		"version", version,
		"commit", commit,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	reg := config.NewRegistry()
	registerBuiltinEngines(reg, cfg.Audio.TargetSampleRate)

	vadEngine, err := reg.CreateVAD(cfg.Stream.VADEngine)
	if err != nil {
		slog.Error("failed to create vad engine", "name", cfg.Stream.VADEngine, "err", err)
		return 1
	}

	// Model loading happens in the background; the server starts serving
	// immediately and answers 503 until the engine is ready.
	loader := engine.NewLoader(cfg.Engine.Name, func(ctx context.Context) (asr.Transcriber, error) {
		return reg.CreateASR(cfg.Engine)
	})
	loader.BeginLoad(ctx)
	defer func() {
		if err := loader.Close(); err != nil {
			slog.Warn("engine close error", "err", err)
		}
	}()

	healthHandler := health.New(
		health.BuildInfo{Version: version, Commit: commit, BuildDate: buildDate},
		func() health.EngineStatus {
			st := health.EngineStatus{
				Engine: loader.Name(),
				Model:  cfg.Engine.Model,
				State:  string(loader.State()),
			}
			if err := loader.Err(); err != nil {
				st.Err = err.Error()
			}
			return st
		},
	)

	normalizer := &audio.Normalizer{
		FFmpegPath:       cfg.Audio.FFmpegPath,
		TargetSampleRate: cfg.Audio.TargetSampleRate,
	}

	srv := server.New(cfg, loader, vadEngine, normalizer, metrics, healthHandler)

	// The watcher hot-applies the log level and stream tuning; engine changes
	// need a restart because the loaded model is immutable for the process
	// lifetime.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if !d.Changed() {
			return
		}
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if d.StreamTuningChanged {
			srv.SwapConfig(new)
			slog.Info("stream tuning updated; applies to new sessions")
		}
		if d.ThresholdsChanged {
			slog.Warn("engine thresholds changed on disk; restart to apply")
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinEngines wires the transcription and speech-detection
// factories that ship with the service.
func registerBuiltinEngines(reg *config.Registry, sampleRate int) {
	reg.RegisterASR("whisper", func(entry config.Engine) (asr.Transcriber, error) {
		opts := []whisper.Option{
			whisper.WithSampleRate(sampleRate),
			whisper.WithLogprobThreshold(entry.LogprobThreshold),
			whisper.WithNoSpeechThreshold(entry.NoSpeechThreshold),
		}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterASR("whisper-native", func(entry config.Engine) (asr.Transcriber, error) {
		return whisper.NewNative(entry.Model,
			whisper.WithNativeLogprobThreshold(entry.LogprobThreshold),
			whisper.WithNativeNoSpeechThreshold(entry.NoSpeechThreshold),
		)
	})

	reg.RegisterASR("openai", func(entry config.Engine) (asr.Transcriber, error) {
		opts := []openai.Option{
			openai.WithSampleRate(sampleRate),
			openai.WithLogprobThreshold(entry.LogprobThreshold),
		}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterVAD("energy", func() (vad.Engine, error) {
		return energy.New(), nil
	})
}

// newLogger builds the process logger. The returned LevelVar allows the log
// level to be changed at runtime.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(slogLevel(level))
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler), lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
