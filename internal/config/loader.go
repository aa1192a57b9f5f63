package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidEngineNames lists known engine names. Used by [Validate] to reject
// unrecognised engine selections at startup instead of at load time.
var ValidEngineNames = []string{"whisper", "whisper-native", "openai"}

// Defaults returns a Config populated with the service defaults. Load applies
// these before decoding so that an empty file yields a working configuration.
func Defaults() *Config {
	return &Config{
		Server: Server{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Engine: Engine{
			Name:              "whisper",
			LogprobThreshold:  -1.0,
			NoSpeechThreshold: 0.75,
		},
		Audio: Audio{
			TargetSampleRate: 16000,
		},
		Stream: Stream{
			Mode:               StreamModeVAD,
			VADEngine:          "energy",
			FrameMs:            30,
			VADAggressiveness:  3,
			EndOfSpeechMs:      700,
			MinSpeechMs:        250,
			PaddingMs:          300,
			NoSpeechTimeoutSec: 10,
			ChunkMs:            1500,
			MinChunkMs:         500,
		},
	}
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Defaults] and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Engine selection is validated strictly: a typo here means the service
	// would come up permanently unready.
	if cfg.Engine.Name == "" {
		errs = append(errs, errors.New("engine.name is required"))
	} else if !slices.Contains(ValidEngineNames, cfg.Engine.Name) {
		errs = append(errs, fmt.Errorf("engine.name %q is invalid; valid values: %v", cfg.Engine.Name, ValidEngineNames))
	}
	if cfg.Engine.NoSpeechThreshold < 0 || cfg.Engine.NoSpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("engine.no_speech_threshold %.2f is out of range [0, 1]", cfg.Engine.NoSpeechThreshold))
	}

	// Audio
	if cfg.Audio.TargetSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.target_sample_rate %d must be positive", cfg.Audio.TargetSampleRate))
	}

	// Stream
	if cfg.Stream.Mode != "" && !cfg.Stream.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("stream.mode %q is invalid; valid values: vad, fixed", cfg.Stream.Mode))
	}
	switch cfg.Stream.FrameMs {
	case 10, 20, 30:
	default:
		errs = append(errs, fmt.Errorf("stream.frame_ms %d is invalid; valid values: 10, 20, 30", cfg.Stream.FrameMs))
	}
	if cfg.Stream.VADAggressiveness < 0 || cfg.Stream.VADAggressiveness > 3 {
		errs = append(errs, fmt.Errorf("stream.vad_aggressiveness %d is out of range [0, 3]", cfg.Stream.VADAggressiveness))
	}
	if cfg.Stream.EndOfSpeechMs <= 0 {
		errs = append(errs, fmt.Errorf("stream.end_of_speech_ms %d must be positive", cfg.Stream.EndOfSpeechMs))
	}
	if cfg.Stream.MinSpeechMs < 0 {
		errs = append(errs, fmt.Errorf("stream.min_speech_ms %d must not be negative", cfg.Stream.MinSpeechMs))
	}
	if cfg.Stream.NoSpeechTimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("stream.no_speech_timeout_sec %d must be positive", cfg.Stream.NoSpeechTimeoutSec))
	}
	if cfg.Stream.Mode == StreamModeFixed && cfg.Stream.ChunkMs <= 0 {
		errs = append(errs, fmt.Errorf("stream.chunk_ms %d must be positive in fixed mode", cfg.Stream.ChunkMs))
	}

	return errors.Join(errs...)
}
