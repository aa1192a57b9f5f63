package config_test

import (
	"strings"
	"testing"

	"github.com/sentiric/stt-service/internal/config"
)

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader() error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.Engine.Name != "whisper" {
		t.Errorf("Engine.Name = %q, want %q", cfg.Engine.Name, "whisper")
	}
	if cfg.Engine.LogprobThreshold != -1.0 {
		t.Errorf("LogprobThreshold = %v, want -1.0", cfg.Engine.LogprobThreshold)
	}
	if cfg.Engine.NoSpeechThreshold != 0.75 {
		t.Errorf("NoSpeechThreshold = %v, want 0.75", cfg.Engine.NoSpeechThreshold)
	}
	if cfg.Stream.Mode != config.StreamModeVAD {
		t.Errorf("Stream.Mode = %q, want vad", cfg.Stream.Mode)
	}
	if cfg.Stream.EndOfSpeechMs != 700 {
		t.Errorf("EndOfSpeechMs = %d, want 700", cfg.Stream.EndOfSpeechMs)
	}
	if cfg.Audio.TargetSampleRate != 16000 {
		t.Errorf("TargetSampleRate = %d, want 16000", cfg.Audio.TargetSampleRate)
	}
}

func TestLoadFromReader_OverridesDefaults(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":9000"
  log_level: debug
engine:
  name: openai
  api_key: sk-test
  model: gpt-4o-transcribe
stream:
  mode: fixed
  chunk_ms: 2000
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader() error: %v", err)
	}
	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("ListenAddr = %q, want :9000", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("LogLevel = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Engine.Name != "openai" {
		t.Errorf("Engine.Name = %q, want openai", cfg.Engine.Name)
	}
	if cfg.Stream.Mode != config.StreamModeFixed {
		t.Errorf("Stream.Mode = %q, want fixed", cfg.Stream.Mode)
	}
	if cfg.Stream.ChunkMs != 2000 {
		t.Errorf("ChunkMs = %d, want 2000", cfg.Stream.ChunkMs)
	}
	// Untouched sections keep their defaults.
	if cfg.Stream.FrameMs != 30 {
		t.Errorf("FrameMs = %d, want default 30", cfg.Stream.FrameMs)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listne_addr: ':8080'\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *config.Config) {},
		},
		{
			name:    "missing listen addr",
			mutate:  func(c *config.Config) { c.Server.ListenAddr = "" },
			wantErr: "server.listen_addr",
		},
		{
			name:    "bad log level",
			mutate:  func(c *config.Config) { c.Server.LogLevel = "loud" },
			wantErr: "server.log_level",
		},
		{
			name:    "unknown engine",
			mutate:  func(c *config.Config) { c.Engine.Name = "vosk" },
			wantErr: "engine.name",
		},
		{
			name:    "no speech threshold out of range",
			mutate:  func(c *config.Config) { c.Engine.NoSpeechThreshold = 1.5 },
			wantErr: "engine.no_speech_threshold",
		},
		{
			name:    "bad frame size",
			mutate:  func(c *config.Config) { c.Stream.FrameMs = 25 },
			wantErr: "stream.frame_ms",
		},
		{
			name:    "aggressiveness out of range",
			mutate:  func(c *config.Config) { c.Stream.VADAggressiveness = 4 },
			wantErr: "stream.vad_aggressiveness",
		},
		{
			name:    "tls missing key file",
			mutate:  func(c *config.Config) { c.Server.TLS = &config.TLS{CertFile: "cert.pem"} },
			wantErr: "server.tls",
		},
		{
			name: "fixed mode without chunk size",
			mutate: func(c *config.Config) {
				c.Stream.Mode = config.StreamModeFixed
				c.Stream.ChunkMs = 0
			},
			wantErr: "stream.chunk_ms",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Defaults()
			tt.mutate(cfg)
			err := config.Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_JoinsMultipleErrors(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()
	cfg.Server.ListenAddr = ""
	cfg.Engine.Name = "nope"
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	msg := err.Error()
	if !strings.Contains(msg, "server.listen_addr") || !strings.Contains(msg, "engine.name") {
		t.Errorf("joined error missing one of the failures: %q", msg)
	}
}
