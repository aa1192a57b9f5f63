// Package config provides the configuration schema, loader, and engine
// registry for the speech-to-text service.
package config

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// StreamMode selects how the streaming endpoint segments incoming audio.
type StreamMode string

const (
	// StreamModeVAD segments utterances by voice activity: speech onset and
	// trailing-silence offset detection.
	StreamModeVAD StreamMode = "vad"

	// StreamModeFixed slices audio into fixed-duration chunks without any
	// speech detection. Simpler and more predictable, at the cost of
	// splitting words at chunk boundaries.
	StreamModeFixed StreamMode = "fixed"
)

// IsValid reports whether m is a recognised stream mode.
func (m StreamMode) IsValid() bool {
	return m == StreamModeVAD || m == StreamModeFixed
}

// Config is the root configuration structure for the service.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server Server `yaml:"server"`
	Engine Engine `yaml:"engine"`
	Audio  Audio  `yaml:"audio"`
	Stream Stream `yaml:"stream"`
}

// Server holds network and logging settings.
type Server struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLS `yaml:"tls"`
}

// TLS holds TLS certificate paths for enabling HTTPS.
type TLS struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// Engine selects and configures the transcription engine. The Name field is
// used to look up the constructor in the [Registry].
type Engine struct {
	// Name selects the registered engine implementation
	// ("whisper", "whisper-native", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for hosted engines.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the engine's default endpoint (whisper.cpp server
	// address, API proxy). Leave empty for the engine's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the engine (file path for whisper-native,
	// model name otherwise).
	Model string `yaml:"model"`

	// LogprobThreshold is the default average-logprob cutoff for segment
	// confidence filtering. Segments at or below it are dropped.
	LogprobThreshold float64 `yaml:"logprob_threshold"`

	// NoSpeechThreshold is the default no-speech probability cutoff.
	// Segments at or above it are dropped.
	NoSpeechThreshold float64 `yaml:"no_speech_threshold"`

	// Options holds engine-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// Audio configures the normalization filter applied to batch uploads.
type Audio struct {
	// TargetSampleRate is the sample rate in Hz the service operates at.
	// Uploaded and streamed audio must be (or is converted to) mono 16-bit
	// PCM at this rate.
	TargetSampleRate int `yaml:"target_sample_rate"`

	// FFmpegPath is the ffmpeg binary used for format normalization.
	// Empty means "ffmpeg" from PATH.
	FFmpegPath string `yaml:"ffmpeg_path"`
}

// Stream configures the streaming audio processor. All durations are
// tunables, not fixed requirements; the defaults come from telephony-style
// tuning.
type Stream struct {
	// Mode selects VAD-based or fixed-chunk segmentation. Default: vad.
	Mode StreamMode `yaml:"mode"`

	// VADEngine selects the registered speech-detection implementation.
	// Default: energy.
	VADEngine string `yaml:"vad_engine"`

	// FrameMs is the VAD frame duration in milliseconds (10, 20, or 30).
	FrameMs int `yaml:"frame_ms"`

	// VADAggressiveness is the default speech-detection aggressiveness
	// (0–3, 3 strictest) when the client does not override it.
	VADAggressiveness int `yaml:"vad_aggressiveness"`

	// EndOfSpeechMs is the trailing silence that closes an utterance.
	EndOfSpeechMs int `yaml:"end_of_speech_ms"`

	// MinSpeechMs is the minimum utterance duration; shorter segments are
	// discarded as noise and never transcribed.
	MinSpeechMs int `yaml:"min_speech_ms"`

	// PaddingMs sizes the onset-lookback window flushed into the utterance
	// when speech starts, so the first syllable is not clipped.
	PaddingMs int `yaml:"padding_ms"`

	// NoSpeechTimeoutSec is how long a silent session waits before emitting
	// a no_speech_timeout liveness event.
	NoSpeechTimeoutSec int `yaml:"no_speech_timeout_sec"`

	// ChunkMs is the fixed-chunk duration for StreamModeFixed.
	ChunkMs int `yaml:"chunk_ms"`

	// MinChunkMs is the minimum trailing remainder transcribed at stream end
	// in StreamModeFixed.
	MinChunkMs int `yaml:"min_chunk_ms"`
}
