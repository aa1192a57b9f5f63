// Package vad defines the Engine interface for Voice Activity Detection
// backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. Each session maintains its own internal state
// (smoothing history, counters) so that multiple concurrent audio streams can
// be processed independently.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// detection result, making it suitable for the low-latency segmentation loop
// that gates transcription input.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle must not be shared across goroutines unless the
// implementation explicitly documents thread safety.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to ProcessFrame. Common values: 8000, 16000, 48000.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds. Frame
	// classification operates on fixed frame sizes (10, 20, or 30 ms);
	// ProcessFrame returns an error if the supplied frame does not match.
	FrameSizeMs int

	// Aggressiveness selects how eagerly frames are classified as non-speech,
	// on a 0–3 scale. 0 is the most permissive (quiet speech still counts),
	// 3 is the most aggressive (only clearly voiced frames count). Values
	// outside the range are clamped.
	Aggressiveness int
}

// Result is the classification of a single audio frame.
type Result struct {
	// IsSpeech reports whether the frame was classified as speech.
	IsSpeech bool

	// Probability is the speech probability score (0.0–1.0). Engines without
	// a probabilistic model report a monotone mapping of their internal
	// metric.
	Probability float64
}

// SessionHandle represents an active VAD session for a single audio stream.
// It is an interface so that test code can supply mock implementations
// without a live engine. Reset clears accumulated state without closing the
// session.
type SessionHandle interface {
	// ProcessFrame classifies a single frame of raw little-endian 16-bit PCM
	// at the SampleRate and FrameSizeMs configured when the session was
	// created. Returns an error if the frame size is wrong or the engine
	// encounters an internal failure.
	//
	// Designed to be called synchronously in the segmentation loop; it must
	// not block.
	ProcessFrame(frame []byte) (Result, error)

	// Reset clears all accumulated detection state without closing the
	// session. Use this when the audio stream is interrupted or restarted.
	Reset()

	// Close releases all resources associated with the session. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions, implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The
	// session is immediately ready to accept audio frames. Returns an error
	// if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
