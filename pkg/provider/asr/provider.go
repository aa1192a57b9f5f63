// Package asr defines the Transcriber interface for speech-to-text backends
// and the confidence-filtering policy applied to their output.
//
// A transcription engine is treated as an opaque batch capability: normalized
// mono float32 samples plus an optional language hint go in, text comes out.
// Engines report their result as zero or more segments carrying confidence
// metadata; FilterSegments drops segments whose metadata indicates the engine
// was likely hallucinating on silence or noise, which is the policy that
// keeps fabricated text from reaching callers.
//
// Implementations must be safe for concurrent use: many streaming sessions
// share one engine instance and invoke Transcribe concurrently. Engines that
// cannot handle concurrent inference must serialize internally and document
// the throughput cost.
package asr

import (
	"context"
	"log/slog"
	"strings"
)

// Transcriber is the abstraction over any speech-to-text backend.
type Transcriber interface {
	// Transcribe converts normalized mono PCM samples (float32 in [-1, 1]) to
	// text. An empty opts.Language lets the engine auto-detect the language.
	// The returned text is the concatenation of segments that survive
	// confidence filtering, trimmed of surrounding whitespace; an empty
	// string means "nothing intelligible" and is not an error.
	Transcribe(ctx context.Context, samples []float32, opts TranscribeOptions) (string, error)

	// Close releases the engine's resources (model memory, connections).
	// Calling Close more than once is safe.
	Close() error
}

// TranscribeOptions carries per-call recognition hints and filter overrides.
type TranscribeOptions struct {
	// Language is a BCP-47-style language code ("en", "de", "tr"). Empty
	// means automatic detection where the engine supports it.
	Language string

	// LogprobThreshold overrides the engine's configured average-logprob
	// cutoff for segment filtering. Nil means use the configured default.
	LogprobThreshold *float64

	// NoSpeechThreshold overrides the engine's configured no-speech
	// probability cutoff. Nil means use the configured default.
	NoSpeechThreshold *float64
}

// Segment is one contiguous piece of engine output with its confidence
// metadata. Engines that do not report a given metric leave it at zero.
type Segment struct {
	// Text is the transcribed content of the segment.
	Text string

	// AvgLogprob is the average log-probability of the segment's tokens.
	// Values closer to 0 indicate higher confidence.
	AvgLogprob float64

	// NoSpeechProb is the engine's probability that the segment contains no
	// speech at all.
	NoSpeechProb float64
}

// FilterSegments applies the confidence policy: a segment is kept only if its
// average log-probability exceeds logprobThreshold AND its no-speech
// probability is below noSpeechThreshold. Rejected segments are logged with
// their content so that tuning sessions can see what was dropped. The result
// is the kept texts joined with spaces and trimmed; it may be empty.
func FilterSegments(segments []Segment, logprobThreshold, noSpeechThreshold float64) string {
	var parts []string
	for _, seg := range segments {
		if seg.AvgLogprob <= logprobThreshold || seg.NoSpeechProb >= noSpeechThreshold {
			slog.Debug("segment rejected by confidence filter",
				"text", strings.TrimSpace(seg.Text),
				"avg_logprob", seg.AvgLogprob,
				"no_speech_prob", seg.NoSpeechProb,
				"logprob_threshold", logprobThreshold,
				"no_speech_threshold", noSpeechThreshold,
			)
			continue
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// Threshold resolves an optional override against a configured default.
func Threshold(override *float64, fallback float64) float64 {
	if override != nil {
		return *override
	}
	return fallback
}
