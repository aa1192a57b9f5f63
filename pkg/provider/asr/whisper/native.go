// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/sentiric/stt-service/pkg/provider/asr"
)

// Compile-time assertion that NativeProvider satisfies asr.Transcriber.
var _ asr.Transcriber = (*NativeProvider)(nil)

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLogprobThreshold sets the default average-logprob cutoff below
// which a segment is discarded. Defaults to -1.0.
func WithNativeLogprobThreshold(v float64) NativeOption {
	return func(p *NativeProvider) { p.logprobThreshold = v }
}

// WithNativeNoSpeechThreshold sets the default no-speech probability cutoff
// above which a segment is discarded. Defaults to 0.75.
func WithNativeNoSpeechThreshold(v float64) NativeOption {
	return func(p *NativeProvider) { p.noSpeechThreshold = v }
}

// NativeProvider implements asr.Transcriber using whisper.cpp Go bindings
// (CGO). The model is loaded once and shared across all sessions; each
// Transcribe call creates its own whisper context, so concurrent calls do
// not interfere.
type NativeProvider struct {
	model             whisperlib.Model
	logprobThreshold  float64
	noSpeechThreshold float64

	closeOnce sync.Once
	closeErr  error
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. Loading a large model can take from seconds to
// minutes; callers are expected to run NewNative through the engine loader
// so requests are gated on readiness rather than blocked.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:             model,
		logprobThreshold:  defaultLogprobThreshold,
		noSpeechThreshold: defaultNoSpeechThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model. Calling Close more than once is safe.
func (p *NativeProvider) Close() error {
	p.closeOnce.Do(func() {
		if p.model != nil {
			p.closeErr = p.model.Close()
		}
	})
	return p.closeErr
}

// Transcribe runs whisper.cpp inference on the samples and returns the
// confidence-filtered concatenation of the resulting segments.
//
// The bindings do not surface a per-segment no-speech probability, so only
// the average-logprob side of the filter applies; the logprob is derived
// from the token probabilities the bindings do report.
func (p *NativeProvider) Transcribe(ctx context.Context, samples []float32, opts asr.TranscribeOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: context cancelled: %w", err)
	}
	if len(samples) == 0 {
		return "", nil
	}

	// Each whisper context is single-use and NOT thread-safe, but the model
	// can be shared across goroutines.
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if opts.Language != "" {
		if err := wctx.SetLanguage(opts.Language); err != nil {
			slog.Warn("whisper: failed to set language, engine will auto-detect",
				"language", opts.Language, "err", err)
		}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var segments []asr.Segment
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		segments = append(segments, asr.Segment{
			Text:       segment.Text,
			AvgLogprob: avgTokenLogprob(segment.Tokens),
		})
	}

	return asr.FilterSegments(segments,
		asr.Threshold(opts.LogprobThreshold, p.logprobThreshold),
		asr.Threshold(opts.NoSpeechThreshold, p.noSpeechThreshold),
	), nil
}

// avgTokenLogprob computes the mean natural-log probability across a
// segment's tokens. Segments with no token data get a neutral 0 so the
// filter keeps them.
func avgTokenLogprob(tokens []whisperlib.Token) float64 {
	if len(tokens) == 0 {
		return 0
	}
	var sum float64
	for _, tok := range tokens {
		p := float64(tok.P)
		if p < 1e-10 {
			p = 1e-10
		}
		sum += math.Log(p)
	}
	return sum / float64(len(tokens))
}
