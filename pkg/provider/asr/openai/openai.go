// Package openai provides a transcription engine backed by the OpenAI audio
// transcription API (whisper-1 and the gpt-4o transcribe models).
//
// The hosted API does not expose per-segment no-speech probabilities, so
// confidence filtering works on the average token log-probability alone:
// for models that support it, token logprobs are requested and the whole
// response is treated as one segment whose AvgLogprob must clear the
// configured cutoff.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/sentiric/stt-service/pkg/audio"
	"github.com/sentiric/stt-service/pkg/provider/asr"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = oai.AudioModelWhisper1

	defaultSampleRate        = 16000
	defaultLogprobThreshold  = -1.0
	defaultNoSpeechThreshold = 0.75
)

// Compile-time assertion that Provider implements asr.Transcriber.
var _ asr.Transcriber = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	baseURL           string
	sampleRate        int
	logprobThreshold  float64
	noSpeechThreshold float64
	timeout           time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for proxies
// and tests.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithSampleRate sets the sample rate in Hz at which float32 samples are
// re-encoded to WAV for upload. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(c *config) { c.sampleRate = rate }
}

// WithLogprobThreshold sets the default average-logprob cutoff. Defaults to
// -1.0.
func WithLogprobThreshold(v float64) Option {
	return func(c *config) { c.logprobThreshold = v }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Provider implements asr.Transcriber using the OpenAI audio API. Safe for
// concurrent use.
type Provider struct {
	client            oai.Client
	model             oai.AudioModel
	sampleRate        int
	logprobThreshold  float64
	noSpeechThreshold float64
}

// New constructs a Provider. apiKey must be non-empty; an empty model
// defaults to whisper-1.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{
		sampleRate:        defaultSampleRate,
		logprobThreshold:  defaultLogprobThreshold,
		noSpeechThreshold: defaultNoSpeechThreshold,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	m := oai.AudioModel(model)
	if m == "" {
		m = DefaultModel
	}

	return &Provider{
		client:            oai.NewClient(reqOpts...),
		model:             m,
		sampleRate:        cfg.sampleRate,
		logprobThreshold:  cfg.logprobThreshold,
		noSpeechThreshold: cfg.noSpeechThreshold,
	}, nil
}

// Close is a no-op; the underlying HTTP client needs no teardown.
func (p *Provider) Close() error { return nil }

// Transcribe encodes samples as WAV, submits them to the transcription
// endpoint, and applies the logprob side of the confidence filter when the
// model reports token logprobs.
func (p *Provider) Transcribe(ctx context.Context, samples []float32, opts asr.TranscribeOptions) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}

	wav := audio.EncodeWAV(float32ToPCM(samples), p.sampleRate, 1)

	// The API infers the codec from the multipart filename, so the upload
	// must carry one.
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: p.model,
	}
	if opts.Language != "" {
		params.Language = oai.String(opts.Language)
	}
	// whisper-1 rejects the logprobs include; the gpt-4o transcribe models
	// support it.
	if p.model != oai.AudioModelWhisper1 {
		params.Include = []oai.TranscriptionInclude{oai.TranscriptionIncludeLogprobs}
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: transcribe: %w", err)
	}

	segment := asr.Segment{
		Text:       resp.Text,
		AvgLogprob: avgLogprob(resp.Logprobs),
	}
	return asr.FilterSegments([]asr.Segment{segment},
		asr.Threshold(opts.LogprobThreshold, p.logprobThreshold),
		asr.Threshold(opts.NoSpeechThreshold, p.noSpeechThreshold),
	), nil
}

// avgLogprob averages the reported token logprobs. Responses without logprob
// data (whisper-1) get a neutral 0 so the filter keeps them.
func avgLogprob(logprobs []oai.TranscriptionLogprob) float64 {
	if len(logprobs) == 0 {
		return 0
	}
	var sum float64
	for _, lp := range logprobs {
		sum += lp.Logprob
	}
	return sum / float64(len(logprobs))
}

// float32ToPCM converts normalized float32 samples to 16-bit signed
// little-endian PCM, clamping out-of-range values.
func float32ToPCM(samples []float32) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s) * 32767.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		sample := int16(v)
		pcm[i*2] = byte(sample)
		pcm[i*2+1] = byte(uint16(sample) >> 8)
	}
	return pcm
}
