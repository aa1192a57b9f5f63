// Package whisper provides whisper.cpp-backed transcription engines.
//
// Two variants are available:
//
//   - Provider connects to a running whisper-server binary (REST API at
//     POST /inference) and submits each utterance as a batch inference
//     request with a verbose JSON response, so that per-segment confidence
//     metadata (avg_logprob, no_speech_prob) is available for filtering.
//   - NativeProvider (native.go) links whisper.cpp directly via the CGO
//     bindings, eliminating HTTP overhead entirely.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080",
//	    whisper.WithModel("base.en"),
//	    whisper.WithLogprobThreshold(-1.0),
//	)
//	text, err := p.Transcribe(ctx, samples, asr.TranscribeOptions{Language: "en"})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/sentiric/stt-service/pkg/audio"
	"github.com/sentiric/stt-service/pkg/provider/asr"
)

const (
	defaultSampleRate        = 16000
	defaultLogprobThreshold  = -1.0
	defaultNoSpeechThreshold = 0.75
)

// Compile-time assertion that Provider implements asr.Transcriber.
var _ asr.Transcriber = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with — this is the default.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithSampleRate sets the sample rate in Hz at which float32 samples are
// re-encoded to WAV for upload. Must match the rate the samples were captured
// at. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithLogprobThreshold sets the default average-logprob cutoff below which a
// segment is discarded. Defaults to -1.0.
func WithLogprobThreshold(v float64) Option {
	return func(p *Provider) { p.logprobThreshold = v }
}

// WithNoSpeechThreshold sets the default no-speech probability cutoff above
// which a segment is discarded. Defaults to 0.75.
func WithNoSpeechThreshold(v float64) Option {
	return func(p *Provider) { p.noSpeechThreshold = v }
}

// WithHTTPClient replaces the HTTP client used for inference requests.
// Useful for tests and for tuning timeouts.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements asr.Transcriber backed by a whisper.cpp HTTP server.
// It is safe for concurrent use; each Transcribe call is an independent HTTP
// request.
type Provider struct {
	serverURL         string
	model             string
	sampleRate        int
	logprobThreshold  float64
	noSpeechThreshold float64
	httpClient        *http.Client
}

// New creates a Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:         serverURL,
		sampleRate:        defaultSampleRate,
		logprobThreshold:  defaultLogprobThreshold,
		noSpeechThreshold: defaultNoSpeechThreshold,
		httpClient:        &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close is a no-op for the HTTP provider; connections are managed by the
// HTTP client's transport.
func (p *Provider) Close() error { return nil }

// inferenceResponse is the verbose JSON structure returned by the
// whisper.cpp server, mirroring the OpenAI verbose_json transcription shape.
type inferenceResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Text         string  `json:"text"`
		AvgLogprob   float64 `json:"avg_logprob"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
}

// Transcribe encodes samples as a 16-bit PCM WAV, POSTs it to the server's
// /inference endpoint, and returns the confidence-filtered concatenation of
// the response segments.
func (p *Provider) Transcribe(ctx context.Context, samples []float32, opts asr.TranscribeOptions) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}

	wav := audio.EncodeWAV(float32ToPCM(samples), p.sampleRate, 1)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}

	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return "", fmt.Errorf("whisper: write response_format field: %w", err)
	}
	if opts.Language != "" {
		if err := mw.WriteField("language", opts.Language); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result inferenceResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	// Servers without verbose segment support return just the text; treat it
	// as one segment with neutral confidence so the result still flows.
	if len(result.Segments) == 0 {
		return strings.TrimSpace(result.Text), nil
	}

	segments := make([]asr.Segment, len(result.Segments))
	for i, s := range result.Segments {
		segments[i] = asr.Segment{
			Text:         s.Text,
			AvgLogprob:   s.AvgLogprob,
			NoSpeechProb: s.NoSpeechProb,
		}
	}

	return asr.FilterSegments(segments,
		asr.Threshold(opts.LogprobThreshold, p.logprobThreshold),
		asr.Threshold(opts.NoSpeechThreshold, p.noSpeechThreshold),
	), nil
}

// float32ToPCM converts normalized float32 samples back to 16-bit signed
// little-endian PCM, clamping out-of-range values.
func float32ToPCM(samples []float32) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * 32767.0)
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
