// Package mock provides a test double for the asr.Transcriber interface.
//
// Transcriber records every Transcribe call (a copy of the samples and the
// options) and returns scripted text or errors, so tests can assert both
// "the engine was invoked with this audio" and "the engine was never
// invoked".
package mock

import (
	"context"
	"sync"

	"github.com/sentiric/stt-service/pkg/provider/asr"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Samples is a copy of the float32 samples passed in.
	Samples []float32

	// Opts is the TranscribeOptions passed in.
	Opts asr.TranscribeOptions
}

// Transcriber is a mock implementation of asr.Transcriber.
//
// Each Transcribe call consumes the next entry of Texts; once exhausted the
// last entry repeats (or "" if Texts is empty).
type Transcriber struct {
	mu sync.Mutex

	// Texts scripts the sequence of results returned by Transcribe.
	Texts []string

	// TranscribeErr, if non-nil, is returned by every Transcribe call.
	TranscribeErr error

	// TranscribeDelay is an optional function invoked inside Transcribe
	// before returning, for simulating slow engines. May be nil.
	TranscribeDelay func(ctx context.Context)

	// TranscribeCalls records every call in order.
	TranscribeCalls []TranscribeCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Transcribe records the call and returns the next scripted text.
func (t *Transcriber) Transcribe(ctx context.Context, samples []float32, opts asr.TranscribeOptions) (string, error) {
	t.mu.Lock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	t.TranscribeCalls = append(t.TranscribeCalls, TranscribeCall{Samples: cp, Opts: opts})
	idx := len(t.TranscribeCalls) - 1
	err := t.TranscribeErr
	delay := t.TranscribeDelay

	var text string
	if len(t.Texts) > 0 {
		if idx >= len(t.Texts) {
			idx = len(t.Texts) - 1
		}
		text = t.Texts[idx]
	}
	t.mu.Unlock()

	if delay != nil {
		delay(ctx)
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// Close records the call and returns nil.
func (t *Transcriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CloseCallCount++
	return nil
}

// CallCount returns the number of Transcribe invocations so far. Thread-safe.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.TranscribeCalls)
}

// Ensure Transcriber implements asr.Transcriber at compile time.
var _ asr.Transcriber = (*Transcriber)(nil)
