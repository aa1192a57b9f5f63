// Package energy provides an RMS-energy Voice Activity Detection engine.
//
// Each frame's root-mean-square energy (in 16-bit PCM units) is compared
// against a threshold selected by the session's aggressiveness level, with
// light exponential smoothing so that single-frame clicks do not flip the
// classification. This is deliberately simple: it is the capability the
// segmentation loop consumes, not a production-grade model.
package energy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sentiric/stt-service/pkg/audio"
	"github.com/sentiric/stt-service/pkg/provider/vad"
)

// thresholds maps aggressiveness 0–3 to the RMS level above which a frame is
// classified as speech. The 16-bit full-scale magnitude is 32 767; 200–1000
// spans "very faint" to "clearly voiced".
var thresholds = [4]float64{200, 300, 550, 1000}

// smoothing is the exponential smoothing factor applied to the per-frame RMS
// before thresholding. Matches the light smoothing used for window-level
// voice probability in similar detectors.
const smoothing = 0.3

// Compile-time assertion that Engine implements vad.Engine.
var _ vad.Engine = (*Engine)(nil)

// Engine creates energy-VAD sessions. The zero value is ready to use.
type Engine struct{}

// New returns a ready-to-use energy VAD engine.
func New() *Engine {
	return &Engine{}
}

// NewSession creates a session for a single audio stream. The aggressiveness
// in cfg is clamped to [0, 3].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: sample rate %d is invalid", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy: frame size %dms is invalid", cfg.FrameSizeMs)
	}

	agg := cfg.Aggressiveness
	if agg < 0 {
		agg = 0
	}
	if agg > 3 {
		agg = 3
	}

	return &session{
		frameBytes: audio.FrameBytes(cfg.SampleRate, cfg.FrameSizeMs),
		threshold:  thresholds[agg],
	}, nil
}

// session holds the per-stream smoothing state. Not safe for concurrent use;
// the segmentation loop drives it from a single goroutine.
type session struct {
	frameBytes int
	threshold  float64

	mu       sync.Mutex
	closed   bool
	seen     bool
	smoothed float64
}

var _ vad.SessionHandle = (*session)(nil)

// ProcessFrame classifies one frame by smoothed RMS energy.
func (s *session) ProcessFrame(frame []byte) (vad.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return vad.Result{}, errors.New("energy: session is closed")
	}
	if len(frame) != s.frameBytes {
		return vad.Result{}, fmt.Errorf("energy: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	rms := audio.RMS(frame)
	if !s.seen {
		s.smoothed = rms
		s.seen = true
	} else {
		s.smoothed = smoothing*rms + (1-smoothing)*s.smoothed
	}

	// Map smoothed RMS onto a pseudo-probability: 0.5 exactly at threshold,
	// saturating at 1.0 for double the threshold.
	p := s.smoothed / (2 * s.threshold)
	if p > 1 {
		p = 1
	}

	return vad.Result{
		IsSpeech:    s.smoothed >= s.threshold,
		Probability: p,
	}, nil
}

// Reset clears the smoothing history.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = false
	s.smoothed = 0
}

// Close marks the session closed. Further ProcessFrame calls return an error.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
