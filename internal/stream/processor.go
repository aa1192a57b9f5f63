// Package stream implements the per-session audio processor that turns a raw
// PCM byte stream into transcription events.
//
// In the default VAD mode the processor aligns incoming bytes into fixed-size
// frames, classifies each frame with a VAD session, and segments utterances:
// speech onset is detected over a lookback window so the first syllable is
// not clipped, and a run of trailing silence closes the utterance. Each
// finalized utterance is transcribed and emitted as a final event. The
// alternative fixed mode skips the VAD entirely and slices the stream into
// fixed-duration chunks.
//
// All mutable segmentation state is confined to the single processLoop
// goroutine; the only synchronisation points are the audio input channel and
// the event output channel. Events are strictly ordered because one goroutine
// produces all of them.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sentiric/stt-service/pkg/audio"
	"github.com/sentiric/stt-service/pkg/provider/asr"
	"github.com/sentiric/stt-service/pkg/provider/vad"
)

// Mode selects the segmentation strategy for a session.
type Mode string

const (
	// ModeVAD segments utterances by detecting speech onset and trailing
	// silence.
	ModeVAD Mode = "vad"

	// ModeFixed slices the stream into fixed-duration chunks.
	ModeFixed Mode = "fixed"
)

// EventType discriminates the events a session emits.
type EventType string

const (
	// EventFinal carries the transcription of one finalized utterance.
	EventFinal EventType = "final"

	// EventError reports a transcription or VAD failure. The session stays
	// alive and keeps processing audio.
	EventError EventType = "error"

	// EventNoSpeechTimeout is a liveness signal emitted when no speech has
	// been detected for the configured timeout.
	EventNoSpeechTimeout EventType = "no_speech_timeout"
)

// Event is a single message produced by a session. It marshals directly to
// the JSON sent over the streaming WebSocket.
type Event struct {
	Type    EventType `json:"type"`
	Text    string    `json:"text,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Config holds the per-session segmentation parameters. The zero value is
// not usable; start from the service config and override per client request.
type Config struct {
	// Mode selects VAD-based or fixed-chunk segmentation.
	Mode Mode

	// SampleRate is the PCM sample rate in Hz of the incoming stream.
	SampleRate int

	// FrameMs is the VAD frame duration (10, 20, or 30 ms).
	FrameMs int

	// Aggressiveness is the VAD aggressiveness (0-3) for this session.
	Aggressiveness int

	// EndOfSpeechMs is the trailing silence that finalizes an utterance.
	EndOfSpeechMs int

	// MinSpeechMs is the minimum voiced duration; shorter utterances are
	// discarded as noise without transcription.
	MinSpeechMs int

	// PaddingMs sizes the onset lookback window prepended to an utterance.
	PaddingMs int

	// NoSpeechTimeout is how long the session may go without speech before
	// an EventNoSpeechTimeout is emitted. The clock restarts after each
	// event.
	NoSpeechTimeout time.Duration

	// ChunkMs is the chunk duration for ModeFixed.
	ChunkMs int

	// MinChunkMs is the minimum trailing remainder transcribed at stream
	// end in ModeFixed.
	MinChunkMs int

	// Language is the recognition language hint ("" = auto-detect).
	Language string

	// LogprobThreshold / NoSpeechThreshold override the engine's configured
	// confidence cutoffs for this session. Nil means engine defaults.
	LogprobThreshold  *float64
	NoSpeechThreshold *float64
}

// flushTimeout bounds the final transcription performed during an orderly
// stream end, independent of the (possibly cancelled) session context.
const flushTimeout = 30 * time.Second

// Option is a functional option for configuring a Processor.
type Option func(*Processor)

// WithLogger sets the logger used for session diagnostics. Defaults to
// slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(p *Processor) {
		if log != nil {
			p.log = log
		}
	}
}

// WithIdlePollInterval sets how often the no-speech clock is checked while
// the stream is quiet. The default of 1 second matches the timeout
// granularity callers care about; tests shrink it.
func WithIdlePollInterval(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.idlePoll = d
		}
	}
}

// Processor is one live streaming session. Create it with New, feed it PCM
// via SendAudio, consume Events, and Close it when the client is done.
type Processor struct {
	cfg         Config
	transcriber asr.Transcriber
	vadSession  vad.SessionHandle // nil in ModeFixed
	log         *slog.Logger
	idlePoll    time.Duration

	audioCh chan []byte
	events  chan Event

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// New creates a streaming session and starts its processing goroutine. In
// ModeVAD a VAD session is created from vadEngine; in ModeFixed vadEngine is
// unused and may be nil.
//
// The context governs the session's lifetime: cancelling it aborts
// processing and discards any unfinalized audio. An orderly end of stream is
// signalled with Close instead, which finalizes buffered speech first.
func New(ctx context.Context, cfg Config, transcriber asr.Transcriber, vadEngine vad.Engine, opts ...Option) (*Processor, error) {
	if transcriber == nil {
		return nil, errors.New("stream: transcriber must not be nil")
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("stream: sample rate %d must be positive", cfg.SampleRate)
	}
	if cfg.Mode != ModeVAD && cfg.Mode != ModeFixed {
		return nil, fmt.Errorf("stream: unknown mode %q", cfg.Mode)
	}

	p := &Processor{
		cfg:         cfg,
		transcriber: transcriber,
		log:         slog.Default(),
		idlePoll:    time.Second,
		audioCh:     make(chan []byte, 256),
		events:      make(chan Event, 64),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}

	if cfg.Mode == ModeVAD {
		if vadEngine == nil {
			return nil, errors.New("stream: vad engine must not be nil in vad mode")
		}
		sess, err := vadEngine.NewSession(vad.Config{
			SampleRate:     cfg.SampleRate,
			FrameSizeMs:    cfg.FrameMs,
			Aggressiveness: cfg.Aggressiveness,
		})
		if err != nil {
			return nil, fmt.Errorf("stream: create vad session: %w", err)
		}
		p.vadSession = sess
	}

	p.wg.Add(1)
	go p.processLoop(ctx)

	return p, nil
}

// SendAudio queues a chunk of raw 16-bit little-endian signed PCM for
// processing. Chunks need not be frame-aligned. Returns an error after Close.
func (p *Processor) SendAudio(chunk []byte) error {
	select {
	case <-p.done:
		return errors.New("stream: session is closed")
	default:
	}
	select {
	case p.audioCh <- chunk:
		return nil
	case <-p.done:
		return errors.New("stream: session is closed")
	}
}

// Events returns the session's ordered event stream. The channel is closed
// after the session ends and all pending events have been emitted. The
// consumer must keep receiving until the channel closes; event delivery
// blocks when the buffer is full, so an abandoned channel stalls the session
// until its context ends.
func (p *Processor) Events() <-chan Event {
	return p.events
}

// Close signals an orderly end of stream: queued audio is processed, an open
// utterance (or fixed-mode remainder) is finalized, and the event channel is
// closed. Close blocks until that is complete. Calling Close more than once
// is safe and returns nil.
func (p *Processor) Close() error {
	p.once.Do(func() {
		close(p.done)
		p.wg.Wait()
	})
	return nil
}

// processLoop owns all segmentation state for the session.
func (p *Processor) processLoop(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.events)
	if p.vadSession != nil {
		defer p.vadSession.Close()
	}

	var st sessionState
	st.init(p.cfg)

	ticker := time.NewTicker(p.idlePoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Cancellation is not an orderly end: drop open buffers.
			p.log.Debug("stream session cancelled", "buffered_ms", audio.DurationMs(st.utterance, p.cfg.SampleRate))
			return

		case <-p.done:
			p.drainAndFinalize(ctx, &st)
			return

		case chunk := <-p.audioCh:
			p.consume(ctx, &st, chunk)

		case now := <-ticker.C:
			if !st.speaking && now.Sub(st.lastActivity) >= p.cfg.NoSpeechTimeout {
				p.emit(ctx, Event{Type: EventNoSpeechTimeout})
				st.lastActivity = now
			}
		}
	}
}

// sessionState is the mutable segmentation state, touched only by the
// processLoop goroutine.
type sessionState struct {
	pending   []byte   // bytes awaiting frame alignment (ModeVAD)
	ring      lookback // onset lookback window (ModeVAD, while idle)
	utterance []byte   // accumulated PCM of the open utterance
	speaking  bool
	silenceMs int // trailing silence inside the open utterance
	speechMs  int // voiced duration of the open utterance

	buffer []byte // accumulated PCM (ModeFixed)

	lastActivity time.Time
}

func (st *sessionState) init(cfg Config) {
	if cfg.Mode == ModeVAD {
		n := 1
		if cfg.FrameMs > 0 && cfg.PaddingMs >= cfg.FrameMs {
			n = cfg.PaddingMs / cfg.FrameMs
		}
		st.ring.init(n)
	}
	st.lastActivity = time.Now()
}

// consume routes an incoming chunk to the active segmentation strategy.
func (p *Processor) consume(ctx context.Context, st *sessionState, chunk []byte) {
	if p.cfg.Mode == ModeFixed {
		p.consumeFixed(ctx, st, chunk)
		return
	}

	frameBytes := audio.FrameBytes(p.cfg.SampleRate, p.cfg.FrameMs)
	st.pending = append(st.pending, chunk...)
	for len(st.pending) >= frameBytes {
		frame := st.pending[:frameBytes:frameBytes]
		st.pending = st.pending[frameBytes:]
		p.consumeFrame(ctx, st, frame)
	}
}

// consumeFrame advances the VAD state machine by one frame.
func (p *Processor) consumeFrame(ctx context.Context, st *sessionState, frame []byte) {
	res, err := p.vadSession.ProcessFrame(frame)
	if err != nil {
		p.log.Warn("vad frame classification failed", "err", err)
		p.emit(ctx, Event{Type: EventError, Message: fmt.Sprintf("vad: %v", err)})
		return
	}

	now := time.Now()

	if !st.speaking {
		st.ring.push(frame, res.IsSpeech)
		if res.IsSpeech {
			st.lastActivity = now
		}
		// Onset fires when more than 90% of the lookback window is speech.
		if st.ring.speechCount()*10 > st.ring.capacity()*9 {
			// Flush the window into the utterance so the first syllable
			// survives.
			st.speaking = true
			st.silenceMs = 0
			st.speechMs = st.ring.speechCount() * p.cfg.FrameMs
			st.utterance = st.ring.flush(st.utterance)
		}
		return
	}

	st.utterance = append(st.utterance, frame...)
	if res.IsSpeech {
		st.silenceMs = 0
		st.speechMs += p.cfg.FrameMs
		st.lastActivity = now
	} else {
		st.silenceMs += p.cfg.FrameMs
		if st.silenceMs >= p.cfg.EndOfSpeechMs {
			p.finalize(ctx, st)
		}
	}
}

// finalize closes the open utterance: noise-length utterances are discarded,
// anything longer is transcribed and emitted as a final event.
func (p *Processor) finalize(ctx context.Context, st *sessionState) {
	utt := st.utterance
	voicedMs := st.speechMs

	st.utterance = nil
	st.speaking = false
	st.silenceMs = 0
	st.speechMs = 0
	st.ring.clear()
	if p.vadSession != nil {
		// Start the next onset decision from a clean detector state.
		p.vadSession.Reset()
	}
	st.lastActivity = time.Now()

	if voicedMs < p.cfg.MinSpeechMs {
		p.log.Debug("utterance discarded as noise", "voiced_ms", voicedMs, "min_speech_ms", p.cfg.MinSpeechMs)
		return
	}

	p.transcribe(ctx, utt)
}

// transcribe runs the engine on one utterance and emits the outcome. Engine
// failures become error events; the session keeps running.
func (p *Processor) transcribe(ctx context.Context, pcm []byte) {
	samples := audio.PCMToFloat32(pcm)
	text, err := p.transcriber.Transcribe(ctx, samples, asr.TranscribeOptions{
		Language:          p.cfg.Language,
		LogprobThreshold:  p.cfg.LogprobThreshold,
		NoSpeechThreshold: p.cfg.NoSpeechThreshold,
	})
	if err != nil {
		p.log.Warn("utterance transcription failed", "utterance_ms", audio.DurationMs(pcm, p.cfg.SampleRate), "err", err)
		p.emit(ctx, Event{Type: EventError, Message: err.Error()})
		return
	}
	if text == "" {
		// Everything was filtered out as low-confidence. Not an event.
		return
	}
	p.emit(ctx, Event{Type: EventFinal, Text: text})
}

// consumeFixed accumulates audio and transcribes every full chunk.
func (p *Processor) consumeFixed(ctx context.Context, st *sessionState, chunk []byte) {
	st.lastActivity = time.Now()
	chunkBytes := audio.FrameBytes(p.cfg.SampleRate, p.cfg.ChunkMs)
	if chunkBytes <= 0 {
		return
	}
	st.buffer = append(st.buffer, chunk...)
	for len(st.buffer) >= chunkBytes {
		part := st.buffer[:chunkBytes:chunkBytes]
		st.buffer = st.buffer[chunkBytes:]
		p.transcribe(ctx, part)
	}
}

// drainAndFinalize handles an orderly end of stream: queued chunks are
// processed, then the open utterance (or the fixed-mode remainder, if long
// enough) gets a last transcription on a fresh bounded context.
func (p *Processor) drainAndFinalize(ctx context.Context, st *sessionState) {
	// The flush context bounds the whole drain, detached from the session
	// context so an orderly Close still finalizes after cancellation.
	fc, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()

	for {
		select {
		case chunk := <-p.audioCh:
			p.consume(fc, st, chunk)
		default:
			switch p.cfg.Mode {
			case ModeVAD:
				if st.speaking && st.speechMs >= p.cfg.MinSpeechMs {
					// The stream ended mid-utterance; whatever voiced audio
					// is buffered counts without waiting for end-of-speech
					// silence.
					p.transcribe(fc, st.utterance)
				}
			case ModeFixed:
				if audio.DurationMs(st.buffer, p.cfg.SampleRate) >= p.cfg.MinChunkMs {
					p.transcribe(fc, st.buffer)
				}
			}
			return
		}
	}
}

// emit delivers an event in order, blocking once the channel buffer is full
// so a slow consumer applies backpressure instead of losing events. The send
// is abandoned only when ctx ends, which is how a cancelled session unwinds.
func (p *Processor) emit(ctx context.Context, ev Event) {
	select {
	case p.events <- ev:
	case <-ctx.Done():
		p.log.Debug("event delivery abandoned", "type", ev.Type, "err", ctx.Err())
	}
}

// ---- lookback ring -----------------------------------------------------------

// lookback is a fixed-capacity window over the most recent frames before
// speech onset, so the utterance can start PaddingMs early.
type lookback struct {
	frames [][]byte
	speech []bool
	cap    int
}

func (l *lookback) init(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	l.cap = capacity
	l.frames = make([][]byte, 0, capacity)
	l.speech = make([]bool, 0, capacity)
}

func (l *lookback) push(frame []byte, isSpeech bool) {
	if len(l.frames) == l.cap {
		copy(l.frames, l.frames[1:])
		copy(l.speech, l.speech[1:])
		l.frames = l.frames[:l.cap-1]
		l.speech = l.speech[:l.cap-1]
	}
	l.frames = append(l.frames, frame)
	l.speech = append(l.speech, isSpeech)
}

func (l *lookback) speechCount() int {
	n := 0
	for _, s := range l.speech {
		if s {
			n++
		}
	}
	return n
}

func (l *lookback) capacity() int { return l.cap }

// flush appends every buffered frame to dst in arrival order and clears the
// window.
func (l *lookback) flush(dst []byte) []byte {
	for _, f := range l.frames {
		dst = append(dst, f...)
	}
	l.clear()
	return dst
}

func (l *lookback) clear() {
	l.frames = l.frames[:0]
	l.speech = l.speech[:0]
}
