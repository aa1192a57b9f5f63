package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sentiric/stt-service/internal/observe"
	"github.com/sentiric/stt-service/internal/stream"
)

// handleTranscribeStream implements GET /api/v1/transcribe-stream: a
// WebSocket carrying binary PCM frames in and JSON transcription events out.
//
// The connection is accepted before the readiness check so the client gets a
// proper close code (1013, try again later) instead of a failed upgrade.
func (s *Server) handleTranscribeStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	transcriber, err := s.loader.Instance()
	if err != nil {
		conn.Close(websocket.StatusTryAgainLater, "transcription engine is not ready")
		return
	}

	scfg, err := s.streamConfig(r)
	if err != nil {
		conn.Close(websocket.StatusUnsupportedData, err.Error())
		return
	}

	sessionID := uuid.NewString()
	log = log.With("session_id", sessionID)

	proc, err := stream.New(ctx, scfg, transcriber, s.vadEngine, stream.WithLogger(log))
	if err != nil {
		log.Error("failed to start stream session", "err", err)
		conn.Close(websocket.StatusInternalError, "could not start session")
		return
	}
	defer proc.Close()

	s.metrics.ActiveStreams.Add(ctx, 1)
	defer s.metrics.ActiveStreams.Add(ctx, -1)
	log.Info("stream session opened", "mode", scfg.Mode, "language", scfg.Language)

	engineName := s.loader.Name()
	g, gctx := errgroup.WithContext(ctx)

	// Read pump: binary frames feed the processor; a client close is the
	// orderly end of stream.
	g.Go(func() error {
		defer proc.Close()
		for {
			typ, data, err := conn.Read(gctx)
			if err != nil {
				if isClientGone(err) {
					return nil
				}
				return err
			}
			if typ != websocket.MessageBinary {
				// Text frames are not part of the protocol; ignore them.
				continue
			}
			if err := proc.SendAudio(data); err != nil {
				return err
			}
		}
	})

	// Write pump: events out, strictly in the order the processor emitted
	// them. Ends when the processor closes its channel; after a write error
	// it keeps draining the channel so the processor is never blocked on a
	// dead connection.
	g.Go(func() error {
		var writeErr error
		for ev := range proc.Events() {
			switch ev.Type {
			case stream.EventFinal:
				s.metrics.UtterancesFinalized.Add(gctx, 1)
			case stream.EventNoSpeechTimeout:
				s.metrics.NoSpeechTimeouts.Add(gctx, 1)
			case stream.EventError:
				s.metrics.RecordEngineError(gctx, engineName)
			}
			if writeErr != nil {
				continue
			}
			writeErr = wsjson.Write(gctx, conn, ev)
		}
		return writeErr
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("stream session ended with error", "err", err)
		conn.Close(websocket.StatusInternalError, "session error")
		return
	}

	log.Info("stream session closed")
	conn.Close(websocket.StatusNormalClosure, "")
}

// streamConfig merges the service defaults with the per-session query
// parameter overrides.
func (s *Server) streamConfig(r *http.Request) (stream.Config, error) {
	q := r.URL.Query()
	c := s.conf()
	sc := c.Stream

	cfg := stream.Config{
		Mode:            stream.Mode(sc.Mode),
		SampleRate:      c.Audio.TargetSampleRate,
		FrameMs:         sc.FrameMs,
		Aggressiveness:  sc.VADAggressiveness,
		EndOfSpeechMs:   sc.EndOfSpeechMs,
		MinSpeechMs:     sc.MinSpeechMs,
		PaddingMs:       sc.PaddingMs,
		NoSpeechTimeout: time.Duration(sc.NoSpeechTimeoutSec) * time.Second,
		ChunkMs:         sc.ChunkMs,
		MinChunkMs:      sc.MinChunkMs,
		Language:        strings.ToLower(q.Get("language")),
	}

	if raw := q.Get("vad_aggressiveness"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 || v > 3 {
			return stream.Config{}, errors.New("vad_aggressiveness must be an integer between 0 and 3")
		}
		cfg.Aggressiveness = v
	}

	lp, err := parseOptionalFloat(q.Get("logprob_threshold"), "logprob_threshold")
	if err != nil {
		return stream.Config{}, err
	}
	cfg.LogprobThreshold = lp

	nsp, err := parseOptionalFloat(q.Get("no_speech_threshold"), "no_speech_threshold")
	if err != nil {
		return stream.Config{}, err
	}
	cfg.NoSpeechThreshold = nsp

	return cfg, nil
}

// isClientGone reports whether a read error represents the client ending the
// stream rather than a transport fault.
func isClientGone(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
		return true
	}
	return false
}
