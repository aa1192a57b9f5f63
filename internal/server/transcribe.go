package server

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/sentiric/stt-service/internal/engine"
	"github.com/sentiric/stt-service/internal/observe"
	"github.com/sentiric/stt-service/pkg/audio"
	"github.com/sentiric/stt-service/pkg/provider/asr"
)

// maxUploadBytes caps batch uploads at 64 MiB, roughly half an hour of
// 16 kHz mono PCM.
const maxUploadBytes = 64 << 20

// audioExtensions accepts files whose multipart part carries no usable
// content type but has a recognisable audio extension.
var audioExtensions = map[string]bool{
	".wav": true, ".mp3": true, ".flac": true, ".ogg": true, ".m4a": true,
}

// handleTranscribe implements POST /api/v1/transcribe: a multipart
// "audio_file" is normalized to mono PCM, run through the engine, and the
// filtered text returned as {"text": ...}.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	transcriber, err := s.loader.Instance()
	if err != nil {
		if errors.Is(err, engine.ErrNotReady) {
			writeError(w, http.StatusServiceUnavailable, "transcription engine is not ready yet")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "transcription engine failed to load")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("audio_file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing audio_file field")
		return
	}
	defer file.Close()

	if !isAudioUpload(header.Header.Get("Content-Type"), header.Filename) {
		writeError(w, http.StatusBadRequest, "Invalid file type")
		return
	}

	lp, err := parseOptionalFloat(r.FormValue("logprob_threshold"), "logprob_threshold")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	nsp, err := parseOptionalFloat(r.FormValue("no_speech_threshold"), "no_speech_threshold")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read uploaded file")
		return
	}

	// Normalize to mono 16-bit PCM WAV at the service rate. On ffmpeg
	// failure the original bytes pass through and the WAV decode below is
	// the arbiter.
	normalized := s.normalizer.Normalize(ctx, data)

	pcm, sampleRate, _, err := audio.DecodeWAV(normalized)
	if err != nil {
		log.Warn("upload is not decodable audio", "filename", header.Filename, "err", err)
		writeError(w, http.StatusBadRequest, "could not decode audio")
		return
	}
	if want := s.conf().Audio.TargetSampleRate; sampleRate != want {
		log.Debug("upload sample rate differs from target",
			"got", sampleRate, "want", want)
	}

	samples := audio.PCMToFloat32(pcm)

	start := time.Now()
	text, err := transcriber.Transcribe(ctx, samples, asr.TranscribeOptions{
		Language:          strings.ToLower(r.FormValue("language")),
		LogprobThreshold:  lp,
		NoSpeechThreshold: nsp,
	})
	elapsed := time.Since(start)

	engineName := s.loader.Name()
	if err != nil {
		s.metrics.RecordTranscription(ctx, engineName, "batch", "error", elapsed.Seconds())
		s.metrics.RecordEngineError(ctx, engineName)
		log.Error("batch transcription failed", "engine", engineName, "err", err)
		writeError(w, http.StatusInternalServerError, "transcription failed")
		return
	}

	s.metrics.RecordTranscription(ctx, engineName, "batch", "ok", elapsed.Seconds())
	log.Info("batch transcription complete",
		"engine", engineName,
		"audio_ms", audio.DurationMs(pcm, sampleRate),
		"took", elapsed,
	)

	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

// isAudioUpload applies the upload acceptance policy: an audio/* content
// type, or a known audio file extension. Clients routinely mislabel audio
// uploads, so a recognized extension is accepted whatever the content type.
func isAudioUpload(contentType, filename string) bool {
	if strings.HasPrefix(contentType, "audio/") {
		return true
	}
	return audioExtensions[strings.ToLower(filepath.Ext(filename))]
}
