package openai

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sentiric/stt-service/pkg/provider/asr"
)

// newAPIServer fakes the transcription endpoint, recording the multipart
// fields the client sent.
func newAPIServer(t *testing.T, respond any) (*httptest.Server, *map[string]string) {
	t.Helper()
	fields := map[string]string{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		for k, v := range r.MultipartForm.Value {
			if len(v) > 0 {
				fields[k] = v[0]
			}
		}
		for k, fh := range r.MultipartForm.File {
			if len(fh) > 0 {
				fields[k+"_filename"] = fh[0].Filename
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(respond); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	t.Cleanup(ts.Close)
	return ts, &fields
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New("", "whisper-1"); err == nil {
		t.Error("empty apiKey accepted")
	}
}

func TestNew_DefaultsModel(t *testing.T) {
	t.Parallel()
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != DefaultModel {
		t.Errorf("model = %q, want %q", p.model, DefaultModel)
	}
}

func TestTranscribe_SendsLanguageAndModel(t *testing.T) {
	t.Parallel()
	ts, fields := newAPIServer(t, map[string]any{"text": "test passed"})

	p, err := New("sk-test", "whisper-1", WithBaseURL(ts.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text, err := p.Transcribe(context.Background(), make([]float32, 1600), asr.TranscribeOptions{Language: "tr"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "test passed" {
		t.Errorf("text = %q, want %q", text, "test passed")
	}
	if (*fields)["language"] != "tr" {
		t.Errorf("language field = %q, want tr", (*fields)["language"])
	}
	if (*fields)["model"] != "whisper-1" {
		t.Errorf("model field = %q, want whisper-1", (*fields)["model"])
	}
}

// The endpoint derives the codec from the upload's filename, so the file
// part must be named with a .wav suffix rather than left anonymous.
func TestTranscribe_UploadsNamedWAVFile(t *testing.T) {
	t.Parallel()
	ts, fields := newAPIServer(t, map[string]any{"text": "ok"})

	p, err := New("sk-test", "whisper-1", WithBaseURL(ts.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), make([]float32, 1600), asr.TranscribeOptions{}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	name := (*fields)["file_filename"]
	if !strings.HasSuffix(name, ".wav") {
		t.Errorf("uploaded filename = %q, want a .wav name", name)
	}
}

func TestTranscribe_EmptySamples(t *testing.T) {
	t.Parallel()
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text, err := p.Transcribe(context.Background(), nil, asr.TranscribeOptions{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
}

func TestAvgLogprob_NeutralWithoutData(t *testing.T) {
	t.Parallel()
	if got := avgLogprob(nil); got != 0 {
		t.Errorf("avgLogprob(nil) = %v, want 0", got)
	}
}

func TestFloat32ToPCM_Clamps(t *testing.T) {
	t.Parallel()
	pcm := float32ToPCM([]float32{2.0, -2.0})
	hi := int16(uint16(pcm[0]) | uint16(pcm[1])<<8)
	lo := int16(uint16(pcm[2]) | uint16(pcm[3])<<8)
	if hi != math.MaxInt16 {
		t.Errorf("over-range sample = %d, want %d", hi, math.MaxInt16)
	}
	if lo != math.MinInt16 {
		t.Errorf("under-range sample = %d, want %d", lo, math.MinInt16)
	}
}
