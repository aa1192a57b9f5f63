package whisper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sentiric/stt-service/pkg/audio"
	"github.com/sentiric/stt-service/pkg/provider/asr"
)

// inferenceRequest captures what the provider sent to /inference.
type inferenceRequest struct {
	wav            []byte
	responseFormat string
	language       string
	model          string
}

// newInferenceServer returns a test server replaying the given verbose JSON
// body and a pointer that receives the last parsed request.
func newInferenceServer(t *testing.T, status int, body string) (*httptest.Server, *inferenceRequest) {
	t.Helper()
	last := &inferenceRequest{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			t.Errorf("path = %q, want /inference", r.URL.Path)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
		} else {
			buf := make([]byte, 64)
			n, _ := f.Read(buf)
			last.wav = buf[:n]
			f.Close()
		}
		last.responseFormat = r.FormValue("response_format")
		last.language = r.FormValue("language")
		last.model = r.FormValue("model")

		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts, last
}

func verboseBody(t *testing.T, text string, segments []asr.Segment) string {
	t.Helper()
	type seg struct {
		Text         string  `json:"text"`
		AvgLogprob   float64 `json:"avg_logprob"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	}
	out := struct {
		Text     string `json:"text"`
		Segments []seg  `json:"segments"`
	}{Text: text}
	for _, s := range segments {
		out.Segments = append(out.Segments, seg{s.Text, s.AvgLogprob, s.NoSpeechProb})
	}
	b, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return string(b)
}

func TestNew_RequiresServerURL(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("empty serverURL accepted")
	}
}

func TestTranscribe_FiltersSegments(t *testing.T) {
	t.Parallel()
	body := verboseBody(t, "ignored", []asr.Segment{
		{Text: " guten", AvgLogprob: -0.2, NoSpeechProb: 0.1},
		{Text: "morgen ", AvgLogprob: -0.3, NoSpeechProb: 0.2},
		{Text: "hallucinated", AvgLogprob: -1.8, NoSpeechProb: 0.1},
	})
	ts, req := newInferenceServer(t, http.StatusOK, body)

	p, err := New(ts.URL, WithModel("base"), WithSampleRate(16000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text, err := p.Transcribe(context.Background(), make([]float32, 1600), asr.TranscribeOptions{Language: "de"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "guten morgen" {
		t.Errorf("text = %q, want %q", text, "guten morgen")
	}

	if req.responseFormat != "verbose_json" {
		t.Errorf("response_format = %q, want verbose_json", req.responseFormat)
	}
	if req.language != "de" {
		t.Errorf("language = %q, want de", req.language)
	}
	if req.model != "base" {
		t.Errorf("model = %q, want base", req.model)
	}
	// The upload must carry a real WAV container.
	if len(req.wav) < 12 || string(req.wav[0:4]) != "RIFF" {
		t.Errorf("upload does not start with a RIFF header: %q", req.wav[:min(len(req.wav), 4)])
	}
}

func TestTranscribe_ThresholdOverrides(t *testing.T) {
	t.Parallel()
	body := verboseBody(t, "", []asr.Segment{
		{Text: "borderline", AvgLogprob: -0.5, NoSpeechProb: 0.3},
	})
	ts, _ := newInferenceServer(t, http.StatusOK, body)

	p, err := New(ts.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Default thresholds keep the segment.
	text, err := p.Transcribe(context.Background(), make([]float32, 160), asr.TranscribeOptions{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "borderline" {
		t.Errorf("default thresholds: text = %q, want borderline", text)
	}

	// A stricter per-call logprob cutoff drops it.
	strict := -0.4
	text, err = p.Transcribe(context.Background(), make([]float32, 160), asr.TranscribeOptions{LogprobThreshold: &strict})
	if err != nil {
		t.Fatalf("Transcribe with override: %v", err)
	}
	if text != "" {
		t.Errorf("strict override: text = %q, want empty", text)
	}
}

func TestTranscribe_PlainResponseFallback(t *testing.T) {
	t.Parallel()
	ts, _ := newInferenceServer(t, http.StatusOK, `{"text": "  plain result  "}`)

	p, err := New(ts.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text, err := p.Transcribe(context.Background(), make([]float32, 160), asr.TranscribeOptions{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "plain result" {
		t.Errorf("text = %q, want %q", text, "plain result")
	}
}

func TestTranscribe_EmptySamplesSkipsRequest(t *testing.T) {
	t.Parallel()
	called := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer ts.Close()

	p, err := New(ts.URL)
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
	if called {
		t.Error("server was contacted for empty input")
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()
	ts, _ := newInferenceServer(t, http.StatusInternalServerError, "boom")

	p, err := New(ts.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), make([]float32, 160), asr.TranscribeOptions{}); err == nil {
		t.Error("expected error for HTTP 500")
	}
}

func TestTranscribe_MalformedJSON(t *testing.T) {
	t.Parallel()
	ts, _ := newInferenceServer(t, http.StatusOK, "{not json")

	p, err := New(ts.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), make([]float32, 160), asr.TranscribeOptions{}); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestFloat32ToPCM(t *testing.T) {
	t.Parallel()
	pcm := float32ToPCM([]float32{0, 1.0, -1.0, 2.0, -2.0})
	want := []int16{0, 32767, -32767, 32767, -32768}
	if len(pcm) != len(want)*2 {
		t.Fatalf("len = %d, want %d", len(pcm), len(want)*2)
	}
	for i, w := range want {
		got := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		if got != w {
			t.Errorf("sample %d = %d, want %d", i, got, w)
		}
	}

	// Round trip with the decoder side used by the batch endpoint.
	samples := audio.PCMToFloat32(float32ToPCM([]float32{0.5}))
	if len(samples) != 1 || samples[0] < 0.499 || samples[0] > 0.501 {
		t.Errorf("round trip of 0.5 = %v", samples)
	}
}
