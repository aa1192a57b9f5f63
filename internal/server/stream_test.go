package server_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	asrmock "github.com/sentiric/stt-service/pkg/provider/asr/mock"
	"github.com/sentiric/stt-service/pkg/provider/vad"
	vadmock "github.com/sentiric/stt-service/pkg/provider/vad/mock"
)

// streamEvent mirrors the wire shape of streaming events.
type streamEvent struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func TestStream_NotReadyCloses1013(t *testing.T) {
	t.Parallel()
	srv, _ := testServer(t, nil) // loader never started
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts, "/api/v1/transcribe-stream"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	_, _, err = conn.Read(ctx)
	if err == nil {
		t.Fatal("expected close error, got a message")
	}
	if got := websocket.CloseStatus(err); got != websocket.StatusTryAgainLater {
		t.Errorf("close status = %v, want %v", got, websocket.StatusTryAgainLater)
	}
}

func TestStream_BadQueryParamCloses(t *testing.T) {
	t.Parallel()
	srv, _ := testServer(t, &asrmock.Transcriber{})
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts, "/api/v1/transcribe-stream?vad_aggressiveness=7"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	_, _, err = conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusUnsupportedData {
		t.Errorf("close status = %v, want %v", got, websocket.StatusUnsupportedData)
	}
}

func TestStream_UtteranceRoundTrip(t *testing.T) {
	t.Parallel()
	tr := &asrmock.Transcriber{Texts: []string{"kahve hazir"}}
	srv, vadEng := testServer(t, tr)
	// With 30ms frames, 90ms padding and 90ms end-of-speech, four speech
	// frames followed by four silence frames complete one utterance.
	vadEng.Session = &vadmock.Session{Results: speechThenSilence(4)}
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts, "/api/v1/transcribe-stream?language=tr"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	frame := make([]byte, 960) // 30ms at 16kHz mono S16LE
	for i := 0; i < 8; i++ {
		if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
			t.Fatalf("write frame %d: %v", i, err)
		}
	}

	var ev streamEvent
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != "final" {
		t.Fatalf("event type = %q, want final", ev.Type)
	}
	if ev.Text != "kahve hazir" {
		t.Errorf("text = %q, want kahve hazir", ev.Text)
	}

	if tr.CallCount() != 1 {
		t.Fatalf("transcriber called %d times, want 1", tr.CallCount())
	}
	if got := tr.TranscribeCalls[0].Opts.Language; got != "tr" {
		t.Errorf("language = %q, want tr", got)
	}

	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestStream_ClientCloseFlushesOpenUtterance(t *testing.T) {
	t.Parallel()
	tr := &asrmock.Transcriber{Texts: []string{"yarim cumle"}}
	srv, vadEng := testServer(t, tr)
	vadEng.Session = &vadmock.Session{Results: []vad.Result{{IsSpeech: true, Probability: 0.95}}}
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts, "/api/v1/transcribe-stream"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	frame := make([]byte, 960)
	for i := 0; i < 6; i++ {
		if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
			t.Fatalf("write frame %d: %v", i, err)
		}
	}

	// Close mid-utterance: the open buffer must still be finalized and the
	// result delivered before the server's normal close.
	if err := conn.Close(websocket.StatusNormalClosure, "done"); err != nil {
		t.Fatalf("close: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for tr.CallCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if tr.CallCount() != 1 {
		t.Fatalf("transcriber called %d times after close, want 1", tr.CallCount())
	}
}

// speechThenSilence scripts n speech classifications followed by silence.
func speechThenSilence(n int) []vad.Result {
	results := make([]vad.Result, 0, n+1)
	for i := 0; i < n; i++ {
		results = append(results, vad.Result{IsSpeech: true, Probability: 0.95})
	}
	return append(results, vad.Result{IsSpeech: false, Probability: 0.05})
}
