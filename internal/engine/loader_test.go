package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sentiric/stt-service/internal/engine"
	"github.com/sentiric/stt-service/pkg/provider/asr"
	asrmock "github.com/sentiric/stt-service/pkg/provider/asr/mock"
)

func waitForState(t *testing.T, l *engine.Loader, want engine.State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if l.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("loader never reached state %q, stuck in %q", want, l.State())
}

func TestLoader_InitialState(t *testing.T) {
	t.Parallel()
	l := engine.NewLoader("whisper", func(ctx context.Context) (asr.Transcriber, error) {
		return &asrmock.Transcriber{}, nil
	})

	if got := l.State(); got != engine.StateUnloaded {
		t.Errorf("State() = %q, want unloaded", got)
	}
	if _, err := l.Instance(); !errors.Is(err, engine.ErrNotReady) {
		t.Errorf("Instance() error = %v, want ErrNotReady", err)
	}
}

func TestLoader_SuccessfulLoad(t *testing.T) {
	t.Parallel()
	mock := &asrmock.Transcriber{Texts: []string{"hello"}}
	l := engine.NewLoader("whisper", func(ctx context.Context) (asr.Transcriber, error) {
		return mock, nil
	})

	l.BeginLoad(context.Background())
	waitForState(t, l, engine.StateReady)

	inst, err := l.Instance()
	if err != nil {
		t.Fatalf("Instance() error: %v", err)
	}
	if inst != mock {
		t.Error("Instance() returned a different transcriber than the factory produced")
	}
	if l.Err() != nil {
		t.Errorf("Err() = %v, want nil", l.Err())
	}
}

func TestLoader_NotReadyWhileLoading(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	l := engine.NewLoader("whisper", func(ctx context.Context) (asr.Transcriber, error) {
		<-release
		return &asrmock.Transcriber{}, nil
	})

	l.BeginLoad(context.Background())
	waitForState(t, l, engine.StateLoading)

	if _, err := l.Instance(); !errors.Is(err, engine.ErrNotReady) {
		t.Errorf("Instance() during load error = %v, want ErrNotReady", err)
	}

	close(release)
	waitForState(t, l, engine.StateReady)
}

func TestLoader_FailedLoadIsTerminal(t *testing.T) {
	t.Parallel()
	boom := errors.New("model file missing")
	l := engine.NewLoader("whisper-native", func(ctx context.Context) (asr.Transcriber, error) {
		return nil, boom
	})

	l.BeginLoad(context.Background())
	waitForState(t, l, engine.StateFailed)

	if _, err := l.Instance(); !errors.Is(err, boom) {
		t.Errorf("Instance() after failure error = %v, want %v", err, boom)
	}
	if err := l.Err(); !errors.Is(err, boom) {
		t.Errorf("Err() = %v, want %v", err, boom)
	}
}

func TestLoader_BeginLoadRunsOnce(t *testing.T) {
	t.Parallel()
	calls := make(chan struct{}, 4)
	l := engine.NewLoader("whisper", func(ctx context.Context) (asr.Transcriber, error) {
		calls <- struct{}{}
		return &asrmock.Transcriber{}, nil
	})

	for range 3 {
		l.BeginLoad(context.Background())
	}
	waitForState(t, l, engine.StateReady)

	if got := len(calls); got != 1 {
		t.Errorf("factory ran %d times, want 1", got)
	}
}

func TestLoader_CloseReleasesInstance(t *testing.T) {
	t.Parallel()
	mock := &asrmock.Transcriber{}
	l := engine.NewLoader("whisper", func(ctx context.Context) (asr.Transcriber, error) {
		return mock, nil
	})

	// Close before load is a no-op.
	if err := l.Close(); err != nil {
		t.Fatalf("Close() before load error: %v", err)
	}
	if mock.CloseCallCount != 0 {
		t.Fatalf("Close() before load reached the transcriber")
	}

	l.BeginLoad(context.Background())
	waitForState(t, l, engine.StateReady)

	if err := l.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if mock.CloseCallCount != 1 {
		t.Errorf("transcriber CloseCallCount = %d, want 1", mock.CloseCallCount)
	}
}
