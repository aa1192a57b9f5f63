// Package engine manages the lifecycle of the configured transcription
// engine.
//
// Engines can take a long time to become usable: a local whisper model is
// hundreds of megabytes of weights to map into memory, and a remote engine
// may need a connectivity probe. The server therefore starts accepting
// connections immediately and loads the engine in the background; requests
// that need it are rejected with [ErrNotReady] until the load completes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sentiric/stt-service/pkg/provider/asr"
)

// State describes where the loader is in the engine lifecycle.
type State string

const (
	// StateUnloaded means BeginLoad has not been called yet.
	StateUnloaded State = "unloaded"
	// StateLoading means the factory is running on a background goroutine.
	StateLoading State = "loading"
	// StateReady means the engine is loaded and Instance returns it.
	StateReady State = "ready"
	// StateFailed means the factory returned an error. Failure is terminal
	// for the process; the operator fixes the config and restarts.
	StateFailed State = "failed"
)

// ErrNotReady is returned by [Loader.Instance] until the engine finishes
// loading. Callers translate it into 503 / WebSocket close 1013.
var ErrNotReady = errors.New("engine: not ready")

// Factory constructs the transcription engine. It runs once, on a background
// goroutine, and may block for as long as loading takes.
type Factory func(ctx context.Context) (asr.Transcriber, error)

// Loader loads a transcription engine asynchronously and publishes it once
// ready. The zero value is not usable; use [NewLoader].
//
// Instance is wait-free after the engine is published: readers hit an
// atomic pointer load on the hot path, never a mutex.
type Loader struct {
	name    string
	factory Factory

	instance atomic.Pointer[asr.Transcriber]
	state    atomic.Value // State

	mu       sync.Mutex
	err      error
	loadOnce sync.Once
}

// NewLoader creates a loader for the named engine. The factory does not run
// until [Loader.BeginLoad] is called.
func NewLoader(name string, factory Factory) *Loader {
	l := &Loader{name: name, factory: factory}
	l.state.Store(StateUnloaded)
	return l
}

// Name returns the configured engine name, for health reporting.
func (l *Loader) Name() string {
	return l.name
}

// BeginLoad starts loading the engine on a background goroutine. Only the
// first call has any effect; the load runs exactly once per process.
func (l *Loader) BeginLoad(ctx context.Context) {
	l.loadOnce.Do(func() {
		l.state.Store(StateLoading)
		go l.load(ctx)
	})
}

func (l *Loader) load(ctx context.Context) {
	start := time.Now()
	slog.Info("engine load started", "engine", l.name)

	inst, err := l.factory(ctx)
	if err != nil {
		l.mu.Lock()
		l.err = fmt.Errorf("engine: load %q: %w", l.name, err)
		l.mu.Unlock()
		l.state.Store(StateFailed)
		slog.Error("engine load failed", "engine", l.name, "err", err)
		return
	}

	l.instance.Store(&inst)
	l.state.Store(StateReady)
	slog.Info("engine load complete", "engine", l.name, "took", time.Since(start))
}

// Instance returns the loaded engine. It never blocks: before the load
// completes it returns [ErrNotReady], and after a failed load it returns the
// load error.
func (l *Loader) Instance() (asr.Transcriber, error) {
	if p := l.instance.Load(); p != nil {
		return *p, nil
	}
	if l.State() == StateFailed {
		return nil, l.Err()
	}
	return nil, ErrNotReady
}

// State returns the current lifecycle state.
func (l *Loader) State() State {
	return l.state.Load().(State)
}

// Err returns the terminal load error, or nil if the load has not failed.
func (l *Loader) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close releases the engine if it was loaded. Safe to call regardless of
// state; a load still in flight is not interrupted (cancel its context for
// that).
func (l *Loader) Close() error {
	if p := l.instance.Load(); p != nil {
		return (*p).Close()
	}
	return nil
}
