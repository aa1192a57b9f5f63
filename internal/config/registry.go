package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sentiric/stt-service/pkg/provider/asr"
	"github.com/sentiric/stt-service/pkg/provider/vad"
)

// ErrNotRegistered is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: factory not registered")

// Registry maps engine and VAD names to their constructor functions.
// It is safe for concurrent use. Registering the same name twice overwrites
// the previous factory (last registration wins).
type Registry struct {
	mu  sync.RWMutex
	asr map[string]func(Engine) (asr.Transcriber, error)
	vad map[string]func() (vad.Engine, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		asr: make(map[string]func(Engine) (asr.Transcriber, error)),
		vad: make(map[string]func() (vad.Engine, error)),
	}
}

// RegisterASR registers a transcription engine factory under name.
func (r *Registry) RegisterASR(name string, factory func(Engine) (asr.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asr[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func() (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// CreateASR instantiates a transcription engine using the factory registered
// under entry.Name. Returns [ErrNotRegistered] if no factory exists for that
// name.
func (r *Registry) CreateASR(entry Engine) (asr.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.asr[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: asr/%q", ErrNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under name.
func (r *Registry) CreateVAD(name string) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrNotRegistered, name)
	}
	return factory()
}
