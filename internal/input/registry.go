// Package input fetches the payload a watch execution works on.
package input

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/djlord-it/easy-watcher/internal/domain"
)

var ErrUnknownInput = errors.New("unknown input type")

// Fetcher produces the payload for one input type.
type Fetcher interface {
	Type() domain.InputType
	Fetch(ctx context.Context, spec domain.InputSpec) (map[string]any, error)
}

type Registry struct {
	mu       sync.RWMutex
	fetchers map[domain.InputType]Fetcher
}

func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[domain.InputType]Fetcher)}
}

// NewDefaultRegistry returns a registry with the none, simple and http inputs.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(None{})
	r.Register(Simple{})
	r.Register(NewHTTP(nil))
	return r
}

// Register adds or replaces the fetcher for its type.
func (r *Registry) Register(f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[f.Type()] = f
}

// Fetch runs the fetcher registered for spec.Type.
func (r *Registry) Fetch(ctx context.Context, spec domain.InputSpec) (map[string]any, error) {
	r.mu.RLock()
	f, ok := r.fetchers[spec.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownInput, "%q", spec.Type)
	}

	payload, err := f.Fetch(ctx, spec)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, nil
}

// None yields an empty payload.
type None struct{}

func (None) Type() domain.InputType { return domain.InputTypeNone }

func (None) Fetch(context.Context, domain.InputSpec) (map[string]any, error) {
	return map[string]any{}, nil
}

// Simple yields a copy of the static payload declared on the watch.
type Simple struct{}

func (Simple) Type() domain.InputType { return domain.InputTypeSimple }

func (Simple) Fetch(_ context.Context, spec domain.InputSpec) (map[string]any, error) {
	return domain.ClonePayload(spec.Simple), nil
}
