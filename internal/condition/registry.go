// Package condition decides whether a watch's actions run.
package condition

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/djlord-it/easy-watcher/internal/domain"
)

var ErrUnknownCondition = errors.New("unknown condition type")

type Evaluator interface {
	Type() domain.ConditionType
	Evaluate(ctx context.Context, spec domain.ConditionSpec, payload map[string]any) (bool, error)
}

type Registry struct {
	mu         sync.RWMutex
	evaluators map[domain.ConditionType]Evaluator
}

func NewRegistry() *Registry {
	return &Registry{evaluators: make(map[domain.ConditionType]Evaluator)}
}

// NewDefaultRegistry returns a registry with always, never and compare.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Always{})
	r.Register(Never{})
	r.Register(Compare{})
	return r
}

func (r *Registry) Register(e Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators[e.Type()] = e
}

func (r *Registry) Evaluate(ctx context.Context, spec domain.ConditionSpec, payload map[string]any) (bool, error) {
	r.mu.RLock()
	e, ok := r.evaluators[spec.Type]
	r.mu.RUnlock()
	if !ok {
		return false, errors.Wrapf(ErrUnknownCondition, "%q", spec.Type)
	}
	return e.Evaluate(ctx, spec, payload)
}

type Always struct{}

func (Always) Type() domain.ConditionType { return domain.ConditionTypeAlways }

func (Always) Evaluate(context.Context, domain.ConditionSpec, map[string]any) (bool, error) {
	return true, nil
}

type Never struct{}

func (Never) Type() domain.ConditionType { return domain.ConditionTypeNever }

func (Never) Evaluate(context.Context, domain.ConditionSpec, map[string]any) (bool, error) {
	return false, nil
}
