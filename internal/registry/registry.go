// Package registry holds watch definitions. Reads are concurrent, writes are
// serialized, and every read returns a deep copy.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"k8s.io/utils/clock"

	"github.com/djlord-it/easy-watcher/internal/domain"
)

var (
	ErrWatchNotFound = errors.New("watch not found")
	ErrInvalidWatch  = errors.New("invalid watch")
)

type ScheduleValidator interface {
	Validate(spec domain.ScheduleSpec, now time.Time) error
}

type Registry struct {
	mu        sync.RWMutex
	watches   map[string]domain.Watch
	validator ScheduleValidator
	clock     clock.PassiveClock
}

func New(validator ScheduleValidator) *Registry {
	return &Registry{
		watches:   make(map[string]domain.Watch),
		validator: validator,
		clock:     clock.RealClock{},
	}
}

// WithClock sets the clock used for timestamps and schedule validation.
func (r *Registry) WithClock(c clock.PassiveClock) *Registry {
	r.clock = c
	return r
}

// Put creates or replaces a watch. It reports whether the watch is new.
// Invalid schedules are rejected before anything is stored.
func (r *Registry) Put(w domain.Watch) (bool, error) {
	now := r.clock.Now().UTC()

	w = w.Clone()
	normalize(&w)
	if err := r.validate(w, now); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.watches[w.ID]
	if exists {
		w.CreatedAt = existing.CreatedAt
		w.Version = existing.Version + 1
	} else {
		w.CreatedAt = now
		w.Version = 1
	}
	w.UpdatedAt = now

	r.watches[w.ID] = w
	return !exists, nil
}

// Get returns a copy of the watch.
func (r *Registry) Get(id string) (domain.Watch, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.watches[id]
	if !ok {
		return domain.Watch{}, false
	}
	return w.Clone(), true
}

func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.watches[id]; !ok {
		return errors.Wrapf(ErrWatchNotFound, "watch %q", id)
	}
	delete(r.watches, id)
	return nil
}

// List returns copies of all watches ordered by id.
func (r *Registry) List() []domain.Watch {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Watch, 0, len(r.watches))
	for _, w := range r.watches {
		out = append(out, w.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.watches)
}

func normalize(w *domain.Watch) {
	if w.Input.Type == "" {
		w.Input.Type = domain.InputTypeNone
	}
	if w.Condition.Type == "" {
		w.Condition.Type = domain.ConditionTypeAlways
	}
}

func (r *Registry) validate(w domain.Watch, now time.Time) error {
	if w.ID == "" {
		return errors.Wrap(ErrInvalidWatch, "id is required")
	}
	if err := r.validator.Validate(w.Trigger, now); err != nil {
		return errors.Wrapf(err, "watch %q", w.ID)
	}

	seen := make(map[string]bool, len(w.Actions))
	for i, a := range w.Actions {
		if a.ID == "" {
			return errors.Wrapf(ErrInvalidWatch, "watch %q: action %d has no id", w.ID, i)
		}
		if seen[a.ID] {
			return errors.Wrapf(ErrInvalidWatch, "watch %q: duplicate action id %q", w.ID, a.ID)
		}
		seen[a.ID] = true
		if a.Type == "" {
			return errors.Wrapf(ErrInvalidWatch, "watch %q: action %q has no type", w.ID, a.ID)
		}
		if a.ThrottlePeriod < 0 {
			return errors.Wrapf(ErrInvalidWatch, "watch %q: action %q has negative throttle period", w.ID, a.ID)
		}
		if a.Logging != nil && !domain.ValidLogLevel(a.Logging.Level) {
			return errors.Wrapf(ErrInvalidWatch, "watch %q: action %q has unsupported log level %q", w.ID, a.ID, a.Logging.Level)
		}
	}
	return nil
}
