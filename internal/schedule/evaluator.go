// Package schedule computes watch fire times. Everything here is pure: the
// current time is always passed in.
package schedule

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"

	"github.com/djlord-it/easy-watcher/internal/domain"
)

var (
	ErrInvalidSchedule = errors.New("invalid schedule")
	ErrNoNextFireTime  = errors.New("schedule has no future fire time")
)

type Evaluator struct {
	parser cron.Parser
}

func NewEvaluator() *Evaluator {
	return &Evaluator{
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Next returns the first fire time strictly after after.
func (e *Evaluator) Next(spec domain.ScheduleSpec, after time.Time) (time.Time, error) {
	switch spec.Kind {
	case domain.ScheduleKindInterval:
		if spec.Interval <= 0 {
			return time.Time{}, errors.Wrapf(ErrInvalidSchedule, "interval must be positive, got %s", spec.Interval)
		}
		return after.Add(spec.Interval), nil

	case domain.ScheduleKindCron:
		sched, loc, err := e.parse(spec)
		if err != nil {
			return time.Time{}, err
		}
		next := sched.Next(after.In(loc))
		if next.IsZero() {
			return time.Time{}, errors.Wrapf(ErrNoNextFireTime, "cron %q", spec.Cron)
		}
		return next, nil

	default:
		return time.Time{}, errors.Wrapf(ErrInvalidSchedule, "unknown schedule kind %q", spec.Kind)
	}
}

// Validate rejects specs that cannot produce a fire time after now.
func (e *Evaluator) Validate(spec domain.ScheduleSpec, now time.Time) error {
	_, err := e.Next(spec, now)
	if errors.Is(err, ErrNoNextFireTime) {
		return errors.Mark(err, ErrInvalidSchedule)
	}
	return err
}

func (e *Evaluator) parse(spec domain.ScheduleSpec) (cron.Schedule, *time.Location, error) {
	sched, err := e.parser.Parse(spec.Cron)
	if err != nil {
		return nil, nil, errors.Wrapf(ErrInvalidSchedule, "parse cron %q: %v", spec.Cron, err)
	}

	tz := spec.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, nil, errors.Wrapf(ErrInvalidSchedule, "load timezone %q: %v", tz, err)
	}

	return sched, loc, nil
}
