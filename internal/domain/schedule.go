package domain

import "time"

type ScheduleKind string

const (
	ScheduleKindInterval ScheduleKind = "interval"
	ScheduleKindCron     ScheduleKind = "cron"
)

// ScheduleSpec is the trigger of a watch. Exactly one of Interval or Cron is
// meaningful, selected by Kind.
type ScheduleSpec struct {
	Kind     ScheduleKind
	Interval time.Duration
	Cron     string
	Timezone string // IANA timezone for cron, defaults to UTC
}

func Interval(d time.Duration) ScheduleSpec {
	return ScheduleSpec{Kind: ScheduleKindInterval, Interval: d}
}

func Cron(expression string) ScheduleSpec {
	return ScheduleSpec{Kind: ScheduleKindCron, Cron: expression}
}

func (s ScheduleSpec) String() string {
	switch s.Kind {
	case ScheduleKindInterval:
		return "interval " + s.Interval.String()
	case ScheduleKindCron:
		if s.Timezone != "" {
			return "cron " + s.Cron + " (" + s.Timezone + ")"
		}
		return "cron " + s.Cron
	default:
		return string(s.Kind)
	}
}
