package maintenance

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleKind represents the type of schedule
type ScheduleKind string

const (
	ScheduleKindEvery ScheduleKind = "every"
	ScheduleKindCron  ScheduleKind = "cron"
)

// Schedule is a time specification for a maintenance job
type Schedule struct {
	Kind ScheduleKind `json:"kind"`

	// For "every" schedule
	Every time.Duration `json:"every,omitempty"`

	// For "cron" schedule
	Expr string `json:"expr,omitempty"` // 5-field cron expression
	TZ   string `json:"tz,omitempty"`   // Optional timezone
}

// Every returns a fixed-interval schedule.
func Every(d time.Duration) Schedule {
	return Schedule{Kind: ScheduleKindEvery, Every: d}
}

// Cron returns a cron-expression schedule.
func Cron(expr string) Schedule {
	return Schedule{Kind: ScheduleKindCron, Expr: expr}
}

// ParseSchedule builds a schedule from configuration values. A cron expression
// wins over an interval; an interval is a Go duration string such as "5m".
func ParseSchedule(every, expr string) (Schedule, error) {
	if expr = strings.TrimSpace(expr); expr != "" {
		s := Cron(expr)
		return s, s.Validate()
	}
	if every = strings.TrimSpace(every); every == "" {
		return Schedule{}, fmt.Errorf("schedule requires 'every' or 'cron'")
	}
	d, err := time.ParseDuration(every)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid interval %q: %w", every, err)
	}
	s := Every(d)
	return s, s.Validate()
}

// Validate reports whether the schedule can produce a next run.
func (s Schedule) Validate() error {
	_, err := NextRun(s, time.Now())
	return err
}

// String renders the schedule for logs.
func (s Schedule) String() string {
	if s.Kind == ScheduleKindCron {
		return "cron(" + s.Expr + ")"
	}
	return "every(" + s.Every.String() + ")"
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextRun returns the first run time strictly after from.
func NextRun(schedule Schedule, from time.Time) (time.Time, error) {
	switch schedule.Kind {
	case ScheduleKindEvery:
		if schedule.Every <= 0 {
			return time.Time{}, fmt.Errorf("'every' schedule requires a positive interval")
		}
		return from.Add(schedule.Every), nil
	case ScheduleKindCron:
		return nextCronRun(schedule, from)
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind: %q", schedule.Kind)
	}
}

func nextCronRun(schedule Schedule, from time.Time) (time.Time, error) {
	if schedule.Expr == "" {
		return time.Time{}, fmt.Errorf("'cron' schedule requires 'expr' field")
	}

	sched, err := cronParser.Parse(schedule.Expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}

	if schedule.TZ != "" {
		loc, err := time.LoadLocation(schedule.TZ)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone: %w", err)
		}
		from = from.In(loc)
	}

	next := sched.Next(from)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("cron expression %q never fires", schedule.Expr)
	}
	return next, nil
}
