// Package cron evaluates job schedules and runs the background tick
// loop that dispatches due jobs into the agent.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

type scheduleKind int

const (
	kindCron scheduleKind = iota
	kindEvery
)

// Schedule is a compiled job schedule: either a five-field cron
// expression (descriptors like @hourly accepted) or the interval form
// "every N" with N in seconds.
type Schedule struct {
	kind  scheduleKind
	expr  cron.Schedule
	every time.Duration
}

// Parse compiles a schedule string.
func Parse(spec string) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Schedule{}, fmt.Errorf("schedule is required")
	}

	if rest, ok := strings.CutPrefix(spec, "every "); ok {
		n, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil || n <= 0 {
			return Schedule{}, fmt.Errorf("invalid interval schedule %q: want \"every N\" with N in seconds", spec)
		}
		return Schedule{kind: kindEvery, every: time.Duration(n) * time.Second}, nil
	}

	expr, err := cronParser.Parse(spec)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return Schedule{kind: kindCron, expr: expr}, nil
}

// Due reports whether the job should fire now. Cron schedules fire at
// most once per activation minute: the minute-truncated now in the job
// timezone must be an activation minute and the last firing minute
// must be strictly earlier. Interval schedules fire when lastRun is
// unset or at least the interval ago.
func (s Schedule) Due(now time.Time, lastRun *time.Time, timezone string) bool {
	switch s.kind {
	case kindEvery:
		return lastRun == nil || now.Sub(*lastRun) >= s.every
	case kindCron:
		loc := now.Location()
		if timezone != "" {
			if tz, err := time.LoadLocation(timezone); err == nil {
				loc = tz
			}
		}
		minute := now.In(loc).Truncate(time.Minute)
		if !s.expr.Next(minute.Add(-time.Second)).Equal(minute) {
			return false
		}
		return lastRun == nil || lastRun.In(loc).Truncate(time.Minute).Before(minute)
	default:
		return false
	}
}
