package timer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// intervalSchedule fires at start, start+every, start+2*every, ...
//
// Activations are anchored to start rather than to the previous fire, so a
// late wake-up does not push later fires back.
type intervalSchedule struct {
	start time.Time
	every time.Duration
}

// Every returns the schedule whose n-th activation is start + (n-1)*every.
// A non-positive every yields no activations after the first.
func Every(start time.Time, every time.Duration) cron.Schedule {
	return intervalSchedule{start: start, every: every}
}

// Next returns the first activation strictly after t.
func (s intervalSchedule) Next(t time.Time) time.Time {
	if s.every <= 0 {
		return time.Time{}
	}
	if t.Before(s.start) {
		return s.start
	}
	k := t.Sub(s.start)/s.every + 1
	return s.start.Add(k * s.every)
}

// SpecKind describes how a schedule string was interpreted.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec is a schedule string turned into a cron.Schedule.
type ParsedSpec struct {
	Kind     SpecKind
	Schedule cron.Schedule
	Every    time.Duration // SpecInterval only
	Source   string        // "cron" | "duration" | "hhmm"
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts:
//   - cron: "*/5 * * * *", "*/2 * * * * *", "@hourly", "@every 90s"
//   - Go duration: "3s", "2h30m"
//   - HH:MM interval: "00:50" (50 minutes)
//
// "cron:" forces cron parsing; "interval:" or "every:" forces an interval.
// Interval schedules are anchored at now, so their first activation is now+interval.
// Cron schedules are evaluated in loc (time.Local when nil).
func ParseSchedule(raw string, now time.Time, loc *time.Location) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]), loc)
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(strings.TrimSpace(s[len("interval:"):]), now)
	case strings.HasPrefix(low, "every:"):
		return parseInterval(strings.TrimSpace(s[len("every:"):]), now)
	}

	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(s, loc)
	}
	ps, err := parseInterval(s, now)
	if err != nil {
		return ParsedSpec{}, fmt.Errorf(
			"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or duration like '55m')",
			raw,
		)
	}
	return ps, nil
}

func parseCron(expr string, loc *time.Location) (ParsedSpec, error) {
	if expr == "" {
		return ParsedSpec{}, fmt.Errorf("cron expression required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	if ss, ok := sched.(*cron.SpecSchedule); ok && loc != nil && !strings.HasPrefix(expr, "CRON_TZ=") && !strings.HasPrefix(expr, "TZ=") {
		ss.Location = loc
	}
	return ParsedSpec{Kind: SpecCron, Schedule: sched, Source: "cron"}, nil
}

func parseInterval(v string, now time.Time) (ParsedSpec, error) {
	if v == "" {
		return ParsedSpec{}, fmt.Errorf("interval required")
	}
	var (
		d   time.Duration
		src string
	)
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return ParsedSpec{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		src = "hhmm"
	} else {
		var err error
		d, err = time.ParseDuration(v)
		if err != nil {
			return ParsedSpec{}, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m'): %w", v, err)
		}
		src = "duration"
	}
	if d <= 0 {
		return ParsedSpec{}, fmt.Errorf("interval must be > 0")
	}
	return ParsedSpec{Kind: SpecInterval, Schedule: Every(now, d), Every: d, Source: src}, nil
}
