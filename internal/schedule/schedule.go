// Package schedule turns a poll interval string into wake-up times.
//
// Supported forms:
//   - Interval duration: "2m", "90s", "1h30m"
//   - Interval HH:MM: "00:02" (2 minutes), "01:30" (90 minutes)
//   - Cron (robfig/cron, optional seconds field): "*/2 * * * *", "@hourly", "@every 2m"
//
// Optional prefixes "cron:" and "interval:"/"every:" force the kind.
//
// An interval schedule is measured from the moment the previous cycle ended,
// so a slow cycle never causes back-to-back runs.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind describes the normalized kind of a schedule string.
type Kind int

const (
	KindInterval Kind = iota
	KindCron
)

func (k Kind) String() string {
	if k == KindCron {
		return "cron"
	}
	return "interval"
}

// Spec is a parsed schedule.
type Spec struct {
	Kind   Kind
	Raw    string
	Every  time.Duration // KindInterval
	Source string        // "duration" | "hhmm" | "cron"

	cron cron.Schedule
}

var (
	reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

	parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// Every returns an interval spec.
func Every(d time.Duration) Spec {
	return Spec{Kind: KindInterval, Raw: d.String(), Every: d, Source: "duration"}
}

// Parse parses raw into a Spec.
func Parse(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(raw, strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(raw, s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseInterval(raw, s[len("every:"):])
	}

	// Whitespace or a descriptor means cron.
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return parseCron(raw, s)
	}
	sp, err := parseInterval(raw, s)
	if err != nil {
		return Spec{}, fmt.Errorf(
			"invalid schedule %q (use a duration like '2m', HH:MM like '00:02', or cron like '*/2 * * * *')", raw)
	}
	return sp, nil
}

func parseCron(raw, expr string) (Spec, error) {
	if expr == "" {
		return Spec{}, fmt.Errorf("cron expression required")
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	// "@every" is a fixed delay; keep it an interval so it is measured from cycle end.
	if cd, ok := sched.(cron.ConstantDelaySchedule); ok {
		return Spec{Kind: KindInterval, Raw: raw, Every: cd.Delay, Source: "cron"}, nil
	}
	return Spec{Kind: KindCron, Raw: raw, Source: "cron", cron: sched}, nil
}

func parseInterval(raw, v string) (Spec, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Spec{}, fmt.Errorf("interval required")
	}
	if reHHMM.MatchString(v) {
		d, err := parseHHMM(v)
		if err != nil {
			return Spec{}, err
		}
		return Spec{Kind: KindInterval, Raw: raw, Every: d, Source: "hhmm"}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid interval %q", v)
	}
	if d <= 0 {
		return Spec{}, fmt.Errorf("interval must be > 0")
	}
	return Spec{Kind: KindInterval, Raw: raw, Every: d, Source: "duration"}, nil
}

func parseHHMM(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

// Next returns the next wake-up time after a cycle that ended at now.
func (s Spec) Next(now time.Time) time.Time {
	if s.Kind == KindCron && s.cron != nil {
		return s.cron.Next(now)
	}
	return now.Add(s.Every)
}

// Wait returns how long to sleep after a cycle that ended at now.
func (s Spec) Wait(now time.Time) time.Duration {
	d := s.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (s Spec) String() string {
	if s.Kind == KindInterval {
		return "every " + s.Every.String()
	}
	return "cron " + s.Raw
}
