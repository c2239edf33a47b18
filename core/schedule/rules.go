package schedule

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/fieldops/core"
)

type RuleKind string

const (
	RuleBefore     RuleKind = "before"
	RuleDaysBefore RuleKind = "days_before"
	RuleAt         RuleKind = "at"
)

// DefaultLocalTime is when days_before reminders fire when no local time is given.
const DefaultLocalTime = "09:00"

var errUnknownRule = errors.New("unknown reminder rule")

// Duration marshals to JSON as a Go duration string ("15m", "2h").
// Plain numbers are read as minutes.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var mins float64
		if err = json.Unmarshal(b, &mins); err != nil {
			return errors.New("duration must be a string like \"15m\" or a number of minutes")
		}
		*d = Duration(time.Duration(mins * float64(time.Minute)))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Rule defines when a reminder fires relative to a due date.
type Rule struct {
	Kind       RuleKind  `json:"kind" validate:"required,oneof=before days_before at"`
	Before     Duration  `json:"before,omitempty" validate:"min=0"`
	DaysBefore int       `json:"days_before,omitempty" validate:"min=0,max=365"`
	LocalTime  string    `json:"local_time,omitempty" validate:"omitempty,hhmm"`
	At         time.Time `json:"at,omitempty"`
}

// Due is a due date. All-day dues only carry a calendar date and are anchored to local midnight.
type Due struct {
	At     time.Time `json:"at"`
	AllDay bool      `json:"all_day"`
}

func (d Due) IsZero() bool { return d.At.IsZero() }

// Instant is the due moment as seen from loc.
func (d Due) Instant(loc *time.Location) time.Time {
	if !d.AllDay {
		return d.At
	}
	y, m, day := d.At.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, loc)
}

// QuietHours is a daily local window during which nobody is reminded.
// A window whose end is before its start wraps midnight.
type QuietHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (q QuietHours) Enabled() bool {
	return q.Start != "" && q.End != "" && q.Start != q.End
}

// adjust moves t, when it falls inside the quiet window, to the end of the window.
func (q QuietHours) adjust(t time.Time, loc *time.Location) time.Time {
	if !q.Enabled() {
		return t
	}
	start, err := core.ParseClock(q.Start)
	if err != nil {
		return t
	}
	end, err := core.ParseClock(q.End)
	if err != nil {
		return t
	}

	local := t.In(loc)
	clock := local.Hour()*60 + local.Minute()
	y, mo, d := local.Date()

	var inside, nextDay bool
	if start < end {
		inside = clock >= start && clock < end
	} else {
		inside = clock >= start || clock < end
		nextDay = clock >= start
	}
	if !inside {
		return t
	}
	if nextDay {
		d++
	}
	return time.Date(y, mo, d, end/60, end%60, 0, 0, loc)
}

// ResolveLocation picks the first known zone among the recipient's and the tenant's, UTC otherwise.
func ResolveLocation(zones ...string) *time.Location {
	for _, name := range zones {
		if name == "" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.UTC
}

// FireTime computes when rule fires for due, in the recipient's zone loc.
func FireTime(due Due, rule Rule, loc *time.Location, quiet QuietHours) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	instant := due.Instant(loc)

	var fire time.Time
	switch rule.Kind {
	case RuleBefore:
		fire = instant.Add(-time.Duration(rule.Before))
	case RuleDaysBefore:
		clock := rule.LocalTime
		if clock == "" {
			clock = DefaultLocalTime
		}
		mins, err := core.ParseClock(clock)
		if err != nil {
			return time.Time{}, err
		}
		// calendar arithmetic keeps the wall clock across DST changes
		y, m, d := instant.In(loc).Date()
		fire = time.Date(y, m, d-rule.DaysBefore, mins/60, mins%60, 0, 0, loc)
	case RuleAt:
		if rule.At.IsZero() {
			return time.Time{}, errors.New("at rule without a time")
		}
		fire = rule.At
	default:
		return time.Time{}, errors.Wrap(errUnknownRule, string(rule.Kind))
	}
	return quiet.adjust(fire, loc).UTC(), nil
}

// Plan returns the sorted, distinct fire times of rules for due.
// Reminders firing after the due moment are dropped, so is everything once the due moment has passed.
// Reminders already late but still before the due moment fire now, or at the end of the quiet hours.
func Plan(due Due, rules []Rule, loc *time.Location, now time.Time, quiet QuietHours) ([]time.Time, error) {
	if due.IsZero() {
		return nil, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	instant := due.Instant(loc)
	if !instant.After(now) {
		return nil, nil
	}

	seen := make(map[int64]struct{}, len(rules))
	var times []time.Time
	for i, rule := range rules {
		fire, err := FireTime(due, rule, loc, quiet)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("rule %d", i))
		}
		if fire.After(instant) {
			continue
		}
		if fire.Before(now) {
			if fire = quiet.adjust(now, loc).UTC(); fire.After(instant) {
				continue
			}
		}
		key := fire.Truncate(time.Second).Unix()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		times = append(times, fire)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	return times, nil
}

// DefaultRules are used when a task has a due date but no rules of its own.
var DefaultRules = []Rule{
	{Kind: RuleDaysBefore, DaysBefore: 1, LocalTime: DefaultLocalTime},
	{Kind: RuleBefore, Before: Duration(time.Hour)},
}

// LocalDay returns the [start, end) bounds of the local calendar day holding t.
func LocalDay(t time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, d := t.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

// IsValidClock reports whether s is a "HH:MM" wall clock time.
func IsValidClock(s string) bool {
	_, err := core.ParseClock(s)
	return err == nil
}
