package types

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time with second resolution, stored as seconds
// since midnight. Rule windows compare at this resolution.
type TimeOfDay int

func NewTimeOfDay(hour, minute, second int) TimeOfDay {
	return TimeOfDay(hour*3600 + minute*60 + second)
}

// TimeOfDayFrom extracts the wall-clock time of t in its own location.
func TimeOfDayFrom(t time.Time) TimeOfDay {
	return NewTimeOfDay(t.Hour(), t.Minute(), t.Second())
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		sec = 0
		if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
			return 0, fmt.Errorf("parse time of day %q: %w", s, err)
		}
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("time of day %q out of range", s)
	}
	return NewTimeOfDay(h, m, sec), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", int(t)/3600, int(t)/60%60, int(t)%60)
}

// Rule restricts when a (profile, group) pair grants access. A pair with no
// rule grants unconditionally.
type Rule struct {
	ID          string
	ProfileName string
	GroupName   string

	// AllowedDaysOfWeek uses 0=Sunday through 6=Saturday. Empty means
	// every day is allowed.
	AllowedDaysOfWeek []int

	// StartTime/EndTime bound the allowed window, inclusive on both
	// ends. The window applies only when both are set.
	StartTime *TimeOfDay
	EndTime   *TimeOfDay

	// Access-frequency caps and precedence are carried in the data model
	// but not evaluated. They are reserved; do not invent enforcement.
	MaxAccessPerDay    *int
	MaxAccessPerWeek   *int
	MaxAccessPerMonth  *int
	RequiresPrecedence bool
}

// Allows reports whether the rule permits access at the given instant.
// Weekday numbering is 0=Sunday..6=Saturday; the time window check is
// inclusive at both boundaries.
func (r *Rule) Allows(now time.Time) bool {
	if len(r.AllowedDaysOfWeek) > 0 {
		day := int(now.Weekday()) // time.Sunday == 0
		ok := false
		for _, d := range r.AllowedDaysOfWeek {
			if d == day {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	if r.StartTime != nil && r.EndTime != nil {
		tod := TimeOfDayFrom(now)
		if tod < *r.StartTime || tod > *r.EndTime {
			return false
		}
	}

	return true
}
