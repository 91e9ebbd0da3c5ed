package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var durationRegexp = regexp.MustCompile(DurationPattern)

// Duration is a calendar aware duration like "1y 2months 3d 4h"
type Duration struct {
	Years, Months, Days int
	Clock               time.Duration
}

// ParseDuration parses a duration string matching DurationPattern. The empty string is
// not a valid duration.
func ParseDuration(s string) (Duration, error) {
	var d Duration
	m := durationRegexp.FindStringSubmatch(s)
	if s == "" || m == nil {
		return d, fmt.Errorf("invalid duration '%s'", s)
	}
	// number returns the leading digits of a matched unit group
	number := func(group string) int {
		if group == "" {
			return 0
		}
		digits := group
		for i, r := range group {
			if r < '0' || r > '9' {
				digits = group[:i]
				break
			}
		}
		n, _ := strconv.Atoi(digits)
		return n
	}
	d.Years = number(m[1])
	d.Months = number(m[3])
	d.Days = number(m[4])*7 + number(m[6])
	d.Clock = time.Duration(number(m[8]))*time.Hour +
		time.Duration(number(m[10]))*time.Minute +
		time.Duration(number(m[12]))*time.Second
	return d, nil
}

// AddTo returns t plus the duration
func (d Duration) AddTo(t time.Time) time.Time {
	return t.AddDate(d.Years, d.Months, d.Days).Add(d.Clock)
}

// ResolveExpires converts a $expires value into an absolute time. Values are either RFC 3339
// date-times or durations relative to now.
func ResolveExpires(value string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	d, err := ParseDuration(value)
	if err != nil {
		return time.Time{}, err
	}
	return d.AddTo(now), nil
}
