package snapshot

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout formats the calendar date used for fired-mark de-duplication.
const DateLayout = "2006-01-02"

// ParseTimeOfDay parses a 24-hour "HH:MM:SS" value and returns the second of
// day. A single-digit hour is accepted ("9:30:00").
func ParseTimeOfDay(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM:SS", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := atoiTwoDigit(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	sec, err := atoiTwoDigit(parts[2])
	if err != nil || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("invalid second in %q", s)
	}
	return h*3600 + m*60 + sec, nil
}

func atoiTwoDigit(s string) (int, error) {
	if len(s) != 2 {
		return 0, fmt.Errorf("expected two digits, got %q", s)
	}
	return strconv.Atoi(s)
}

// WithinWindow reports whether now falls inside the inclusive ±tolerance
// window around the target second of day, on now's own date. There is no
// wraparound across midnight: an entry near 00:00 evaluated late the previous
// day is out of window and fires shortly after midnight instead.
func WithinWindow(now time.Time, targetSecOfDay int, tolerance time.Duration) bool {
	nowSec := now.Hour()*3600 + now.Minute()*60 + now.Second()
	diff := nowSec - targetSecOfDay
	if diff < 0 {
		diff = -diff
	}
	return diff <= int(tolerance/time.Second)
}
