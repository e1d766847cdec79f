package domain

import (
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// pageTimeRe matches WTOP footer timestamps, e.g. "04/01/2025 at 07:53pm".
	pageTimeRe = regexp.MustCompile(`(?i)^(\d{2})/(\d{2})/(\d{4})\s+at\s+(\d{1,2}):(\d{2})\s*(am|pm)$`)

	errNoMatch    = errors.New("does not match MM/DD/YYYY at h:mm am|pm")
	errOutOfRange = errors.New("date or time out of range")
	errEmpty      = errors.New("empty value")
	errUnknownTS  = errors.New("unsupported timestamp format")
)

// severityClasses is ordered most severe first so a class that carries both
// tokens resolves to the higher level.
var severityClasses = []struct {
	token string
	level Severity
}{
	{token: "severity-3", level: SeverityMajor},
	{token: "severity-2", level: SeverityModerate},
}

// feedTimeLayouts are tried in order for string timestamps without an explicit zone.
var feedTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"01/02/2006 15:04:05",
	"01/02/2006 3:04:05 PM",
	"01/02/2006 3:04 PM",
}

// ParseSeverityClass maps a WTOP class attribute to a severity level.
// Unmatched or empty classes map to Minor.
func ParseSeverityClass(class string) Severity {
	for _, sc := range severityClasses {
		if strings.Contains(class, sc.token) {
			return sc.level
		}
	}
	return SeverityMinor
}

// ParsePageTime parses a WTOP timestamp ("MM/DD/YYYY at h:mm am|pm") in loc.
// Hour 12 am becomes 0 and pm hours below 12 gain 12.
func ParsePageTime(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	m := pageTimeRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return time.Time{}, errNoMatch
	}

	month, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	hour, _ := strconv.Atoi(m[4])
	minute, _ := strconv.Atoi(m[5])

	switch strings.ToLower(m[6]) {
	case "am":
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 12 {
			hour += 12
		}
	}

	if hour > 23 || minute > 59 {
		return time.Time{}, errOutOfRange
	}
	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc)
	if t.Month() != time.Month(month) || t.Day() != day {
		return time.Time{}, errOutOfRange
	}
	return t, nil
}

// PageTimeOrNow parses a WTOP timestamp, falling back to the current time.
// The returned ParseError is nil when s parsed or was empty.
func PageTimeOrNow(field, s string, loc *time.Location) (time.Time, *ParseError) {
	if strings.TrimSpace(s) == "" {
		return clock.Now(), nil
	}
	t, err := ParsePageTime(s, loc)
	if err != nil {
		return clock.Now(), &ParseError{Field: field, Value: s, Err: err}
	}
	return t, nil
}

// FeedTimeOrNow parses a CHART timestamp, falling back to the current time.
// CHART sends epoch milliseconds as numbers or strings; a few string layouts
// are accepted as well and interpreted in loc.
func FeedTimeOrNow(field string, raw json.RawMessage, loc *time.Location) (time.Time, *ParseError) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return clock.Now(), nil
	}
	t, err := parseFeedTime(s, loc)
	if err != nil {
		return clock.Now(), &ParseError{Field: field, Value: s, Err: err}
	}
	return t, nil
}

func parseFeedTime(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
	}
	if s == "" {
		return time.Time{}, errEmpty
	}

	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return epochTime(n)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range feedTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if t, err := ParsePageTime(s, loc); err == nil {
		return t, nil
	}
	return time.Time{}, errUnknownTS
}

// epochTime treats values of 1e11 and above as milliseconds, smaller values as seconds.
func epochTime(n float64) (time.Time, error) {
	if n <= 0 || math.IsInf(n, 0) || math.IsNaN(n) {
		return time.Time{}, errOutOfRange
	}
	if n >= 1e11 {
		return time.UnixMilli(int64(n)), nil
	}
	return time.Unix(int64(n), 0), nil
}
