// Package day turns every date-like input into one canonical calendar day,
// evaluated in a single fixed civil offset. All producers and consumers of
// attendance days go through a Normalizer; nothing else in the module does
// date truncation.
package day

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"classledger/internal/apperr"
)

// Layout is the canonical textual form of a Day.
const Layout = "2006-01-02"

// Day is a calendar date with no time-of-day or zone component.
type Day string

func (d Day) String() string { return string(d) }

// Time returns midnight of d in loc.
func (d Day) Time(loc *time.Location) time.Time {
	t, err := time.ParseInLocation(Layout, string(d), loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

// AddDays returns the day n days after d.
func (d Day) AddDays(n int) Day {
	t := d.Time(time.UTC)
	if t.IsZero() {
		return d
	}
	return Day(t.AddDate(0, 0, n).Format(Layout))
}

// Before reports whether d is strictly earlier than o. Canonical days compare
// lexically.
func (d Day) Before(o Day) bool { return d < o }

// zone-less layouts are read as civil time in the normalizer's offset.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05.999999999Z0700",
}

// Normalizer converts inputs into Days anchored to one fixed offset.
type Normalizer struct {
	loc *time.Location
	now func() time.Time
}

// NewNormalizer builds a normalizer for the given offset. A nil clock means
// time.Now.
func NewNormalizer(offset time.Duration, now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{loc: FixedZone(offset), now: now}
}

// FixedZone names the zone by its offset so it never resolves against tzdata.
func FixedZone(offset time.Duration) *time.Location {
	secs := int(offset / time.Second)
	sign := '+'
	abs := secs
	if secs < 0 {
		sign = '-'
		abs = -secs
	}
	name := fmt.Sprintf("UTC%c%02d:%02d", sign, abs/3600, (abs%3600)/60)
	return time.FixedZone(name, secs)
}

// ParseOffset reads "+05:30", "-0800", "+7" or "Z".
func ParseOffset(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "Z" || strings.EqualFold(s, "UTC") {
		return 0, nil
	}
	sign := time.Duration(1)
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		sign = -1
		s = s[1:]
	}
	var hh, mm string
	switch {
	case strings.Contains(s, ":"):
		parts := strings.SplitN(s, ":", 2)
		hh, mm = parts[0], parts[1]
	case len(s) == 4:
		hh, mm = s[:2], s[2:]
	default:
		hh, mm = s, "0"
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 14 {
		return 0, fmt.Errorf("invalid offset %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m >= 60 {
		return 0, fmt.Errorf("invalid offset %q", s)
	}
	return sign * (time.Duration(h)*time.Hour + time.Duration(m)*time.Minute), nil
}

// Location is the fixed zone days are evaluated in.
func (n *Normalizer) Location() *time.Location { return n.loc }

// Now is the normalizer's clock reading in its zone.
func (n *Normalizer) Now() time.Time { return n.now().In(n.loc) }

// Today is the current canonical day.
func (n *Normalizer) Today() Day { return n.NormalizeTime(n.now()) }

// NormalizeTime returns the day t falls on in the fixed offset.
func (n *Normalizer) NormalizeTime(t time.Time) Day {
	return Day(t.In(n.loc).Format(Layout))
}

// Normalize parses input and returns its canonical day. An empty input means
// today.
func (n *Normalizer) Normalize(input string) (Day, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return n.Today(), nil
	}
	if len(s) == len(Layout) {
		t, err := time.Parse(Layout, s)
		if err != nil {
			return "", apperr.InvalidDate(input)
		}
		return Day(t.Format(Layout)), nil
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return n.NormalizeTime(t), nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, n.loc); err == nil {
			return n.NormalizeTime(t), nil
		}
	}
	return "", apperr.InvalidDate(input)
}

// RequireToday normalizes input and fails unless it is today.
func (n *Normalizer) RequireToday(input string) (Day, error) {
	d, err := n.Normalize(input)
	if err != nil {
		return "", err
	}
	if d != n.Today() {
		return "", apperr.OnlyTodayAllowed(d.String())
	}
	return d, nil
}

// Range normalizes both bounds and returns every day in [from, to]. Spans
// longer than maxDays are rejected.
func (n *Normalizer) Range(from, to string, maxDays int) ([]Day, error) {
	start, err := n.Normalize(from)
	if err != nil {
		return nil, err
	}
	end, err := n.Normalize(to)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, apperr.Invalid("range end is before range start").WithDetail(start.String() + ".." + end.String())
	}
	var days []Day
	for d := start; !end.Before(d); d = d.AddDays(1) {
		days = append(days, d)
		if maxDays > 0 && len(days) > maxDays {
			return nil, apperr.Invalid(fmt.Sprintf("range exceeds %d days", maxDays))
		}
	}
	return days, nil
}
