// Package timetext turns loosely formatted date/time text into usable
// timestamps. It accepts ISO-like layouts as well as natural-language
// phrases ("tomorrow 6pm", "at 3pm") resolved against a reference time.
package timetext

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// DefaultDuration is the event length assumed whenever an end time is
// missing or does not follow its start.
const DefaultDuration = time.Hour

// ErrUnparseable signals that the input could not be resolved to a time.
// Callers receive the reference time as a provisional fallback alongside it.
var ErrUnparseable = errors.New("unparseable time expression")

var layouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 3:04 PM",
}

var parser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// Normalize resolves free-form time text against ref. Unspecified components
// (date for a bare time, time for a bare date) are taken from ref. On failure
// it returns ref itself together with ErrUnparseable so the caller always has
// a usable, if provisional, value.
func Normalize(text string, ref time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ref, ErrUnparseable
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, text, ref.Location()); err == nil {
			return t, nil
		}
	}
	r, err := parser.Parse(text, ref)
	if err != nil || r == nil {
		return ref, fmt.Errorf("%w: %q", ErrUnparseable, text)
	}
	return r.Time, nil
}

// EnsureOrdered returns the pair with end forced to start+DefaultDuration
// whenever end does not strictly follow start. Idempotent otherwise.
func EnsureOrdered(start, end time.Time) (time.Time, time.Time) {
	if !end.After(start) {
		end = start.Add(DefaultDuration)
	}
	return start, end
}

// WithLocalZone normalizes a timestamp's zone representation to loc without
// moving the instant. Offset-less text is already bound into the reference
// zone by Normalize, so every value reaching here is zone-aware; in
// particular an explicit UTC instant ("...Z" on the wire) stays the same
// instant. Idempotent.
func WithLocalZone(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc)
}

// HumanReadable renders a timestamp the way it would be spoken,
// e.g. "Thursday, November 13 at 6:00 PM".
func HumanReadable(t time.Time) string {
	return t.Format("Monday, January 2 at 3:04 PM")
}

// FormatRange renders an interval as a compact spoken range,
// e.g. "11/13/2025 6:00 PM - 7:00 PM".
func FormatRange(start, end time.Time) string {
	return fmt.Sprintf("%s %s - %s",
		start.Format("01/02/2006"),
		start.Format("3:04 PM"),
		end.Format("3:04 PM"))
}
