package models

import "time"

// EventDraft accumulates event fields during a dialogue session.
// Zero values mean "not yet known"; the completer prompts for them in turn.
// A draft is owned by exactly one session and is never shared.
type EventDraft struct {
	Title    string
	Start    time.Time
	End      time.Time
	Location string
}

// CalendarEvent is a fully resolved event, the only shape the committer accepts.
type CalendarEvent struct {
	Title    string
	Start    time.Time
	End      time.Time
	Location string
}

// ExistingBooking is a read-only projection of a remote event returned by a
// conflict check. It lives for one check and is never written back.
type ExistingBooking struct {
	Title string
	Start time.Time
	End   time.Time
}

// NegotiationOutcome is the result of one negotiation run: the interval to
// use and whether it was contested. Consumed once by the caller.
type NegotiationOutcome struct {
	Start       time.Time
	End         time.Time
	HadConflict bool
}
