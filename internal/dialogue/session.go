package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"calvox/internal/models"
	"calvox/internal/timetext"
)

// Session owns one dialogue from draft to candidate event. It fills the
// draft's missing fields over the channel, then runs the conflict check and
// negotiation exactly once before handing the result back.
type Session struct {
	logger *slog.Logger
	store  Store
	ch     Channel
	loc    *time.Location

	// Now is the reference clock for resolving relative time phrases.
	// Overridable in tests.
	Now func() time.Time
}

// NewSession creates a session bound to one store, channel and time zone.
func NewSession(logger *slog.Logger, store Store, ch Channel, loc *time.Location) *Session {
	if loc == nil {
		loc = time.Local
	}
	return &Session{
		logger: logger,
		store:  store,
		ch:     ch,
		loc:    loc,
		Now:    time.Now,
	}
}

// Run drives the draft to completeness. Fields are elicited in a fixed order
// (title, start, end, location) and a field already present is never asked
// for. A reply matching the cancellation vocabulary at any prompt aborts the
// whole dialogue with ErrDialogueCancelled and discards the draft.
//
// Once both times are known the interval is zone-qualified, ordered, checked
// against the store and negotiated, unconditionally; pre-supplying the times
// does not bypass the conflict check.
func (s *Session) Run(ctx context.Context, draft models.EventDraft) (models.CalendarEvent, error) {
	if draft.Title == "" {
		reply, err := s.ask(ctx, "What is the title of the event?")
		if err != nil {
			return models.CalendarEvent{}, err
		}
		draft.Title = reply
	}

	if draft.Start.IsZero() {
		reply, err := s.ask(ctx, "When does it start?")
		if err != nil {
			return models.CalendarEvent{}, err
		}
		draft.Start = s.normalize(ctx, reply)
	}

	if draft.End.IsZero() {
		reply, err := s.ask(ctx, "When does it end?")
		if err != nil {
			return models.CalendarEvent{}, err
		}
		draft.End = s.normalize(ctx, reply)
	}

	if draft.Location == "" {
		reply, err := s.ask(ctx, "Where does it take place?")
		if err != nil {
			return models.CalendarEvent{}, err
		}
		draft.Location = reply
	}

	start := timetext.WithLocalZone(draft.Start, s.loc)
	end := timetext.WithLocalZone(draft.End, s.loc)
	start, end = timetext.EnsureOrdered(start, end)

	overlaps := FindConflicts(ctx, s.logger, s.store, start, end)
	outcome := s.Negotiate(ctx, start, end, overlaps)
	draft.Start, draft.End = outcome.Start, outcome.End

	return models.CalendarEvent{
		Title:    draft.Title,
		Start:    draft.Start,
		End:      draft.End,
		Location: draft.Location,
	}, nil
}

// ask issues one prompt and screens the reply for cancellation.
func (s *Session) ask(ctx context.Context, question string) (string, error) {
	reply, err := s.ch.Prompt(ctx, question)
	if err != nil {
		return "", fmt.Errorf("prompting for %q: %w", question, err)
	}
	reply = strings.TrimSpace(reply)
	if matchesAny(reply, cancelWords) {
		return "", ErrDialogueCancelled
	}
	return reply, nil
}

// normalize parses a time reply against the current clock. An unparseable
// reply falls back to the reference time and tells the user, rather than
// failing the dialogue.
func (s *Session) normalize(ctx context.Context, text string) time.Time {
	ref := s.Now().In(s.loc)
	t, err := timetext.Normalize(text, ref)
	if err != nil {
		s.logger.Warn("Could not parse time reply, using reference time.", "reply", text)
		s.say(ctx, fmt.Sprintf("I couldn't make out that time, assuming %s for now.", timetext.HumanReadable(t)))
	}
	return t
}

// say delivers an announcement, logging rather than failing when the channel
// cannot carry it.
func (s *Session) say(ctx context.Context, text string) {
	if err := s.ch.Say(ctx, text); err != nil {
		s.logger.Warn("Could not deliver announcement.", "text", text, "error", err)
	}
}
