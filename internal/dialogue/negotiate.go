package dialogue

import (
	"context"
	"fmt"
	"time"

	"calvox/internal/models"
	"calvox/internal/timetext"
)

// negotiationState enumerates the stops of the bounded negotiation exchange.
// The machine only moves forward and resolves in at most two prompts.
type negotiationState int

const (
	negotiationStart negotiationState = iota
	negotiationAwaitDecision
	negotiationAwaitNewTime
	negotiationResolved
)

// Negotiate resolves a candidate interval against the given overlapping
// bookings. With no overlaps the interval passes through untouched. Otherwise
// each booking is announced and the user is offered one reschedule: an
// affirmative reply followed by a parseable time yields a fresh interval of
// the default duration anchored there; anything else keeps the original.
//
// The replacement interval is deliberately not re-checked against the store;
// HadConflict stays set so a caller that wants re-validation can run the
// check again.
func (s *Session) Negotiate(ctx context.Context, start, end time.Time, overlaps []models.ExistingBooking) models.NegotiationOutcome {
	outcome := models.NegotiationOutcome{Start: start, End: end}

	for state := negotiationStart; state != negotiationResolved; {
		switch state {
		case negotiationStart:
			if len(overlaps) == 0 {
				state = negotiationResolved
				continue
			}
			outcome.HadConflict = true
			s.say(ctx, "You already have the following event(s):")
			for _, b := range overlaps {
				s.say(ctx, fmt.Sprintf("%s on %s", b.Title, timetext.FormatRange(b.Start, b.End)))
			}
			state = negotiationAwaitDecision

		case negotiationAwaitDecision:
			reply, err := s.ch.Prompt(ctx, "Would you like to reschedule the new event?")
			if err != nil {
				s.logger.Warn("Channel failed during negotiation, keeping original time.", "error", err)
				state = negotiationResolved
				continue
			}
			if !matchesAny(reply, affirmativeWords) {
				s.say(ctx, "Okay, keeping the original time.")
				state = negotiationResolved
				continue
			}
			state = negotiationAwaitNewTime

		case negotiationAwaitNewTime:
			reply, err := s.ch.Prompt(ctx, "What time should I move it to?")
			if err != nil {
				s.logger.Warn("Channel failed during negotiation, keeping original time.", "error", err)
				state = negotiationResolved
				continue
			}
			// Bare times in the reply inherit the original candidate's date.
			newStart, perr := timetext.Normalize(reply, start)
			if perr != nil {
				s.say(ctx, "Sorry, I didn't understand that time. Keeping the original.")
				state = negotiationResolved
				continue
			}
			outcome.Start = newStart
			outcome.End = newStart.Add(timetext.DefaultDuration)
			state = negotiationResolved
		}
	}
	return outcome
}
