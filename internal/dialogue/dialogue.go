// Package dialogue drives the interactive completion of a calendar event
// draft: it fills missing fields over a prompt/response channel, checks the
// target interval against existing bookings and, on overlap, negotiates a
// replacement time before handing the event to the committer.
package dialogue

import (
	"context"
	"errors"
	"strings"
	"time"

	"calvox/internal/models"
)

// Store is the remote system of record for bookings.
type Store interface {
	// ListOverlapping returns every event intersecting [start, end),
	// ordered by start time ascending.
	ListOverlapping(ctx context.Context, start, end time.Time) ([]models.ExistingBooking, error)

	// Insert submits a fully resolved event and returns its assigned id.
	Insert(ctx context.Context, ev models.CalendarEvent) (string, error)
}

// Channel is the abstract bidirectional text exchange with the user. Both
// the console/speech adapter and the HTTP session adapter implement it.
type Channel interface {
	// Say delivers a statement that needs no reply.
	Say(ctx context.Context, text string) error

	// Prompt delivers a question and blocks until a reply arrives.
	Prompt(ctx context.Context, text string) (string, error)
}

var (
	// ErrDialogueCancelled is the normal terminal outcome of a session the
	// user backed out of. The in-progress draft is discarded.
	ErrDialogueCancelled = errors.New("dialogue cancelled")

	// ErrCommitFailed wraps the store error when the final insert fails.
	ErrCommitFailed = errors.New("event commit failed")

	// ErrIncompleteEvent rejects a commit with missing required fields.
	ErrIncompleteEvent = errors.New("event is missing required fields")
)

var (
	affirmativeWords = []string{"reschedule", "change", "yes"}
	cancelWords      = []string{"cancel", "nevermind"}
)

// matchesAny reports whether the reply contains any of the vocabulary words,
// case-insensitively.
func matchesAny(reply string, words []string) bool {
	reply = strings.ToLower(reply)
	for _, w := range words {
		if strings.Contains(reply, w) {
			return true
		}
	}
	return false
}
