package dialogue

import (
	"context"
	"log/slog"
	"time"

	"calvox/internal/models"
)

// FindConflicts queries the store for bookings overlapping [start, end).
// Both bounds must already be zone-qualified and ordered. A store failure
// degrades to "no known conflicts" so the dialogue can proceed instead of
// stalling; the condition is logged for the operator.
func FindConflicts(ctx context.Context, logger *slog.Logger, store Store, start, end time.Time) []models.ExistingBooking {
	bookings, err := store.ListOverlapping(ctx, start, end)
	if err != nil {
		logger.Warn("Conflict check unavailable, proceeding without known conflicts.", "error", err)
		return nil
	}
	return bookings
}
