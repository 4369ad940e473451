package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"calvox/internal/models"
	"calvox/internal/timetext"
)

// Commit validates a fully resolved event and submits it to the store,
// returning the store-assigned identifier. Start and end get the local zone
// attached if still unqualified. A store failure surfaces as ErrCommitFailed
// with the underlying cause; there is no retry.
func Commit(ctx context.Context, logger *slog.Logger, store Store, loc *time.Location, ev models.CalendarEvent) (string, error) {
	if ev.Title == "" || ev.Start.IsZero() || ev.End.IsZero() {
		return "", fmt.Errorf("%w: title, start and end are required", ErrIncompleteEvent)
	}
	if loc == nil {
		loc = time.Local
	}
	ev.Start = timetext.WithLocalZone(ev.Start, loc)
	ev.End = timetext.WithLocalZone(ev.End, loc)

	id, err := store.Insert(ctx, ev)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}
	logger.Info("Event committed.", "title", ev.Title, "id", id)
	return id, nil
}
