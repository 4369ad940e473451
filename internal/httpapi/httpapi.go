// Package httpapi exposes the assistant over HTTP: one-shot extraction,
// conflict checking and event creation routes mirroring the voice client's
// needs, plus a session-based dialogue bridge.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"calvox/internal/dialogue"
	"calvox/internal/models"
	"calvox/internal/timetext"
)

// isoLayout is the offset-less wire form used for extracted timestamps.
const isoLayout = "2006-01-02T15:04:05"

// Extractor is the black-box text-to-fields service.
type Extractor interface {
	Extract(ctx context.Context, text string) (models.EventDraft, error)
}

// Handler carries the HTTP routes and their collaborators.
type Handler struct {
	logger    *slog.Logger
	store     dialogue.Store
	extractor Extractor
	loc       *time.Location
	sessions  *sessionRegistry

	// Now is the reference clock for resolving loose timestamps.
	// Overridable in tests.
	Now func() time.Time

	// IdleTimeout is how long an open dialogue session may sit without a
	// follow-up request before it expires. Overridable in tests.
	IdleTimeout time.Duration
}

// NewHandler wires the route layer. extractor may be nil, in which case the
// dialogue starts from an empty draft and /extract reports unavailability.
func NewHandler(logger *slog.Logger, store dialogue.Store, extractor Extractor, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{
		logger:      logger,
		store:       store,
		extractor:   extractor,
		loc:         loc,
		sessions:    newSessionRegistry(),
		Now:         time.Now,
		IdleTimeout: sessionIdleTimeout,
	}
}

// Router builds the chi router for all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.handleHealth)
	r.Post("/extract", h.handleExtract)
	r.Post("/check_conflicts", h.handleCheckConflicts)
	r.Post("/add_event", h.handleAddEvent)
	r.Post("/dialogue", h.handleDialogue)
	return r
}

type textRequest struct {
	Text string `json:"text"`
}

type intervalRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type addEventRequest struct {
	Title    string `json:"title"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Location string `json:"location"`
}

type conflictView struct {
	Title string `json:"title"`
	Start string `json:"start"`
	End   string `json:"end"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		h.writeError(w, http.StatusBadRequest, "No text provided", "I didn't hear anything.")
		return
	}
	if h.extractor == nil {
		h.writeError(w, http.StatusServiceUnavailable, "extraction not configured", "I can't understand messages right now.")
		return
	}

	draft, err := h.extractor.Extract(r.Context(), req.Text)
	if err != nil {
		h.logger.Error("Extraction failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "extraction_failed", "I couldn't understand that message.")
		return
	}

	resp := map[string]string{
		"title":    draft.Title,
		"start":    formatISO(draft.Start),
		"end":      formatISO(draft.End),
		"location": draft.Location,
	}

	var parts []string
	if draft.Title != "" {
		parts = append(parts, "Title: "+draft.Title)
	}
	if !draft.Start.IsZero() {
		parts = append(parts, "Start: "+timetext.HumanReadable(draft.Start))
	}
	if !draft.End.IsZero() {
		parts = append(parts, "End: "+timetext.HumanReadable(draft.End))
	}
	if draft.Location != "" {
		parts = append(parts, "Location: "+draft.Location)
	}

	if len(parts) > 0 {
		resp["spoken_response"] = "I extracted the following: " + strings.Join(parts, "; ") + ". Is that correct?"
	} else {
		resp["spoken_response"] = "I couldn't find clear event details in that. What is the title, start, end, or location?"
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCheckConflicts(w http.ResponseWriter, r *http.Request) {
	var req intervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Start == "" || req.End == "" {
		h.writeError(w, http.StatusBadRequest, "start and end required", "I need both start and end times to check for conflicts.")
		return
	}

	start, end, ok := h.parseInterval(req.Start, req.End)
	if !ok {
		// A bound that failed to parse would otherwise silently collapse to
		// the current time; report no conflicts instead of guessing.
		h.writeJSON(w, http.StatusOK, map[string]any{
			"conflicts":       []conflictView{},
			"spoken_response": "I couldn't make out those times, so I didn't find any conflicts.",
		})
		return
	}
	conflicts := dialogue.FindConflicts(r.Context(), h.logger, h.store, start, end)

	views := make([]conflictView, 0, len(conflicts))
	var spokenItems []string
	for _, c := range conflicts {
		views = append(views, conflictView{
			Title: c.Title,
			Start: c.Start.Format(time.RFC3339),
			End:   c.End.Format(time.RFC3339),
		})
		spokenItems = append(spokenItems, c.Title+" on "+timetext.FormatRange(c.Start, c.End))
	}

	spoken := "No conflicts found for " + timetext.HumanReadable(start) + "."
	if len(spokenItems) > 0 {
		spoken = "You already have the following event(s): " + strings.Join(spokenItems, "; ") +
			". Would you like to reschedule the new event?"
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"conflicts":       views,
		"spoken_response": spoken,
	})
}

func (h *Handler) handleAddEvent(w http.ResponseWriter, r *http.Request) {
	var req addEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" || req.Start == "" || req.End == "" {
		h.writeError(w, http.StatusBadRequest, "title, start, end required", "I need title, start, and end to add the event.")
		return
	}

	start, end, _ := h.parseInterval(req.Start, req.End)
	ev := models.CalendarEvent{Title: req.Title, Start: start, End: end, Location: req.Location}

	id, err := dialogue.Commit(r.Context(), h.logger, h.store, h.loc, ev)
	if err != nil {
		h.logger.Error("Error adding event", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed_to_add", "I couldn't add the event due to a server error.")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":          "added",
		"event_id":        id,
		"spoken_response": "Added " + req.Title + " on " + timetext.FormatRange(start, end) + ".",
	})
}

// parseInterval resolves the two loose timestamps and returns a
// zone-qualified, ordered interval. Unparseable bounds fall back to now
// and clear ok so callers can choose not to trust the interval.
func (h *Handler) parseInterval(startRaw, endRaw string) (start, end time.Time, ok bool) {
	ref := h.Now().In(h.loc)
	ok = true
	start, err := timetext.Normalize(startRaw, ref)
	if err != nil {
		h.logger.Warn("Could not parse start time", "value", startRaw)
		ok = false
	}
	end, err = timetext.Normalize(endRaw, ref)
	if err != nil {
		h.logger.Warn("Could not parse end time", "value", endRaw)
		ok = false
	}
	start = timetext.WithLocalZone(start, h.loc)
	end = timetext.WithLocalZone(end, h.loc)
	start, end = timetext.EnsureOrdered(start, end)
	return start, end, ok
}

func formatISO(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(isoLayout)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errMsg, spoken string) {
	h.writeJSON(w, status, map[string]string{
		"error":           errMsg,
		"spoken_response": spoken,
	})
}
