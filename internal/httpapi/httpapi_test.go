package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calvox/internal/models"
)

var testLoc = time.FixedZone("UTC-5", -5*60*60)

type fakeStore struct {
	bookings  []models.ExistingBooking
	listErr   error
	insertErr error
	listCalls int
	inserted  []models.CalendarEvent
}

func (f *fakeStore) ListOverlapping(_ context.Context, _, _ time.Time) ([]models.ExistingBooking, error) {
	f.listCalls++
	return f.bookings, f.listErr
}

func (f *fakeStore) Insert(_ context.Context, ev models.CalendarEvent) (string, error) {
	if f.insertErr != nil {
		return "", f.insertErr
	}
	f.inserted = append(f.inserted, ev)
	return "evt-1", nil
}

type stubExtractor struct {
	draft models.EventDraft
	err   error
}

func (s stubExtractor) Extract(_ context.Context, _ string) (models.EventDraft, error) {
	return s.draft, s.err
}

func newTestHandler(store *fakeStore, extractor Extractor) *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, store, extractor, testLoc)
	h.Now = func() time.Time { return time.Date(2026, 8, 31, 10, 0, 0, 0, testLoc) }
	return h
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestHealth(t *testing.T) {
	h := newTestHandler(&fakeStore{}, nil)
	rec, body := doJSON(t, h.Router(), http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestExtract(t *testing.T) {
	draft := models.EventDraft{
		Title:    "Dinner",
		Start:    time.Date(2026, 9, 1, 18, 0, 0, 0, testLoc),
		Location: "Home",
	}
	h := newTestHandler(&fakeStore{}, stubExtractor{draft: draft})
	router := h.Router()

	t.Run("returns fields and summary", func(t *testing.T) {
		rec, body := doJSON(t, router, http.MethodPost, "/extract", map[string]string{"text": "dinner tomorrow at home"})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Dinner", body["title"])
		assert.Equal(t, "2026-09-01T18:00:00", body["start"])
		assert.Equal(t, "", body["end"])
		assert.Equal(t, "Home", body["location"])
		assert.Contains(t, body["spoken_response"], "I extracted the following")
	})

	t.Run("missing text rejected", func(t *testing.T) {
		rec, body := doJSON(t, router, http.MethodPost, "/extract", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "I didn't hear anything.", body["spoken_response"])
	})
}

func TestCheckConflicts(t *testing.T) {
	start := time.Date(2026, 9, 1, 18, 0, 0, 0, testLoc)
	interval := map[string]string{"start": "2026-09-01T18:00:00", "end": "2026-09-01T19:00:00"}

	t.Run("overlap reported with reschedule offer", func(t *testing.T) {
		store := &fakeStore{bookings: []models.ExistingBooking{{Title: "Gym", Start: start, End: start.Add(time.Hour)}}}
		h := newTestHandler(store, nil)
		rec, body := doJSON(t, h.Router(), http.MethodPost, "/check_conflicts", interval)
		assert.Equal(t, http.StatusOK, rec.Code)
		conflicts := body["conflicts"].([]any)
		require.Len(t, conflicts, 1)
		assert.Contains(t, body["spoken_response"], "Would you like to reschedule")
	})

	t.Run("no overlaps", func(t *testing.T) {
		h := newTestHandler(&fakeStore{}, nil)
		rec, body := doJSON(t, h.Router(), http.MethodPost, "/check_conflicts", interval)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, body["spoken_response"], "No conflicts found")
	})

	t.Run("store failure degrades to no conflicts", func(t *testing.T) {
		h := newTestHandler(&fakeStore{listErr: errors.New("unreachable")}, nil)
		rec, body := doJSON(t, h.Router(), http.MethodPost, "/check_conflicts", interval)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, body["spoken_response"], "No conflicts found")
	})

	t.Run("missing bounds rejected", func(t *testing.T) {
		h := newTestHandler(&fakeStore{}, nil)
		rec, _ := doJSON(t, h.Router(), http.MethodPost, "/check_conflicts", map[string]string{"start": "2026-09-01T18:00:00"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unparseable bound skips the store and reports no conflicts", func(t *testing.T) {
		store := &fakeStore{bookings: []models.ExistingBooking{{Title: "Gym", Start: start, End: start.Add(time.Hour)}}}
		h := newTestHandler(store, nil)
		rec, body := doJSON(t, h.Router(), http.MethodPost, "/check_conflicts", map[string]string{
			"start": "qwxz", "end": "2026-09-01T19:00:00",
		})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, body["conflicts"])
		assert.Contains(t, body["spoken_response"], "couldn't make out those times")
		assert.Zero(t, store.listCalls)
	})
}

func TestAddEvent(t *testing.T) {
	payload := map[string]string{
		"title":    "Dinner",
		"start":    "2026-09-01T18:00:00",
		"end":      "2026-09-01T19:00:00",
		"location": "Home",
	}

	t.Run("success", func(t *testing.T) {
		store := &fakeStore{}
		h := newTestHandler(store, nil)
		rec, body := doJSON(t, h.Router(), http.MethodPost, "/add_event", payload)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "added", body["status"])
		assert.Equal(t, "evt-1", body["event_id"])
		require.Len(t, store.inserted, 1)
		assert.Equal(t, "Home", store.inserted[0].Location)
	})

	t.Run("store failure", func(t *testing.T) {
		h := newTestHandler(&fakeStore{insertErr: errors.New("boom")}, nil)
		rec, body := doJSON(t, h.Router(), http.MethodPost, "/add_event", payload)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "failed_to_add", body["error"])
	})

	t.Run("missing required fields", func(t *testing.T) {
		h := newTestHandler(&fakeStore{}, nil)
		rec, _ := doJSON(t, h.Router(), http.MethodPost, "/add_event", map[string]string{"title": "Dinner"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("utc-qualified times keep their instant", func(t *testing.T) {
		store := &fakeStore{}
		h := newTestHandler(store, nil)
		rec, _ := doJSON(t, h.Router(), http.MethodPost, "/add_event", map[string]string{
			"title": "Standup",
			"start": "2026-09-01T18:00:00Z",
			"end":   "2026-09-01T19:00:00Z",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, store.inserted, 1)
		wantStart := time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)
		wantEnd := time.Date(2026, 9, 1, 19, 0, 0, 0, time.UTC)
		assert.True(t, store.inserted[0].Start.Equal(wantStart), "got start %v", store.inserted[0].Start)
		assert.True(t, store.inserted[0].End.Equal(wantEnd), "got end %v", store.inserted[0].End)
	})
}

func TestDialogue_CompletesAndCommits(t *testing.T) {
	store := &fakeStore{}
	h := newTestHandler(store, stubExtractor{draft: models.EventDraft{Title: "Dinner", Location: "Home"}})
	router := h.Router()

	rec, body := doJSON(t, router, http.MethodPost, "/dialogue", map[string]string{"text": "dinner at home"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "in_progress", body["status"])
	assert.Contains(t, body["spoken_response"], "When does it start?")
	sessionID := body["session_id"].(string)
	require.NotEmpty(t, sessionID)

	rec, body = doJSON(t, router, http.MethodPost, "/dialogue", map[string]string{
		"session_id": sessionID, "text": "2026-09-01T18:00:00",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body["spoken_response"], "When does it end?")

	rec, body = doJSON(t, router, http.MethodPost, "/dialogue", map[string]string{
		"session_id": sessionID, "text": "2026-09-01T19:00:00",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "added", body["status"])
	assert.Equal(t, "evt-1", body["event_id"])
	assert.Contains(t, body["spoken_response"], "Added Dinner")
	require.Len(t, store.inserted, 1)

	// Session is gone after completion.
	rec, _ = doJSON(t, router, http.MethodPost, "/dialogue", map[string]string{
		"session_id": sessionID, "text": "anything",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDialogue_Cancel(t *testing.T) {
	h := newTestHandler(&fakeStore{}, stubExtractor{draft: models.EventDraft{}})
	router := h.Router()

	rec, body := doJSON(t, router, http.MethodPost, "/dialogue", map[string]string{"text": "make me an event"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body["spoken_response"], "What is the title")
	sessionID := body["session_id"].(string)

	rec, body = doJSON(t, router, http.MethodPost, "/dialogue", map[string]string{
		"session_id": sessionID, "text": "cancel",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", body["status"])
}

func TestDialogue_AbandonedSessionExpires(t *testing.T) {
	h := newTestHandler(&fakeStore{}, stubExtractor{draft: models.EventDraft{}})
	h.IdleTimeout = 50 * time.Millisecond
	router := h.Router()

	var ids []string
	for i := 0; i < 5; i++ {
		rec, body := doJSON(t, router, http.MethodPost, "/dialogue", map[string]string{"text": "make me an event"})
		require.Equal(t, http.StatusOK, rec.Code)
		ids = append(ids, body["session_id"].(string))
	}
	require.Equal(t, 5, h.sessions.len())

	// Nobody answers the prompts; every session should expire and free its
	// registry entry.
	deadline := time.Now().Add(2 * time.Second)
	for h.sessions.len() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("%d sessions still registered after idle timeout", h.sessions.len())
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec, _ := doJSON(t, router, http.MethodPost, "/dialogue", map[string]string{
		"session_id": ids[0], "text": "Dinner",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDialogue_UnknownSession(t *testing.T) {
	h := newTestHandler(&fakeStore{}, nil)
	rec, _ := doJSON(t, h.Router(), http.MethodPost, "/dialogue", map[string]string{
		"session_id": "nope", "text": "hello",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
