package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"calvox/internal/dialogue"
	"calvox/internal/models"
	"calvox/internal/timetext"
)

// replyTimeout bounds how long a single /dialogue request waits for the
// session goroutine to produce its next prompt or finish.
const replyTimeout = 30 * time.Second

// sessionIdleTimeout is the default idle deadline for an open dialogue
// session. An abandoned session is removed from the registry and its
// goroutine unblocked once the deadline passes without a follow-up request.
const sessionIdleTimeout = 2 * time.Minute

type dialogueRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type sessionResult struct {
	event   models.CalendarEvent
	eventID string
	err     error
}

// httpChannel adapts the blocking prompt/reply contract onto HTTP
// request/response pairs. Announcements accumulate and ride along with the
// next prompt or the final message.
type httpChannel struct {
	mu      sync.Mutex
	pending []string
	prompts chan string
	replies chan string
}

func newHTTPChannel() *httpChannel {
	return &httpChannel{
		prompts: make(chan string),
		replies: make(chan string),
	}
}

func (c *httpChannel) Say(_ context.Context, text string) error {
	c.mu.Lock()
	c.pending = append(c.pending, text)
	c.mu.Unlock()
	return nil
}

func (c *httpChannel) Prompt(ctx context.Context, text string) (string, error) {
	c.mu.Lock()
	lines := append(c.pending, text)
	c.pending = nil
	c.mu.Unlock()

	select {
	case c.prompts <- strings.Join(lines, " "):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case reply := <-c.replies:
		return reply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// drainPending collects announcements issued after the last prompt.
func (c *httpChannel) drainPending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	lines := c.pending
	c.pending = nil
	return lines
}

type httpSession struct {
	id   string
	ch   *httpChannel
	done chan sessionResult

	// ctx governs the dialogue goroutine; cancel unblocks it whether the
	// session finished, expired, or was torn down.
	ctx    context.Context
	cancel context.CancelFunc
	expiry *time.Timer
}

// touch pushes the session's idle deadline forward.
func (s *httpSession) touch(d time.Duration) {
	s.expiry.Reset(d)
}

// close stops the expiry timer and releases the dialogue goroutine.
func (s *httpSession) close() {
	s.expiry.Stop()
	s.cancel()
}

type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*httpSession
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*httpSession)}
}

func (r *sessionRegistry) add(s *httpSession) {
	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()
}

func (r *sessionRegistry) get(id string) (*httpSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *sessionRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func (r *sessionRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// handleDialogue runs the stateful dialogue over HTTP. A request without a
// session id opens a new session seeded by extraction of the text; requests
// carrying a session id feed the text as the reply to the pending prompt.
// Each response carries either the next prompt or the terminal outcome.
func (h *Handler) handleDialogue(w http.ResponseWriter, r *http.Request) {
	var req dialogueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload", "I didn't catch that.")
		return
	}

	var sess *httpSession
	if req.SessionID == "" {
		if req.Text == "" {
			h.writeError(w, http.StatusBadRequest, "No text provided", "I didn't hear anything.")
			return
		}
		sess = h.startSession(r.Context(), req.Text)
	} else {
		var ok bool
		sess, ok = h.sessions.get(req.SessionID)
		if !ok {
			h.writeError(w, http.StatusNotFound, "unknown session", "I lost track of that conversation, please start over.")
			return
		}
		sess.touch(h.IdleTimeout)
		select {
		case sess.ch.replies <- req.Text:
		case <-sess.ctx.Done():
			h.sessions.remove(sess.id)
			h.writeError(w, http.StatusNotFound, "session expired", "That conversation timed out, please start over.")
			return
		case <-time.After(replyTimeout):
			h.writeError(w, http.StatusConflict, "session not awaiting a reply", "I wasn't expecting an answer just now.")
			return
		}
	}

	select {
	case prompt := <-sess.ch.prompts:
		h.writeJSON(w, http.StatusOK, map[string]string{
			"session_id":      sess.id,
			"status":          "in_progress",
			"spoken_response": prompt,
		})
	case res := <-sess.done:
		h.sessions.remove(sess.id)
		h.finishDialogue(w, sess, res)
	case <-sess.ctx.Done():
		// The goroutine cancels its context right after posting the result,
		// so a terminal outcome may already be buffered.
		select {
		case res := <-sess.done:
			h.sessions.remove(sess.id)
			h.finishDialogue(w, sess, res)
		default:
			h.sessions.remove(sess.id)
			h.writeError(w, http.StatusNotFound, "session expired", "That conversation timed out, please start over.")
		}
	case <-time.After(replyTimeout):
		h.writeError(w, http.StatusGatewayTimeout, "dialogue stalled", "Something went wrong, please try again.")
	}
}

// startSession extracts an initial draft from the opening message and runs
// the dialogue on its own goroutine, committing the event on completion.
// The session outlives the opening request, so it runs on its own cancellable
// context; the idle timer guarantees an abandoned session releases its
// goroutine and registry entry.
func (h *Handler) startSession(reqCtx context.Context, text string) *httpSession {
	draft := models.EventDraft{}
	if h.extractor != nil {
		extracted, err := h.extractor.Extract(reqCtx, text)
		if err != nil {
			h.logger.Warn("Extraction failed, starting from an empty draft.", "error", err)
		} else {
			draft = extracted
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &httpSession{
		id:     uuid.New().String(),
		ch:     newHTTPChannel(),
		done:   make(chan sessionResult, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	sess.expiry = time.AfterFunc(h.IdleTimeout, func() {
		h.logger.Warn("Dialogue session expired", "session_id", sess.id)
		h.sessions.remove(sess.id)
		sess.cancel()
	})
	h.sessions.add(sess)

	go func() {
		defer sess.close()
		ds := dialogue.NewSession(h.logger, h.store, sess.ch, h.loc)
		ds.Now = h.Now
		ev, err := ds.Run(sess.ctx, draft)
		if err != nil {
			sess.done <- sessionResult{err: err}
			return
		}
		id, err := dialogue.Commit(sess.ctx, h.logger, h.store, h.loc, ev)
		sess.done <- sessionResult{event: ev, eventID: id, err: err}
	}()
	return sess
}

func (h *Handler) finishDialogue(w http.ResponseWriter, sess *httpSession, res sessionResult) {
	trailing := sess.ch.drainPending()

	switch {
	case errors.Is(res.err, dialogue.ErrDialogueCancelled):
		h.writeJSON(w, http.StatusOK, map[string]string{
			"session_id":      sess.id,
			"status":          "cancelled",
			"spoken_response": "Okay, I've cancelled that.",
		})
	case res.err != nil:
		h.logger.Error("Dialogue failed", "error", res.err)
		h.writeError(w, http.StatusInternalServerError, "failed_to_add", "I couldn't add the event due to a server error.")
	default:
		spoken := append(trailing, "Added "+res.event.Title+" on "+timetext.FormatRange(res.event.Start, res.event.End)+".")
		h.writeJSON(w, http.StatusOK, map[string]string{
			"session_id":      sess.id,
			"status":          "added",
			"event_id":        res.eventID,
			"title":           res.event.Title,
			"start":           res.event.Start.Format(time.RFC3339),
			"end":             res.event.End.Format(time.RFC3339),
			"location":        res.event.Location,
			"spoken_response": strings.Join(spoken, " "),
		})
	}
}
