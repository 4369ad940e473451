// Package extract pulls structured event fields out of free-form text using
// the Gemini API. Anything the model cannot supply comes back as an empty
// field; malformed model output degrades to an all-empty draft rather than
// an error, so a bad completion never breaks the dialogue.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"calvox/internal/models"
	"calvox/internal/timetext"
)

const modelName = "gemini-2.5-flash"

const promptTemplate = `Today is %s.
Extract calendar event details from this message.
Return only JSON in this exact format:
{
  "title": "Event title",
  "start": "YYYY-MM-DDTHH:MM:SS",
  "end": "YYYY-MM-DDTHH:MM:SS",
  "location": "Location name"
}

If any value is not present in the message, return an empty string for that field.
Message: %s`

// Extractor wraps a Gemini generative model.
type Extractor struct {
	client *genai.Client
	model  *genai.GenerativeModel
	logger *slog.Logger

	// Now anchors relative dates in the extraction prompt. Overridable in tests.
	Now func() time.Time
}

// New creates an Extractor bound to the given API key.
func New(ctx context.Context, logger *slog.Logger, apiKey string) (*Extractor, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Extractor{
		client: client,
		model:  client.GenerativeModel(modelName),
		logger: logger,
		Now:    time.Now,
	}, nil
}

// Close releases the underlying client.
func (e *Extractor) Close() error {
	return e.client.Close()
}

// Extract asks the model for the event fields found in text. The returned
// draft has empty fields for anything the message did not contain.
func (e *Extractor) Extract(ctx context.Context, text string) (models.EventDraft, error) {
	prompt := fmt.Sprintf(promptTemplate, e.Now().Format(time.RFC3339), text)
	resp, err := e.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return models.EventDraft{}, fmt.Errorf("generating extraction: %w", err)
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
	}

	draft := ParseFields(sb.String(), e.Now())
	e.logger.Debug("Extracted event fields", "title", draft.Title, "hasStart", !draft.Start.IsZero(), "hasEnd", !draft.End.IsZero())
	return draft, nil
}

type rawFields struct {
	Title    string `json:"title"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Location string `json:"location"`
}

// ParseFields decodes the model's JSON reply into a draft. Markdown code
// fences around the JSON are stripped first. Unparseable output or
// unparseable individual times leave the corresponding fields empty.
func ParseFields(raw string, ref time.Time) models.EventDraft {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.Trim(cleaned, "`")
		cleaned = strings.TrimPrefix(cleaned, "json")
		cleaned = strings.TrimSpace(cleaned)
	}

	var fields rawFields
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
		return models.EventDraft{}
	}

	draft := models.EventDraft{
		Title:    strings.TrimSpace(fields.Title),
		Location: strings.TrimSpace(fields.Location),
	}
	if fields.Start != "" {
		if t, err := timetext.Normalize(fields.Start, ref); err == nil {
			draft.Start = t
		}
	}
	if fields.End != "" {
		if t, err := timetext.Normalize(fields.End, ref); err == nil {
			draft.End = t
		}
	}
	return draft
}
