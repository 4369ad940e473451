// Package google implements the event store against the Google Calendar API.
// It supports two credential modes: a service account JSON blob supplied via
// the environment, or a user OAuth token saved by the auth command.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"calvox/internal/models"
)

// untitledEvent is the display title substituted when a remote record has no
// summary.
const untitledEvent = "Untitled Event"

// CalendarClient is the Google Calendar implementation of the dialogue store.
type CalendarClient struct {
	service    *calendar.Service
	calendarID string
	logger     *slog.Logger
	loc        *time.Location
}

// NewServiceAccountClient builds a client from service account credentials,
// as produced by the Google Cloud console. raw holds the full JSON contents.
func NewServiceAccountClient(ctx context.Context, logger *slog.Logger, raw []byte, calendarID string, loc *time.Location) (*CalendarClient, error) {
	cfg, err := google.JWTConfigFromJSON(raw, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("parsing service account credentials: %w", err)
	}
	service, err := calendar.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return newClient(service, logger, calendarID, loc), nil
}

// NewOAuthClient builds a client from a previously saved user token.
// The accountName selects the token file written by the auth command.
func NewOAuthClient(ctx context.Context, logger *slog.Logger, clientID, clientSecret, accountName, calendarID string, loc *time.Location) (*CalendarClient, error) {
	config, err := OAuthConfig(clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	tokenFile := fmt.Sprintf("token-%s.json", accountName)
	token, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("could not load token for account %s: %w. Please run the 'auth' command first", accountName, err)
	}

	service, err := calendar.NewService(ctx, option.WithHTTPClient(config.Client(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return newClient(service, logger, calendarID, loc), nil
}

func newClient(service *calendar.Service, logger *slog.Logger, calendarID string, loc *time.Location) *CalendarClient {
	if calendarID == "" {
		calendarID = "primary"
	}
	if loc == nil {
		loc = time.Local
	}
	return &CalendarClient{service: service, calendarID: calendarID, logger: logger, loc: loc}
}

// ListOverlapping fetches every event intersecting [start, end) from the
// calendar, expanded to single instances and ordered by start time.
func (c *CalendarClient) ListOverlapping(ctx context.Context, start, end time.Time) ([]models.ExistingBooking, error) {
	c.logger.Debug("Checking for overlapping events", "calendarID", c.calendarID, "start", start, "end", end)

	events, err := c.service.Events.List(c.calendarID).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve events: %w", err)
	}

	bookings := make([]models.ExistingBooking, 0, len(events.Items))
	for _, item := range events.Items {
		bookings = append(bookings, bookingFromItem(item, c.loc))
	}
	c.logger.Debug("Fetched overlapping events", "count", len(bookings))
	return bookings, nil
}

// Insert creates the event on the calendar and returns its assigned id.
// The zone name travels with both bounds so the server stores wall-clock
// times in the intended zone.
func (c *CalendarClient) Insert(ctx context.Context, ev models.CalendarEvent) (string, error) {
	// The RFC3339 offset already pins the instant; the zone name is only
	// sent when it is a real IANA name the API will accept.
	tz := c.loc.String()
	if tz == "Local" {
		tz = ""
	}
	body := &calendar.Event{
		Summary:  ev.Title,
		Location: ev.Location,
		Start:    &calendar.EventDateTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: tz},
		End:      &calendar.EventDateTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: tz},
	}
	created, err := c.service.Events.Insert(c.calendarID, body).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to insert event: %w", err)
	}
	c.logger.Info("Created event on Google Calendar", "title", ev.Title, "id", created.Id)
	return created.Id, nil
}

// bookingFromItem converts a raw calendar record into the read-only booking
// projection. Missing summaries become "Untitled Event"; times prefer the
// precise dateTime over the whole-day date.
func bookingFromItem(item *calendar.Event, loc *time.Location) models.ExistingBooking {
	b := models.ExistingBooking{Title: untitledEvent}
	if item.Summary != "" {
		b.Title = item.Summary
	}
	if item.Start != nil {
		b.Start = parseEventTime(item.Start, loc)
	}
	if item.End != nil {
		b.End = parseEventTime(item.End, loc)
	}
	return b
}

func parseEventTime(edt *calendar.EventDateTime, loc *time.Location) time.Time {
	if edt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, edt.DateTime); err == nil {
			return t.In(loc)
		}
	}
	if edt.Date != "" {
		if t, err := time.ParseInLocation("2006-01-02", edt.Date, loc); err == nil {
			return t
		}
	}
	return time.Time{}
}

// OAuthConfig reads credentials and returns an OAuth2 config for the
// read-write calendar scope. It prioritizes the given values over a local
// credentials.json file.
func OAuthConfig(clientID, clientSecret string) (*oauth2.Config, error) {
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes:       []string{calendar.CalendarScope},
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile("credentials.json")
	if err != nil {
		return nil, fmt.Errorf("credentials.json not found. Please provide GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars or place credentials.json in the root directory")
	}
	config, err := google.ConfigFromJSON(b, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = "urn:ietf:wg:oauth:2.0:oob" // For desktop app flow
	return config, nil
}

// TokenFromWeb exchanges the auth flow code for a token.
func TokenFromWeb(config *oauth2.Config, authCode string) (*oauth2.Token, error) {
	return config.Exchange(context.Background(), authCode)
}

// SaveToken saves a token to a file path.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// tokenFromFile retrieves a token from a local file.
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// TokenAccounts lists the account names with a saved token file.
func TokenAccounts() ([]string, error) {
	files, err := os.ReadDir(".")
	if err != nil {
		return nil, err
	}
	var accounts []string
	for _, file := range files {
		if strings.HasPrefix(file.Name(), "token-") && strings.HasSuffix(file.Name(), ".json") {
			accounts = append(accounts, strings.TrimSuffix(strings.TrimPrefix(file.Name(), "token-"), ".json"))
		}
	}
	return accounts, nil
}
