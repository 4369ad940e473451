// Package caldav implements the event store against a CalDAV server, so the
// dialogue can target iCloud or any other CalDAV-speaking calendar instead
// of Google.
package caldav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"calvox/internal/models"
)

const untitledEvent = "Untitled Event"

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "calvox/1.0")
	return t.Transport.RoundTrip(req)
}

// Client is the CalDAV implementation of the dialogue store.
type Client struct {
	caldavClient *caldav.Client
	webdavClient *webdav.Client
	logger       *slog.Logger
	endpoint     string
	calendarURL  string
	loc          *time.Location
}

// NewClient connects to the CalDAV endpoint and resolves the calendar with
// the given display name.
func NewClient(logger *slog.Logger, endpoint, username, password, calendarName string, loc *time.Location) (*Client, error) {
	transport := &customTransport{
		Username:  username,
		Password:  password,
		Transport: http.DefaultTransport,
	}
	httpClient := &http.Client{Transport: transport}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}
	webdavClient, err := webdav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create webdav client: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}

	c := &Client{
		caldavClient: caldavClient,
		webdavClient: webdavClient,
		logger:       logger,
		endpoint:     strings.TrimSuffix(endpoint, "/") + "/",
		loc:          loc,
	}

	logger.Info("Finding CalDAV calendar", "calendarName", calendarName)
	calendarURL, err := c.findCalendar(context.Background(), calendarName)
	if err != nil {
		return nil, fmt.Errorf("could not find calendar '%s': %w", calendarName, err)
	}
	c.calendarURL = calendarURL
	logger.Info("Successfully found CalDAV calendar", "url", calendarURL)

	return c, nil
}

// ListOverlapping runs a calendar-query for VEVENTs intersecting [start, end)
// and returns them ordered by start time.
func (c *Client) ListOverlapping(ctx context.Context, start, end time.Time) ([]models.ExistingBooking, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{
				Name:  ical.CompEvent,
				Props: []string{ical.PropSummary, ical.PropDateTimeStart, ical.PropDateTimeEnd, ical.PropUID},
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: start,
				End:   end,
			}},
		},
	}

	objects, err := c.caldavClient.QueryCalendar(ctx, c.calendarPath(), query)
	if err != nil {
		return nil, fmt.Errorf("calendar query failed: %w", err)
	}

	var bookings []models.ExistingBooking
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, ev := range obj.Data.Events() {
			bookings = append(bookings, c.toBooking(ev))
		}
	}
	sort.Slice(bookings, func(i, j int) bool { return bookings[i].Start.Before(bookings[j].Start) })
	return bookings, nil
}

// Insert writes the event as a new .ics object and returns its UID.
func (c *Client) Insert(ctx context.Context, ev models.CalendarEvent) (string, error) {
	uid := uuid.New().String()

	vevent := ical.NewComponent(ical.CompEvent)
	vevent.Props.SetText(ical.PropUID, uid)
	vevent.Props.SetText(ical.PropSummary, ev.Title)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	vevent.Props.SetDateTime(ical.PropDateTimeStart, ev.Start)
	vevent.Props.SetDateTime(ical.PropDateTimeEnd, ev.End)
	if ev.Location != "" {
		vevent.Props.SetText(ical.PropLocation, ev.Location)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//calvox//EN")
	cal.Children = append(cal.Children, vevent)

	// The event path must be relative to the endpoint for the webdav client.
	eventPath := path.Join(c.calendarPath(), fmt.Sprintf("%s.ics", uid))

	writer, err := c.webdavClient.Create(ctx, eventPath)
	if err != nil {
		return "", fmt.Errorf("failed to create event on CalDAV server: %w", err)
	}
	defer writer.Close()

	if err := ical.NewEncoder(writer).Encode(cal); err != nil {
		return "", fmt.Errorf("failed to encode event to iCal format: %w", err)
	}

	c.logger.Info("Created event on CalDAV calendar", "title", ev.Title, "uid", uid)
	return uid, nil
}

func (c *Client) toBooking(ev ical.Event) models.ExistingBooking {
	b := models.ExistingBooking{Title: untitledEvent}
	if summary, err := ev.Props.Text(ical.PropSummary); err == nil && summary != "" {
		b.Title = summary
	}
	if start, err := ev.DateTimeStart(c.loc); err == nil {
		b.Start = start
	}
	if end, err := ev.DateTimeEnd(c.loc); err == nil {
		b.End = end
	}
	return b
}

func (c *Client) calendarPath() string {
	return strings.TrimPrefix(c.calendarURL, c.endpoint)
}

// findCalendar discovers the user's calendars and returns the URL for the
// one with the matching name.
func (c *Client) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if cal.Name == name {
			return strings.TrimSuffix(c.endpoint, "/") + cal.Path, nil
		}
	}

	return "", fmt.Errorf("no calendar found with name '%s'", name)
}
