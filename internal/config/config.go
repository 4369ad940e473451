// Package config collects process-wide configuration into one explicit
// struct, loaded once at startup and passed into each component.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds everything the process reads from the environment.
type Config struct {
	GeminiAPIKey       string
	ServiceAccountJSON string
	ClientID           string
	ClientSecret       string
	Account            string
	CalendarID         string

	CalDAVURL      string
	CalDAVUsername string
	CalDAVPassword string
	CalDAVCalendar string

	Timezone *time.Location
	Addr     string
	LogLevel string
}

// Load reads the environment. A .env file, if any, is expected to have been
// loaded by the caller already.
func Load() (*Config, error) {
	cfg := &Config{
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		ServiceAccountJSON: os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"),
		ClientID:           os.Getenv("GOOGLE_CLIENT_ID"),
		ClientSecret:       os.Getenv("GOOGLE_CLIENT_SECRET"),
		// Empty means "pick the first account with a saved token".
		Account:            os.Getenv("GOOGLE_ACCOUNT"),
		CalendarID:         getenv("CALENDAR_ID", "primary"),
		CalDAVURL:          os.Getenv("CALDAV_URL"),
		CalDAVUsername:     os.Getenv("CALDAV_USERNAME"),
		CalDAVPassword:     os.Getenv("CALDAV_PASSWORD"),
		CalDAVCalendar:     os.Getenv("CALDAV_CALENDAR"),
		Addr:               getenv("ADDR", ":5000"),
		LogLevel:           getenv("LOG_LEVEL", "info"),
	}

	tzStr := getenv("PRIMARY_TIMEZONE", "Local")
	loc, err := time.LoadLocation(tzStr)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone '%s': %w", tzStr, err)
	}
	cfg.Timezone = loc

	return cfg, nil
}

// UseCalDAV reports whether the CalDAV store should back the dialogue
// instead of Google Calendar.
func (c *Config) UseCalDAV() bool {
	return c.CalDAVURL != ""
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
