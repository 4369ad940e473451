package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"calvox/internal/caldav"
	"calvox/internal/config"
	"calvox/internal/dialogue"
	"calvox/internal/extract"
	googlecal "calvox/internal/google"
	"calvox/internal/httpapi"
	"calvox/internal/models"
	"calvox/internal/timetext"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "calvox",
		Usage: "Turn natural-language descriptions into calendar events, negotiating conflicts as it goes.",
		Commands: []*cli.Command{
			authCommand(),
			chatCommand(),
			serveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Action: func(c *cli.Context) error {
			logger := setupLogger("info")
			logger.Info("Starting Google authentication flow.")

			oauthConfig, err := googlecal.OAuthConfig(os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET"))
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := googlecal.TokenFromWeb(oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			fmt.Print("Enter a name for this account (e.g., 'personal', 'work'): ")
			accountName, _ := reader.ReadString('\n')
			accountName = strings.TrimSpace(accountName)
			tokenFile := "token-" + accountName + ".json"

			if err := googlecal.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", tokenFile)
			return nil
		},
	}
}

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Run one event dialogue on the console.",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel)

			store, err := newStore(c.Context, logger, cfg)
			if err != nil {
				return err
			}

			ch := &consoleChannel{in: bufio.NewReader(os.Stdin)}

			fmt.Println("Describe your event:")
			fmt.Print("> ")
			text, err := ch.in.ReadString('\n')
			if err != nil {
				return fmt.Errorf("reading input: %w", err)
			}
			text = strings.TrimSpace(text)

			draft, err := extractDraft(c.Context, logger, cfg, text)
			if err != nil {
				return err
			}

			session := dialogue.NewSession(logger, store, ch, cfg.Timezone)
			ev, err := session.Run(c.Context, draft)
			if err != nil {
				if errors.Is(err, dialogue.ErrDialogueCancelled) {
					fmt.Println("Okay, I've cancelled that.")
					return nil
				}
				return err
			}

			id, err := dialogue.Commit(c.Context, logger, store, cfg.Timezone, ev)
			if err != nil {
				return err
			}
			fmt.Printf("Added %s on %s. (id %s)\n", ev.Title, timetext.FormatRange(ev.Start, ev.End), id)
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Listen address. Overrides ADDR."},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel)

			store, err := newStore(c.Context, logger, cfg)
			if err != nil {
				return err
			}

			var extractor httpapi.Extractor
			if cfg.GeminiAPIKey != "" {
				ex, err := extract.New(c.Context, logger, cfg.GeminiAPIKey)
				if err != nil {
					return fmt.Errorf("failed to create extractor: %w", err)
				}
				defer ex.Close()
				extractor = ex
			} else {
				logger.Warn("GEMINI_API_KEY not set, extraction disabled.")
			}

			handler := httpapi.NewHandler(logger, store, extractor, cfg.Timezone)

			addr := cfg.Addr
			if c.IsSet("addr") {
				addr = c.String("addr")
			}
			logger.Info("Listening.", "addr", addr)
			return http.ListenAndServe(addr, handler.Router())
		},
	}
}

// newStore picks the event store backend: CalDAV when configured, otherwise
// Google Calendar via service account credentials or a saved OAuth token.
func newStore(ctx context.Context, logger *slog.Logger, cfg *config.Config) (dialogue.Store, error) {
	if cfg.UseCalDAV() {
		return caldav.NewClient(logger, cfg.CalDAVURL, cfg.CalDAVUsername, cfg.CalDAVPassword, cfg.CalDAVCalendar, cfg.Timezone)
	}
	if cfg.ServiceAccountJSON != "" {
		return googlecal.NewServiceAccountClient(ctx, logger, []byte(cfg.ServiceAccountJSON), cfg.CalendarID, cfg.Timezone)
	}
	account := cfg.Account
	if account == "" {
		accounts, err := googlecal.TokenAccounts()
		if err != nil || len(accounts) == 0 {
			return nil, fmt.Errorf("no saved google accounts found. Run the 'auth' command first or set GOOGLE_ACCOUNT")
		}
		account = accounts[0]
		logger.Info("Using saved Google account.", "account", account)
	}
	return googlecal.NewOAuthClient(ctx, logger, cfg.ClientID, cfg.ClientSecret, account, cfg.CalendarID, cfg.Timezone)
}

// extractDraft seeds the dialogue from the opening message when extraction
// is configured; otherwise the dialogue starts from an empty draft and asks
// for everything.
func extractDraft(ctx context.Context, logger *slog.Logger, cfg *config.Config, text string) (models.EventDraft, error) {
	if cfg.GeminiAPIKey == "" || text == "" {
		return models.EventDraft{}, nil
	}
	ex, err := extract.New(ctx, logger, cfg.GeminiAPIKey)
	if err != nil {
		return models.EventDraft{}, fmt.Errorf("failed to create extractor: %w", err)
	}
	defer ex.Close()

	draft, err := ex.Extract(ctx, text)
	if err != nil {
		logger.Warn("Extraction failed, starting from an empty draft.", "error", err)
		return models.EventDraft{}, nil
	}
	return draft, nil
}

// consoleChannel carries the dialogue over stdin/stdout.
type consoleChannel struct {
	in *bufio.Reader
}

func (c *consoleChannel) Say(_ context.Context, text string) error {
	fmt.Println(text)
	return nil
}

func (c *consoleChannel) Prompt(_ context.Context, text string) (string, error) {
	fmt.Println(text)
	fmt.Print("> ")
	line, err := c.in.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
