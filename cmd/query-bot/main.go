// ABOUTME: Entry point for the query-bot command line client
// ABOUTME: Login, chat, session management, read-only SQL and transcript export

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/isugar150/query-bot/internal/api"
	"github.com/isugar150/query-bot/internal/artifact"
	"github.com/isugar150/query-bot/internal/auth"
	"github.com/isugar150/query-bot/internal/cache"
	"github.com/isugar150/query-bot/internal/config"
	"github.com/isugar150/query-bot/internal/conversation"
	"github.com/isugar150/query-bot/internal/export"
	"github.com/isugar150/query-bot/internal/gateway"
	"github.com/isugar150/query-bot/internal/query"
	"github.com/isugar150/query-bot/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

// getConfigPath returns the path to the client config file.
// Priority: QUERY_BOT_CONFIG env var > XDG_CONFIG_HOME/query-bot/config.yaml > ~/.config/query-bot/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("QUERY_BOT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "query-bot", "config.yaml")
}

// getDataPath returns the default location of the local credential database.
// Priority: XDG_DATA_HOME/query-bot > ~/.local/share/query-bot
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "query-bot")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := &cli.App{
		Name:    "query-bot",
		Usage:   "Ask your databases questions in plain language",
		Version: version,
		Commands: []*cli.Command{
			loginCommand(),
			logoutCommand(),
			statusCommand(),
			targetsCommand(),
			chatCommand(),
			askCommand(),
			sessionsCommand(),
			queryCommand(),
			exportCommand(),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", api.Message(err))
		os.Exit(1)
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// app bundles the wired client components for one command invocation.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *store.SQLiteStore
	creds     *auth.Store
	client    *api.Client
	gw        *gateway.Gateway
	summaries *cache.Summaries
	conv      *conversation.Controller
	cards     *artifact.Registry
}

// buildApp loads config, opens the local store and wires the client stack.
// The loaded credential (if any) is already in the store when this returns.
func buildApp(ctx context.Context) (*app, error) {
	var cfg *config.Config
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	} else {
		cfg = config.Default()
	}

	logger := setupLogger(cfg.Logging)

	storePath := cfg.Store.Path
	if storePath == "" {
		storePath = filepath.Join(getDataPath(), "client.db")
	}
	db, err := store.NewSQLiteStore(storePath)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}

	creds := auth.NewStore(db, logger)
	if err := creds.Load(ctx); err != nil {
		logger.Warn("could not load saved credential", "error", err)
	}

	client := api.NewClient(cfg.Server.BaseURL, cfg.Server.RequestTimeout, logger)
	coord := gateway.NewCoordinator(creds, client, cfg.Server.RefreshTimeout, logger)
	gw := gateway.New(creds, coord, logger)
	summaries := cache.New(cfg.Cache.SessionTTL, cfg.Cache.MaxEntries)

	return &app{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		creds:     creds,
		client:    client,
		gw:        gw,
		summaries: summaries,
		conv:      conversation.New(gw, client, summaries, cfg.Server.RequestTimeout, logger),
		cards:     artifact.New(gw, client, summaries, cfg.Server.RequestTimeout, logger),
	}, nil
}

func (a *app) close() {
	a.summaries.Close()
	if err := a.db.Close(); err != nil {
		a.logger.Warn("closing local store", "error", err)
	}
}

// selectTarget resolves the --target flag (name or numeric id) against the
// server's target list and installs it on the conversation controller.
func (a *app) selectTarget(ctx context.Context, selector string) (*conversation.Target, error) {
	if selector == "" {
		return nil, api.Precondition("no database target selected, pass --target")
	}

	targets, err := gateway.Execute(ctx, a.gw, func(ctx context.Context, token string) ([]api.TargetSummary, error) {
		return a.client.Targets(ctx, token)
	})
	if err != nil {
		return nil, err
	}

	id, _ := strconv.ParseInt(selector, 10, 64)
	for _, t := range targets {
		if t.ID == id || strings.EqualFold(t.Name, selector) {
			target := conversation.Target{
				ID:          t.ID,
				Name:        t.Name,
				DBType:      t.DBType,
				SchemaReady: t.SchemaReady,
			}
			a.conv.SetTarget(target)
			return &target, nil
		}
	}
	return nil, api.Precondition("no target named %q", selector)
}

func targetFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "target",
		Aliases: []string{"t"},
		Usage:   "Database target (name or id)",
	}
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Authenticate and save the credential locally",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Usage: "Account name"},
		},
		Action: func(c *cli.Context) error {
			a, err := buildApp(c.Context)
			if err != nil {
				return err
			}
			defer a.close()

			username := c.String("username")
			reader := bufio.NewReader(os.Stdin)
			if username == "" {
				fmt.Print("Username: ")
				line, err := reader.ReadString('\n')
				if err != nil {
					return err
				}
				username = strings.TrimSpace(line)
			}

			fmt.Print("Password: ")
			password, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("reading password: %w", err)
			}

			cred, err := a.client.Login(c.Context, username, string(password))
			if err != nil {
				return err
			}
			a.creds.Set(cred)

			color.Green("Logged in as %s", cred.Username)
			return nil
		},
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Discard the saved credential",
		Action: func(c *cli.Context) error {
			a, err := buildApp(c.Context)
			if err != nil {
				return err
			}
			defer a.close()

			a.creds.Clear()
			fmt.Println("Logged out.")
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show login state and server capabilities",
		Action: func(c *cli.Context) error {
			a, err := buildApp(c.Context)
			if err != nil {
				return err
			}
			defer a.close()

			cred := a.creds.Get()
			if cred == nil {
				fmt.Println("Not logged in.")
				return nil
			}

			fmt.Printf("Logged in as %s\n", cred.Username)
			if claims, err := cred.Claims(); err == nil && !claims.ExpiresAt.IsZero() {
				fmt.Printf("Access token expires %s\n", claims.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
			}

			available, err := a.cards.Available(c.Context)
			if err != nil {
				a.logger.Debug("artifact status check failed", "error", err)
				return nil
			}
			if available {
				fmt.Println("Card export: available")
			} else {
				fmt.Println("Card export: not configured on the server")
			}
			return nil
		},
	}
}

func targetsCommand() *cli.Command {
	return &cli.Command{
		Name:  "targets",
		Usage: "List registered database targets",
		Action: func(c *cli.Context) error {
			a, err := buildApp(c.Context)
			if err != nil {
				return err
			}
			defer a.close()

			targets, err := gateway.Execute(c.Context, a.gw, func(ctx context.Context, token string) ([]api.TargetSummary, error) {
				return a.client.Targets(ctx, token)
			})
			if err != nil {
				return err
			}

			if len(targets) == 0 {
				fmt.Println("No targets registered.")
				return nil
			}
			for _, t := range targets {
				ready := color.GreenString("ready")
				if !t.SchemaReady {
					ready = color.YellowString("collecting schema")
				}
				fmt.Printf("%4d  %-20s %-10s %s:%d/%s  [%s]\n",
					t.ID, t.Name, t.DBType, t.Host, t.Port, t.DatabaseName, ready)
			}
			return nil
		},
	}
}

func askCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Ask a single question and print the answer",
		ArgsUsage: "<question>",
		Flags: []cli.Flag{
			targetFlag(),
			&cli.Int64Flag{Name: "session", Usage: "Continue an existing session"},
		},
		Action: func(c *cli.Context) error {
			question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if question == "" {
				return cli.Exit("usage: query-bot ask --target NAME <question>", 1)
			}

			a, err := buildApp(c.Context)
			if err != nil {
				return err
			}
			defer a.close()

			if _, err := a.selectTarget(c.Context, c.String("target")); err != nil {
				return err
			}
			if sessionID := c.Int64("session"); sessionID != 0 {
				if err := a.conv.SwitchSession(c.Context, sessionID); err != nil {
					return err
				}
			}

			resp, err := a.conv.Send(c.Context, question)
			if err != nil {
				return err
			}

			fmt.Println(resp.Reply)
			if resp.Artifact != nil {
				color.HiBlack("card: %s", resp.Artifact.URL)
			}
			color.HiBlack("session: %d", resp.SessionID)
			return nil
		},
	}
}

func sessionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "List or delete conversation sessions",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List sessions for a target",
				Flags: []cli.Flag{targetFlag()},
				Action: func(c *cli.Context) error {
					a, err := buildApp(c.Context)
					if err != nil {
						return err
					}
					defer a.close()

					target, err := a.selectTarget(c.Context, c.String("target"))
					if err != nil {
						return err
					}

					summaries, err := a.conv.Sessions(c.Context)
					if err != nil {
						// Offline fallback: show the last listing we saved.
						cached, cacheErr := a.db.ListSummaries(c.Context, target.ID)
						if cacheErr != nil || len(cached) == 0 {
							return err
						}
						color.Yellow("Server unreachable, showing cached listing.")
						printSummaries(cached)
						return nil
					}

					if err := a.db.SaveSummaries(c.Context, target.ID, summaries); err != nil {
						a.logger.Warn("could not cache session listing", "error", err)
					}
					printSummaries(summaries)
					return nil
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a session",
				ArgsUsage: "<session-id>",
				Action: func(c *cli.Context) error {
					sessionID, err := strconv.ParseInt(c.Args().First(), 10, 64)
					if err != nil {
						return cli.Exit("usage: query-bot sessions delete <session-id>", 1)
					}

					a, err := buildApp(c.Context)
					if err != nil {
						return err
					}
					defer a.close()

					if err := a.conv.DeleteSession(c.Context, sessionID); err != nil {
						return err
					}
					fmt.Printf("Deleted session %d.\n", sessionID)
					return nil
				},
			},
		},
	}
}

func printSummaries(summaries []api.SessionSummary) {
	if len(summaries) == 0 {
		fmt.Println("No sessions yet.")
		return
	}
	for _, s := range summaries {
		card := ""
		if s.CardID != nil {
			card = color.HiBlackString("  card %d", *s.CardID)
		}
		fmt.Printf("%6d  %s  %s%s\n", s.ID, s.CreatedAt.Local().Format("2006-01-02 15:04"), s.Title, card)
	}
}

func queryCommand() *cli.Command {
	return &cli.Command{
		Name:      "query",
		Usage:     "Run a read-only SQL statement against a target",
		ArgsUsage: "<sql>",
		Flags:     []cli.Flag{targetFlag()},
		Action: func(c *cli.Context) error {
			sql := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if sql == "" {
				return cli.Exit("usage: query-bot query --target NAME <sql>", 1)
			}
			if !query.IsReadOnly(sql) {
				return api.Precondition("only SELECT and WITH statements are allowed")
			}

			a, err := buildApp(c.Context)
			if err != nil {
				return err
			}
			defer a.close()

			target, err := a.selectTarget(c.Context, c.String("target"))
			if err != nil {
				return err
			}

			result, err := gateway.Execute(c.Context, a.gw, func(ctx context.Context, token string) (*api.QueryResult, error) {
				return a.client.Execute(ctx, token, &api.ExecuteRequest{TargetID: target.ID, SQL: sql})
			})
			if err != nil {
				return err
			}

			printQueryResult(result)
			return nil
		},
	}
}

func printQueryResult(result *api.QueryResult) {
	fmt.Println(strings.Join(result.Columns, "\t"))
	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = fmt.Sprint(cell)
		}
		fmt.Println(strings.Join(cells, "\t"))
	}
	color.HiBlack("%d row(s)", len(result.Rows))
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export a session transcript to a standalone HTML file",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "session", Required: true, Usage: "Session to export"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file (default transcript-<id>.html)"},
			&cli.StringFlag{Name: "title", Usage: "Document title"},
		},
		Action: func(c *cli.Context) error {
			a, err := buildApp(c.Context)
			if err != nil {
				return err
			}
			defer a.close()

			sessionID := c.Int64("session")
			if err := a.conv.LoadHistory(c.Context, sessionID); err != nil {
				return err
			}
			snap := a.conv.Snapshot()
			if len(snap.Entries) == 0 {
				return api.Precondition("session %d has no messages", sessionID)
			}

			outPath := c.String("out")
			if outPath == "" {
				outPath = fmt.Sprintf("transcript-%d.html", sessionID)
			}
			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("creating %s: %w", outPath, err)
			}
			defer f.Close()

			transcript := &export.Transcript{
				SessionID: sessionID,
				Title:     c.String("title"),
				Entries:   snap.Entries,
				Artifact:  snap.Artifact,
			}
			if err := export.WriteHTML(f, transcript); err != nil {
				return err
			}
			fmt.Printf("Wrote %s (%d messages).\n", outPath, len(snap.Entries))
			return nil
		},
	}
}
