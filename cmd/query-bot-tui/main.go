// ABOUTME: Full-screen terminal UI for query-bot conversations
// ABOUTME: Viewport transcript, textinput prompt, spinner while a question is in flight

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/isugar150/query-bot/internal/api"
	"github.com/isugar150/query-bot/internal/auth"
	"github.com/isugar150/query-bot/internal/cache"
	"github.com/isugar150/query-bot/internal/config"
	"github.com/isugar150/query-bot/internal/conversation"
	"github.com/isugar150/query-bot/internal/gateway"
	"github.com/isugar150/query-bot/internal/store"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("36"))
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	metaStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
)

type stack struct {
	cfg       *config.Config
	db        *store.SQLiteStore
	creds     *auth.Store
	client    *api.Client
	gw        *gateway.Gateway
	summaries *cache.Summaries
	conv      *conversation.Controller
}

func buildStack(ctx context.Context) (*stack, error) {
	var cfg *config.Config
	configPath := configFilePath()
	if _, err := os.Stat(configPath); err == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	storePath := cfg.Store.Path
	if storePath == "" {
		dataDir := os.Getenv("XDG_DATA_HOME")
		if dataDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, err
			}
			dataDir = filepath.Join(home, ".local", "share")
		}
		storePath = filepath.Join(dataDir, "query-bot", "client.db")
	}
	db, err := store.NewSQLiteStore(storePath)
	if err != nil {
		return nil, err
	}

	creds := auth.NewStore(db, logger)
	if err := creds.Load(ctx); err != nil {
		logger.Warn("could not load saved credential", "error", err)
	}
	if creds.Get() == nil {
		db.Close()
		return nil, errors.New("not logged in, run: query-bot login")
	}

	client := api.NewClient(cfg.Server.BaseURL, cfg.Server.RequestTimeout, logger)
	coord := gateway.NewCoordinator(creds, client, cfg.Server.RefreshTimeout, logger)
	gw := gateway.New(creds, coord, logger)
	summaries := cache.New(cfg.Cache.SessionTTL, cfg.Cache.MaxEntries)

	return &stack{
		cfg:       cfg,
		db:        db,
		creds:     creds,
		client:    client,
		gw:        gw,
		summaries: summaries,
		conv:      conversation.New(gw, client, summaries, cfg.Server.RequestTimeout, logger),
	}, nil
}

func (s *stack) close() {
	s.summaries.Close()
	s.db.Close()
}

func configFilePath() string {
	if envPath := os.Getenv("QUERY_BOT_CONFIG"); envPath != "" {
		return envPath
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "query-bot", "config.yaml")
}

type answerMsg struct {
	resp *api.ChatResponse
	err  error
}

type historyMsg struct{ err error }

type sessionsMsg struct {
	summaries []api.SessionSummary
	err       error
}

type model struct {
	stack *stack
	ctx   context.Context

	viewport viewport.Model
	input    textinput.Model
	spin     spinner.Model

	width   int
	height  int
	ready   bool
	waiting bool
	status  string
	errText string

	sessionList []api.SessionSummary
	showingList bool
}

func newModel(ctx context.Context, s *stack) model {
	input := textinput.New()
	input.Placeholder = "Ask a question (ctrl+n new, ctrl+s sessions, esc quit)"
	input.Focus()
	input.CharLimit = 2000

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("36"))

	return model{stack: s, ctx: ctx, input: input, spin: spin}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		contentHeight := msg.Height - 5
		if contentHeight < 3 {
			contentHeight = 3
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, contentHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = contentHeight
		}
		m.input.Width = msg.Width - 4
		m.refreshTranscript()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEsc, tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyCtrlN:
			m.stack.conv.NewSession()
			m.showingList = false
			m.status = "new conversation"
			m.errText = ""
			m.refreshTranscript()
			return m, nil
		case tea.KeyCtrlS:
			m.status = "loading sessions"
			return m, m.fetchSessions()
		case tea.KeyEnter:
			return m.handleEnter()
		}

	case answerMsg:
		m.waiting = false
		m.status = ""
		if msg.err != nil {
			if errors.Is(msg.err, conversation.ErrSuperseded) {
				m.refreshTranscript()
				return m, nil
			}
			m.errText = api.Message(msg.err)
		} else {
			m.errText = ""
		}
		m.refreshTranscript()
		return m, nil

	case historyMsg:
		m.waiting = false
		m.showingList = false
		m.status = ""
		if msg.err != nil && !errors.Is(msg.err, conversation.ErrSuperseded) {
			m.errText = api.Message(msg.err)
		} else {
			m.errText = ""
		}
		m.refreshTranscript()
		return m, nil

	case sessionsMsg:
		m.status = ""
		if msg.err != nil {
			m.errText = api.Message(msg.err)
			return m, nil
		}
		m.errText = ""
		m.sessionList = msg.summaries
		m.showingList = true
		m.renderSessionList()
		return m, nil

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) handleEnter() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.input.Value())
	if line == "" {
		return m, nil
	}
	m.input.Reset()

	// While the session list is up, a bare number switches to that session.
	if m.showingList {
		var sessionID int64
		if _, err := fmt.Sscanf(line, "%d", &sessionID); err == nil {
			m.showingList = false
			m.waiting = true
			m.status = fmt.Sprintf("loading session %d", sessionID)
			return m, tea.Batch(m.spin.Tick, m.loadSession(sessionID))
		}
		m.showingList = false
	}

	if m.waiting {
		m.errText = "a question is already in flight"
		return m, nil
	}

	m.waiting = true
	m.errText = ""
	m.refreshTranscript()
	return m, tea.Batch(m.spin.Tick, m.ask(line))
}

func (m model) ask(question string) tea.Cmd {
	return func() tea.Msg {
		resp, err := m.stack.conv.Send(m.ctx, question)
		return answerMsg{resp: resp, err: err}
	}
}

func (m model) loadSession(sessionID int64) tea.Cmd {
	return func() tea.Msg {
		return historyMsg{err: m.stack.conv.SwitchSession(m.ctx, sessionID)}
	}
}

func (m model) fetchSessions() tea.Cmd {
	return func() tea.Msg {
		summaries, err := m.stack.conv.Sessions(m.ctx)
		return sessionsMsg{summaries: summaries, err: err}
	}
}

func (m *model) refreshTranscript() {
	if !m.ready {
		return
	}
	snap := m.stack.conv.Snapshot()

	var b strings.Builder
	for _, e := range snap.Entries {
		switch e.Role {
		case api.RoleUser:
			b.WriteString(userStyle.Render("you") + "  " + e.Content + "\n\n")
		default:
			b.WriteString(assistantStyle.Render(e.Content) + "\n\n")
		}
	}
	if snap.Artifact != nil {
		b.WriteString(metaStyle.Render("card: "+snap.Artifact.URL) + "\n")
	}
	if len(snap.Entries) == 0 {
		b.WriteString(metaStyle.Render("No messages yet. Type a question below.") + "\n")
	}

	m.viewport.SetContent(lipgloss.NewStyle().Width(m.viewport.Width).Render(b.String()))
	m.viewport.GotoBottom()
}

func (m *model) renderSessionList() {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Sessions") + "\n\n")
	if len(m.sessionList) == 0 {
		b.WriteString(metaStyle.Render("No sessions yet.") + "\n")
	}
	for _, s := range m.sessionList {
		line := fmt.Sprintf("%6d  %s  %s", s.ID, s.CreatedAt.Local().Format("2006-01-02 15:04"), s.Title)
		if s.CardID != nil {
			line += metaStyle.Render(fmt.Sprintf("  card %d", *s.CardID))
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n" + metaStyle.Render("Enter a session id to open it, or type a question."))
	m.viewport.SetContent(b.String())
	m.viewport.GotoTop()
}

func (m model) View() string {
	if !m.ready {
		return "loading..."
	}

	header := titleStyle.Render("query-bot")
	if target := m.stack.conv.Target(); target != nil {
		header += metaStyle.Render(fmt.Sprintf("  %s (%s)", target.Name, target.DBType))
		if !target.SchemaReady {
			header += errorStyle.Render("  schema collection running")
		}
	}
	if sessionID := m.stack.conv.SessionID(); sessionID != 0 {
		header += metaStyle.Render(fmt.Sprintf("  session %d", sessionID))
	}

	statusLine := ""
	switch {
	case m.errText != "":
		statusLine = errorStyle.Render(m.errText)
	case m.waiting:
		statusLine = m.spin.View() + statusStyle.Render(" thinking")
	case m.status != "":
		statusLine = statusStyle.Render(m.status)
	}

	return header + "\n" + m.viewport.View() + "\n" + statusLine + "\n" + m.input.View()
}

func main() {
	targetName := flag.String("target", "", "database target (name or id)")
	sessionID := flag.Int64("session", 0, "resume an existing session")
	flag.Parse()

	ctx := context.Background()

	s, err := buildStack(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer s.close()

	if err := selectTarget(ctx, s, *targetName); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", api.Message(err))
		os.Exit(1)
	}
	if *sessionID != 0 {
		if err := s.conv.SwitchSession(ctx, *sessionID); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", api.Message(err))
			os.Exit(1)
		}
	}

	p := tea.NewProgram(newModel(ctx, s), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// selectTarget resolves the target name or id against the server's list. With
// a single ready target and no flag, that target is picked automatically.
func selectTarget(ctx context.Context, s *stack, selector string) error {
	targets, err := gateway.Execute(ctx, s.gw, func(ctx context.Context, token string) ([]api.TargetSummary, error) {
		return s.client.Targets(ctx, token)
	})
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return api.Precondition("no database targets registered")
	}

	if selector == "" {
		if len(targets) == 1 {
			s.conv.SetTarget(toTarget(targets[0]))
			return nil
		}
		names := make([]string, len(targets))
		for i, t := range targets {
			names[i] = t.Name
		}
		return api.Precondition("pass --target, available: %s", strings.Join(names, ", "))
	}

	for _, t := range targets {
		if strings.EqualFold(t.Name, selector) || fmt.Sprint(t.ID) == selector {
			s.conv.SetTarget(toTarget(t))
			return nil
		}
	}
	return api.Precondition("no target named %q", selector)
}

func toTarget(t api.TargetSummary) conversation.Target {
	return conversation.Target{
		ID:          t.ID,
		Name:        t.Name,
		DBType:      t.DBType,
		SchemaReady: t.SchemaReady,
	}
}
