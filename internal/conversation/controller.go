// ABOUTME: Controller for the one active conversation: optimistic send, authoritative reconcile, exact rollback.
// ABOUTME: An epoch counter tags in-flight calls so results landing after a session switch are discarded.

package conversation

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/isugar150/query-bot/internal/api"
	"github.com/isugar150/query-bot/internal/cache"
	"github.com/isugar150/query-bot/internal/gateway"
)

// ErrSuperseded is returned when a call's result arrives after the
// conversation it was issued against has been replaced. The result is
// discarded; the now-current conversation is untouched.
var ErrSuperseded = errors.New("conversation changed while the call was in flight")

// ChatAPI is what the controller needs from the transport. Satisfied by
// *api.Client; the gateway supplies the token argument.
type ChatAPI interface {
	Ask(ctx context.Context, token string, req *api.AskRequest) (*api.ChatResponse, error)
	History(ctx context.Context, token string, sessionID int64) (*api.ChatResponse, error)
	Sessions(ctx context.Context, token string, targetID int64) ([]api.SessionSummary, error)
	DeleteSession(ctx context.Context, token string, sessionID int64) error
}

// Target is the database profile a conversation asks questions against.
// SchemaReady gates sends: the server rejects asks until schema collection
// finishes, so the client refuses them up front.
type Target struct {
	ID          int64
	Name        string
	DBType      string
	SchemaReady bool
}

// Conversation is a point-in-time view of the controller's state.
type Conversation struct {
	SessionID int64
	Entries   []api.Entry
	Artifact  *api.ArtifactLink
	State     State
}

// Controller owns one active conversation. All mutation goes through its
// methods; entries are either fully optimistic-appended or fully
// server-authoritative after any settled operation, never a partial merge.
type Controller struct {
	mu        sync.Mutex
	gw        *gateway.Gateway
	chat      ChatAPI
	summaries *cache.Summaries
	timeout   time.Duration
	logger    *slog.Logger

	target    *Target
	sessionID int64 // 0 = not yet created on the server
	entries   []api.Entry
	artifact  *api.ArtifactLink
	state     State
	epoch     uint64
}

// New creates a controller. timeout bounds each network call (so a send
// whose response never arrives rolls back instead of pending forever); zero
// means two minutes. summaries may be nil to disable the session cache.
func New(gw *gateway.Gateway, chat ChatAPI, summaries *cache.Summaries, timeout time.Duration, logger *slog.Logger) *Controller {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		gw:        gw,
		chat:      chat,
		summaries: summaries,
		timeout:   timeout,
		logger:    logger.With("component", "conversation"),
	}
}

// Snapshot returns a copy of the current conversation for rendering.
func (c *Controller) Snapshot() Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Conversation{
		SessionID: c.sessionID,
		Entries:   slices.Clone(c.entries),
		Artifact:  c.artifact,
		State:     c.state,
	}
}

// Target returns the currently selected target, or nil.
func (c *Controller) Target() *Target {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// SessionID returns the current session id, 0 when the session has not been
// created on the server yet.
func (c *Controller) SessionID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ArtifactLink returns the conversation's current artifact link, or nil.
func (c *Controller) ArtifactLink() *api.ArtifactLink {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.artifact
}

// SetTarget selects the database target and resets the conversation. Any
// in-flight call from the previous target is invalidated.
func (c *Controller) SetTarget(t Target) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = &t
	c.resetLocked()
}

// NewSession replaces the whole conversation with an empty one. The first
// send afterwards creates a new session on the server.
func (c *Controller) NewSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

// resetLocked clears session, entries and artifact link and invalidates
// in-flight calls. Must be called with mu held.
func (c *Controller) resetLocked() {
	c.epoch++
	c.sessionID = 0
	c.entries = nil
	c.artifact = nil
	c.state = StateEmpty
}

// Send appends content as an optimistic user entry, issues the ask, and
// reconciles: on success the entry sequence is replaced wholesale with the
// server's history (which contains the confirmed entry), on failure the
// exact pre-optimistic sequence is restored and the error is surfaced.
func (c *Controller) Send(ctx context.Context, content string) (*api.ChatResponse, error) {
	content = strings.TrimSpace(content)

	c.mu.Lock()
	if content == "" {
		c.mu.Unlock()
		return nil, api.Precondition("question must not be empty")
	}
	if c.target == nil {
		c.mu.Unlock()
		return nil, api.Precondition("no database target selected")
	}
	if !c.target.SchemaReady {
		c.mu.Unlock()
		return nil, api.Precondition("schema collection for %q is still running", c.target.Name)
	}
	if c.state == StatePending {
		c.mu.Unlock()
		return nil, api.Precondition("a question is already in flight")
	}

	snapshot := slices.Clone(c.entries)
	c.entries = append(c.entries, api.Entry{
		Role:      api.RoleUser,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	c.state = StatePending
	epoch := c.epoch
	createdSession := c.sessionID == 0
	req := &api.AskRequest{
		TargetID:       c.target.ID,
		Content:        content,
		SessionID:      c.sessionID,
		IdempotencyKey: uuid.New().String(),
	}
	c.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := gateway.Execute(callCtx, c.gw, func(ctx context.Context, token string) (*api.ChatResponse, error) {
		return c.chat.Ask(ctx, token, req)
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch {
		// The conversation was replaced while the call was in flight. The
		// snapshot belongs to the old conversation, so neither reconcile
		// nor rollback may touch the current one.
		c.logger.Debug("discarding stale send result", "error", err)
		return nil, ErrSuperseded
	}

	if err != nil {
		c.entries = snapshot
		c.state = StateRolledBack
		return nil, err
	}

	c.sessionID = resp.SessionID
	c.entries = slices.Clone(resp.History)
	c.artifact = resp.Artifact
	c.state = StateSettled
	if createdSession {
		c.logger.Debug("session created", "session_id", resp.SessionID)
	}
	return resp, nil
}

// SwitchSession replaces the conversation with the given session and loads
// its authoritative history. In-flight calls from the previous conversation
// are invalidated before the load starts.
func (c *Controller) SwitchSession(ctx context.Context, sessionID int64) error {
	c.mu.Lock()
	c.resetLocked()
	c.sessionID = sessionID
	c.mu.Unlock()
	return c.LoadHistory(ctx, sessionID)
}

// LoadHistory fetches the authoritative history for sessionID and overwrites
// local state wholesale. A not-found session is an empty conversation, not
// an error; any other failure is surfaced and leaves local state empty.
func (c *Controller) LoadHistory(ctx context.Context, sessionID int64) error {
	c.mu.Lock()
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := gateway.Execute(callCtx, c.gw, func(ctx context.Context, token string) (*api.ChatResponse, error) {
		return c.chat.History(ctx, token, sessionID)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return ErrSuperseded
	}

	if err != nil {
		c.sessionID = sessionID
		c.entries = nil
		c.artifact = nil
		if api.IsNotFound(err) {
			c.state = StateEmpty
			return nil
		}
		c.state = StateEmpty
		return err
	}

	c.sessionID = resp.SessionID
	c.entries = slices.Clone(resp.History)
	c.artifact = resp.Artifact
	c.state = StateSettled
	return nil
}

// SetArtifactLink records the artifact link for the given session. The link
// is dropped when the controller has moved to a different session in the
// meantime. Returns whether the link was applied.
func (c *Controller) SetArtifactLink(sessionID int64, link *api.ArtifactLink) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != sessionID {
		return false
	}
	c.artifact = link
	return true
}

// Sessions lists the sessions for the current target and refreshes the
// summary cache so other views see artifact links without refetching.
func (c *Controller) Sessions(ctx context.Context) ([]api.SessionSummary, error) {
	c.mu.Lock()
	target := c.target
	c.mu.Unlock()
	if target == nil {
		return nil, api.Precondition("no database target selected")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	summaries, err := gateway.Execute(callCtx, c.gw, func(ctx context.Context, token string) ([]api.SessionSummary, error) {
		return c.chat.Sessions(ctx, token, target.ID)
	})
	if err != nil {
		return nil, err
	}

	if c.summaries != nil {
		for _, summary := range summaries {
			c.summaries.Put(summary)
		}
	}
	return summaries, nil
}

// DeleteSession removes a session on the server. When it is the current one
// the conversation resets to empty.
func (c *Controller) DeleteSession(ctx context.Context, sessionID int64) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	err := c.gw.ExecuteFunc(callCtx, func(ctx context.Context, token string) error {
		return c.chat.DeleteSession(ctx, token, sessionID)
	})
	if err != nil {
		return err
	}

	if c.summaries != nil {
		c.summaries.Forget(sessionID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == sessionID {
		c.resetLocked()
	}
	return nil
}
