// ABOUTME: Registry for the per-conversation artifact card with an explicit confirm-to-overwrite policy.
// ABOUTME: No network call is made without the required user confirmation; failures leave the prior link intact.

package artifact

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/isugar150/query-bot/internal/api"
	"github.com/isugar150/query-bot/internal/cache"
	"github.com/isugar150/query-bot/internal/conversation"
	"github.com/isugar150/query-bot/internal/gateway"
)

// CardAPI is what the registry needs from the transport. Satisfied by
// *api.Client.
type CardAPI interface {
	CreateCard(ctx context.Context, token string, req *api.CardRequest) (*api.ArtifactLink, error)
	ArtifactStatus(ctx context.Context, token string) (*api.ArtifactStatus, error)
}

// Conversation is the registry's view of the active conversation. Satisfied
// by *conversation.Controller.
type Conversation interface {
	SessionID() int64
	ArtifactLink() *api.ArtifactLink
	SetArtifactLink(sessionID int64, link *api.ArtifactLink) bool
}

// Confirmation carries the user's explicit input for a card mutation. Title
// is required when creating; OverwriteApproved is required when a card
// already exists. Invoking EnsureLink without the applicable confirmation is
// rejected before any request is issued.
type Confirmation struct {
	Title             string
	Description       string
	OverwriteApproved bool
}

// Registry tracks at most one artifact card per conversation and enforces
// the confirmation policy around creating and overwriting it.
type Registry struct {
	gw        *gateway.Gateway
	cards     CardAPI
	summaries *cache.Summaries
	timeout   time.Duration
	logger    *slog.Logger
}

// New creates a registry. summaries may be nil to skip mirroring.
func New(gw *gateway.Gateway, cards CardAPI, summaries *cache.Summaries, timeout time.Duration, logger *slog.Logger) *Registry {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		gw:        gw,
		cards:     cards,
		summaries: summaries,
		timeout:   timeout,
		logger:    logger.With("component", "artifact"),
	}
}

// Available reports whether the server has an artifact integration
// configured at all.
func (r *Registry) Available(ctx context.Context) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	status, err := gateway.Execute(callCtx, r.gw, func(ctx context.Context, token string) (*api.ArtifactStatus, error) {
		return r.cards.ArtifactStatus(ctx, token)
	})
	if err != nil {
		return false, err
	}
	return status.Available, nil
}

// EnsureLink creates or overwrites the conversation's artifact card from
// content. A first-time create requires a title; replacing an existing card
// requires OverwriteApproved. Either missing confirmation is a precondition
// failure raised before any network call. On success the returned link
// atomically replaces the conversation's prior link and is mirrored into
// the session-summary cache; on failure the prior link is unchanged.
func (r *Registry) EnsureLink(ctx context.Context, conv Conversation, content string, confirm Confirmation) (*api.ArtifactLink, error) {
	sessionID := conv.SessionID()
	if sessionID == 0 {
		return nil, api.Precondition("the conversation has no saved session yet")
	}
	if strings.TrimSpace(content) == "" {
		return nil, api.Precondition("query must not be empty")
	}

	existing := conv.ArtifactLink()
	if existing == nil {
		if strings.TrimSpace(confirm.Title) == "" {
			return nil, api.Precondition("a title is required before creating a card")
		}
	} else if !confirm.OverwriteApproved {
		return nil, api.Precondition("card %d already exists for this conversation, confirm overwrite first", existing.ID)
	}

	req := &api.CardRequest{
		SessionID:   sessionID,
		Query:       content,
		Title:       strings.TrimSpace(confirm.Title),
		Description: strings.TrimSpace(confirm.Description),
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	link, err := gateway.Execute(callCtx, r.gw, func(ctx context.Context, token string) (*api.ArtifactLink, error) {
		return r.cards.CreateCard(ctx, token, req)
	})
	if err != nil {
		return nil, err
	}

	if !conv.SetArtifactLink(sessionID, link) {
		// The conversation moved to another session while the card call was
		// in flight. The card exists server-side; the local view must not
		// be touched.
		r.logger.Debug("card saved but conversation moved", "session_id", sessionID, "card_id", link.ID)
		return nil, conversation.ErrSuperseded
	}

	if r.summaries != nil {
		r.summaries.SetArtifact(sessionID, link)
	}

	r.logger.Info("artifact card saved",
		"session_id", sessionID,
		"card_id", link.ID,
		"overwrite", existing != nil)
	return link, nil
}
