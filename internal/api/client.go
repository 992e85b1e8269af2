// ABOUTME: Typed HTTP transport for the query-bot REST API.
// ABOUTME: Token attachment is the caller's job; methods take the access token explicitly.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/isugar150/query-bot/internal/auth"
)

// Client issues requests against one query-bot server. It performs no
// credential management of its own; the gateway layer decides which token
// each request carries.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a client for the given base URL. A zero timeout means
// requests are bounded only by their context.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With("component", "api"),
	}
}

// Login exchanges a username/password pair for a credential.
func (c *Client) Login(ctx context.Context, username, password string) (*auth.Credential, error) {
	body := map[string]string{"username": username, "password": password}
	var cred auth.Credential
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", body, &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

// Refresh exchanges a refresh token for a new credential pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*auth.Credential, error) {
	body := map[string]string{"refreshToken": refreshToken}
	var cred auth.Credential
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", "", body, &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

// Ask submits a question and returns the server's authoritative view of the
// conversation, including the confirmed entry and the assistant's reply.
func (c *Client) Ask(ctx context.Context, token string, req *AskRequest) (*ChatResponse, error) {
	var resp ChatResponse
	if err := c.do(ctx, http.MethodPost, "/chat/ask", token, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History fetches the authoritative history for a session.
func (c *Client) History(ctx context.Context, token string, sessionID int64) (*ChatResponse, error) {
	var resp ChatResponse
	path := fmt.Sprintf("/chat/history/%d", sessionID)
	if err := c.do(ctx, http.MethodGet, path, token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sessions lists the sessions recorded for a target.
func (c *Client) Sessions(ctx context.Context, token string, targetID int64) ([]SessionSummary, error) {
	var summaries []SessionSummary
	path := fmt.Sprintf("/chat/sessions?targetId=%d", targetID)
	if err := c.do(ctx, http.MethodGet, path, token, nil, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

// DeleteSession removes a session and its history.
func (c *Client) DeleteSession(ctx context.Context, token string, sessionID int64) error {
	path := fmt.Sprintf("/chat/session/%d", sessionID)
	return c.do(ctx, http.MethodDelete, path, token, nil, nil)
}

// Targets lists the registered database targets.
func (c *Client) Targets(ctx context.Context, token string) ([]TargetSummary, error) {
	var targets []TargetSummary
	if err := c.do(ctx, http.MethodGet, "/db", token, nil, &targets); err != nil {
		return nil, err
	}
	return targets, nil
}

// Execute runs a read-only query against a target. The client-side guard in
// internal/query must approve the statement before this is called.
func (c *Client) Execute(ctx context.Context, token string, req *ExecuteRequest) (*QueryResult, error) {
	var result QueryResult
	if err := c.do(ctx, http.MethodPost, "/db/execute", token, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateCard creates or overwrites the artifact card for a session. The
// confirmation policy lives in the artifact registry, not here.
func (c *Client) CreateCard(ctx context.Context, token string, req *CardRequest) (*ArtifactLink, error) {
	var link ArtifactLink
	if err := c.do(ctx, http.MethodPost, "/artifact/card", token, req, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// ArtifactStatus reports whether the server has an artifact integration
// configured.
func (c *Client) ArtifactStatus(ctx context.Context, token string) (*ArtifactStatus, error) {
	var status ArtifactStatus
	if err := c.do(ctx, http.MethodGet, "/artifact/status", token, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// do issues one request and decodes the response into out (when non-nil).
// Non-2xx responses are decoded into the server's error envelope and
// classified; transport failures become transient errors.
func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &Error{Kind: KindTransient, Message: "request cancelled or timed out"}
		}
		c.logger.Debug("request failed", "method", method, "path", path, "error", err)
		return &Error{Kind: KindTransient, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope errorBody
		if data, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); readErr == nil {
			_ = json.Unmarshal(data, &envelope)
		}
		apiErr := classify(resp.StatusCode, envelope.Message)
		c.logger.Debug("request rejected",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"kind", apiErr.Kind.String())
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
