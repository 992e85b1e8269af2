// ABOUTME: Authenticated call wrapper: attach token, detect 401, refresh, retry once.
// ABOUTME: Refresh failure clears the credential store and surfaces a terminal unauthorized error.

package gateway

import (
	"context"
	"log/slog"

	"github.com/isugar150/query-bot/internal/api"
	"github.com/isugar150/query-bot/internal/auth"
)

// Call is one deferred outbound request. The gateway invokes it with the
// access token it should carry (empty when logged out).
type Call func(ctx context.Context, accessToken string) error

// Refresher obtains a fresh credential, coordinating concurrent requests.
type Refresher interface {
	Refresh(ctx context.Context) (*auth.Credential, error)
}

// Gateway wraps outbound calls with credential handling. A call that fails
// with an authorization error is retried exactly once after a refresh; any
// other failure passes through untouched.
type Gateway struct {
	store     *auth.Store
	refresher Refresher
	logger    *slog.Logger
}

// New creates a gateway over the given store and refresher.
func New(store *auth.Store, refresher Refresher, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		store:     store,
		refresher: refresher,
		logger:    logger.With("component", "gateway"),
	}
}

// ExecuteFunc runs call with the current access token. On an authorization
// failure it requests a refresh and re-runs the call once with the new
// token; a second authorization failure is returned as-is. When the refresh
// cannot produce a credential, the store is cleared and the caller gets a
// terminal unauthorized error.
func (g *Gateway) ExecuteFunc(ctx context.Context, call Call) error {
	err := call(ctx, g.accessToken())
	if err == nil || !api.IsUnauthorized(err) {
		return err
	}

	cred, refreshErr := g.refresher.Refresh(ctx)
	if refreshErr != nil {
		return refreshErr
	}
	if cred == nil {
		g.logger.Info("refresh failed, clearing credential")
		g.store.Clear()
		return api.Unauthorized("session expired, log in again")
	}

	// Retried at most once: whatever this attempt returns is final.
	return call(ctx, cred.AccessToken)
}

// accessToken returns the current access token, or empty when logged out.
func (g *Gateway) accessToken() string {
	if cred := g.store.Get(); cred != nil {
		return cred.AccessToken
	}
	return ""
}

// Execute runs a typed call through gw, preserving the gateway's
// refresh-and-retry-once behavior while returning the call's result.
func Execute[T any](ctx context.Context, gw *Gateway, fn func(ctx context.Context, accessToken string) (T, error)) (T, error) {
	var result T
	err := gw.ExecuteFunc(ctx, func(ctx context.Context, token string) error {
		var callErr error
		result, callErr = fn(ctx, token)
		return callErr
	})
	return result, err
}
