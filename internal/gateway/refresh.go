// ABOUTME: Single-flight token refresh: concurrent callers share one exchange.
// ABOUTME: Each exchange runs on its own timeout so a cancelled waiter never aborts it.

package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/isugar150/query-bot/internal/auth"
)

// Exchanger trades a refresh token for a fresh credential.
type Exchanger interface {
	Refresh(ctx context.Context, refreshToken string) (*auth.Credential, error)
}

// ticket is one in-flight exchange. done is closed after cred is set; a nil
// cred after settlement means the exchange failed.
type ticket struct {
	done chan struct{}
	cred *auth.Credential
}

func (t *ticket) wait(ctx context.Context) (*auth.Credential, error) {
	select {
	case <-t.done:
		return t.cred, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Coordinator serializes credential refreshes. However many callers notice an
// expired token at once, only one exchange goes to the server; everyone else
// waits on the same ticket and shares its outcome.
type Coordinator struct {
	mu     sync.Mutex
	ticket *ticket

	store     *auth.Store
	exchanger Exchanger
	timeout   time.Duration
	logger    *slog.Logger
}

// NewCoordinator creates a refresh coordinator over the given store and
// exchanger. timeout bounds each exchange independently of the callers.
func NewCoordinator(store *auth.Store, exchanger Exchanger, timeout time.Duration, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:     store,
		exchanger: exchanger,
		timeout:   timeout,
		logger:    logger.With("component", "refresh"),
	}
}

// Refresh returns a fresh credential, joining an in-flight exchange when one
// exists. A nil credential with a nil error means the refresh could not
// produce one (no refresh token, or the exchange failed); the caller decides
// what that means for the session.
func (c *Coordinator) Refresh(ctx context.Context) (*auth.Credential, error) {
	c.mu.Lock()
	if t := c.ticket; t != nil {
		c.mu.Unlock()
		return t.wait(ctx)
	}

	cred := c.store.Get()
	if cred == nil || cred.RefreshToken == "" {
		c.mu.Unlock()
		return nil, nil
	}

	t := &ticket{done: make(chan struct{})}
	c.ticket = t
	c.mu.Unlock()

	go c.run(t, cred.RefreshToken)

	return t.wait(ctx)
}

// run performs the exchange for one ticket. It retires the ticket before
// resolving it, so callers arriving after settlement start a fresh exchange
// instead of reading a stale one.
func (c *Coordinator) run(t *ticket, refreshToken string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	cred, err := c.exchanger.Refresh(ctx, refreshToken)
	if err != nil {
		c.logger.Warn("token refresh failed", "error", err)
		cred = nil
	} else if cred != nil {
		c.store.Set(cred)
	}

	c.mu.Lock()
	c.ticket = nil
	c.mu.Unlock()

	t.cred = cred
	close(t.done)
}
