// ABOUTME: Tests for the conversation controller.
// ABOUTME: Verifies optimistic append, wholesale reconcile, exact rollback, and stale-result discard.

package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isugar150/query-bot/internal/api"
	"github.com/isugar150/query-bot/internal/auth"
	"github.com/isugar150/query-bot/internal/cache"
	"github.com/isugar150/query-bot/internal/gateway"
)

// mockChat implements ChatAPI for testing
type mockChat struct {
	mu             sync.Mutex
	askResp        *api.ChatResponse
	askErr         error
	askBlock       chan struct{} // when non-nil, Ask blocks until closed
	askRequests    []*api.AskRequest
	historyResp    *api.ChatResponse
	historyErr     error
	sessions       []api.SessionSummary
	sessionsErr    error
	deleteErr      error
	deletedIDs     []int64
}

func (m *mockChat) Ask(ctx context.Context, token string, req *api.AskRequest) (*api.ChatResponse, error) {
	m.mu.Lock()
	m.askRequests = append(m.askRequests, req)
	block := m.askBlock
	m.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.askErr != nil {
		return nil, m.askErr
	}
	return m.askResp, nil
}

func (m *mockChat) History(ctx context.Context, token string, sessionID int64) (*api.ChatResponse, error) {
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	return m.historyResp, nil
}

func (m *mockChat) Sessions(ctx context.Context, token string, targetID int64) ([]api.SessionSummary, error) {
	if m.sessionsErr != nil {
		return nil, m.sessionsErr
	}
	return m.sessions, nil
}

func (m *mockChat) DeleteSession(ctx context.Context, token string, sessionID int64) error {
	m.mu.Lock()
	m.deletedIDs = append(m.deletedIDs, sessionID)
	m.mu.Unlock()
	return m.deleteErr
}

// noRefresh implements gateway.Refresher and never recovers a credential
type noRefresh struct{}

func (noRefresh) Refresh(ctx context.Context) (*auth.Credential, error) { return nil, nil }

func testGateway() *gateway.Gateway {
	store := auth.NewStore(nil, nil)
	store.Set(&auth.Credential{Username: "admin", AccessToken: "token", RefreshToken: "refresh"})
	return gateway.New(store, noRefresh{}, nil)
}

func readyTarget() Target {
	return Target{ID: 3, Name: "orders", DBType: "POSTGRESQL", SchemaReady: true}
}

func entries(contents ...string) []api.Entry {
	var out []api.Entry
	for i, content := range contents {
		role := api.RoleUser
		if i%2 == 1 {
			role = api.RoleAssistant
		}
		out = append(out, api.Entry{Role: role, Content: content, CreatedAt: time.Now().UTC()})
	}
	return out
}

func TestController_Send_Preconditions(t *testing.T) {
	chat := &mockChat{}
	ctrl := New(testGateway(), chat, nil, time.Second, nil)

	// No target selected
	_, err := ctrl.Send(context.Background(), "question")
	require.Error(t, err)
	assert.True(t, api.IsPrecondition(err))

	// Empty content
	ctrl.SetTarget(readyTarget())
	_, err = ctrl.Send(context.Background(), "   ")
	require.Error(t, err)
	assert.True(t, api.IsPrecondition(err))

	// Target schema not ready
	ctrl.SetTarget(Target{ID: 3, Name: "orders", SchemaReady: false})
	_, err = ctrl.Send(context.Background(), "question")
	require.Error(t, err)
	assert.True(t, api.IsPrecondition(err))

	assert.Empty(t, chat.askRequests, "precondition failures never reach the network")
}

func TestController_Send_ReplacesHistoryWholesale(t *testing.T) {
	// The server's authoritative sequence contains the confirmed entry plus
	// the reply; the locally appended optimistic entry must not survive
	// alongside it.
	serverHistory := []api.Entry{
		{Role: api.RoleUser, Content: "hi", CreatedAt: time.Unix(100, 0).UTC()},
		{Role: api.RoleAssistant, Content: "hi-reply", CreatedAt: time.Unix(101, 0).UTC()},
		{Role: api.RoleUser, Content: "next question", CreatedAt: time.Unix(102, 0).UTC()},
		{Role: api.RoleAssistant, Content: "next-reply", CreatedAt: time.Unix(103, 0).UTC()},
	}
	chat := &mockChat{askResp: &api.ChatResponse{SessionID: 7, History: serverHistory}}
	ctrl := New(testGateway(), chat, nil, time.Second, nil)
	ctrl.SetTarget(readyTarget())

	resp, err := ctrl.Send(context.Background(), "next question")
	require.NoError(t, err)
	assert.Equal(t, int64(7), resp.SessionID)

	snapshot := ctrl.Snapshot()
	assert.Equal(t, int64(7), snapshot.SessionID)
	assert.Equal(t, serverHistory, snapshot.Entries, "final state equals exactly the server sequence")
	assert.Equal(t, StateSettled, snapshot.State)
}

func TestController_Send_RollbackIsExact(t *testing.T) {
	chat := &mockChat{
		askResp: &api.ChatResponse{SessionID: 7, History: entries("hi", "hi-reply")},
	}
	ctrl := New(testGateway(), chat, nil, time.Second, nil)
	ctrl.SetTarget(readyTarget())

	// Settle one exchange first
	_, err := ctrl.Send(context.Background(), "hi")
	require.NoError(t, err)
	before := ctrl.Snapshot().Entries

	// Now fail the next send
	chat.askErr = api.Transient("connection reset")
	_, err = ctrl.Send(context.Background(), "next question")
	require.Error(t, err)
	assert.Equal(t, api.KindTransient, api.KindOf(err))

	snapshot := ctrl.Snapshot()
	assert.Equal(t, before, snapshot.Entries, "rollback restores the exact pre-call sequence")
	assert.Equal(t, StateRolledBack, snapshot.State)

	// The conversation is not poisoned: a later send still works
	chat.askErr = nil
	_, err = ctrl.Send(context.Background(), "again")
	require.NoError(t, err)
	assert.Equal(t, StateSettled, ctrl.Snapshot().State)
}

func TestController_Send_WhilePendingRejected(t *testing.T) {
	block := make(chan struct{})
	chat := &mockChat{
		askBlock: block,
		askResp:  &api.ChatResponse{SessionID: 1, History: entries("q", "a")},
	}
	ctrl := New(testGateway(), chat, nil, 5*time.Second, nil)
	ctrl.SetTarget(readyTarget())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = ctrl.Send(context.Background(), "first")
	}()

	require.Eventually(t, func() bool {
		return ctrl.Snapshot().State == StatePending
	}, time.Second, 5*time.Millisecond)

	_, err := ctrl.Send(context.Background(), "second")
	require.Error(t, err)
	assert.True(t, api.IsPrecondition(err))

	close(block)
	<-done
}

func TestController_SwitchDuringSend_DiscardsStaleResult(t *testing.T) {
	block := make(chan struct{})
	chat := &mockChat{
		askBlock: block,
		askResp: &api.ChatResponse{
			SessionID: 7,
			History:   entries("stale question", "stale reply"),
		},
		historyResp: &api.ChatResponse{
			SessionID: 9,
			History:   entries("other", "other-reply"),
		},
	}
	ctrl := New(testGateway(), chat, nil, 5*time.Second, nil)
	ctrl.SetTarget(readyTarget())

	sendErr := make(chan error, 1)
	go func() {
		_, err := ctrl.Send(context.Background(), "stale question")
		sendErr <- err
	}()

	require.Eventually(t, func() bool {
		return ctrl.Snapshot().State == StatePending
	}, time.Second, 5*time.Millisecond)

	// Switch to another session while the send is still in flight
	require.NoError(t, ctrl.SwitchSession(context.Background(), 9))

	// Release the stale response; it must not mutate the new conversation
	close(block)
	require.ErrorIs(t, <-sendErr, ErrSuperseded)

	snapshot := ctrl.Snapshot()
	assert.Equal(t, int64(9), snapshot.SessionID)
	require.Len(t, snapshot.Entries, 2)
	assert.Equal(t, "other", snapshot.Entries[0].Content)
}

func TestController_LoadHistory_NotFoundIsEmpty(t *testing.T) {
	chat := &mockChat{historyErr: &api.Error{Kind: api.KindNotFound, Message: "no such session", Status: 404}}
	ctrl := New(testGateway(), chat, nil, time.Second, nil)
	ctrl.SetTarget(readyTarget())

	err := ctrl.LoadHistory(context.Background(), 42)
	require.NoError(t, err, "not-found is an empty conversation, not an error")

	snapshot := ctrl.Snapshot()
	assert.Empty(t, snapshot.Entries)
	assert.Equal(t, StateEmpty, snapshot.State)
}

func TestController_LoadHistory_OtherFailuresSurface(t *testing.T) {
	chat := &mockChat{historyErr: api.Transient("connection refused")}
	ctrl := New(testGateway(), chat, nil, time.Second, nil)

	err := ctrl.LoadHistory(context.Background(), 42)
	require.Error(t, err)
	assert.Equal(t, api.KindTransient, api.KindOf(err))
}

func TestController_LoadHistory_OverwritesWholesale(t *testing.T) {
	chat := &mockChat{
		askResp:     &api.ChatResponse{SessionID: 7, History: entries("a", "b")},
		historyResp: &api.ChatResponse{SessionID: 8, History: entries("x", "y", "z", "w")},
	}
	ctrl := New(testGateway(), chat, nil, time.Second, nil)
	ctrl.SetTarget(readyTarget())

	_, err := ctrl.Send(context.Background(), "a")
	require.NoError(t, err)

	require.NoError(t, ctrl.LoadHistory(context.Background(), 8))
	snapshot := ctrl.Snapshot()
	assert.Equal(t, int64(8), snapshot.SessionID)
	assert.Len(t, snapshot.Entries, 4)
	assert.Equal(t, StateSettled, snapshot.State)
}

func TestController_NewSession_ResetsEverything(t *testing.T) {
	chat := &mockChat{
		askResp: &api.ChatResponse{
			SessionID: 7,
			History:   entries("q", "a"),
			Artifact:  &api.ArtifactLink{ID: 11, URL: "http://cards/11"},
		},
	}
	ctrl := New(testGateway(), chat, nil, time.Second, nil)
	ctrl.SetTarget(readyTarget())

	_, err := ctrl.Send(context.Background(), "q")
	require.NoError(t, err)
	require.NotNil(t, ctrl.ArtifactLink())

	ctrl.NewSession()
	snapshot := ctrl.Snapshot()
	assert.Zero(t, snapshot.SessionID)
	assert.Empty(t, snapshot.Entries)
	assert.Nil(t, snapshot.Artifact)
	assert.Equal(t, StateEmpty, snapshot.State)
}

func TestController_Sessions_PopulatesCache(t *testing.T) {
	summaries := cache.New(time.Minute, 16)
	defer summaries.Close()

	cardID := int64(11)
	chat := &mockChat{sessions: []api.SessionSummary{
		{ID: 7, TargetID: 3, Title: "weekly signups", CardID: &cardID, CardURL: "http://cards/11"},
		{ID: 8, TargetID: 3, Title: "churn"},
	}}
	ctrl := New(testGateway(), chat, summaries, time.Second, nil)
	ctrl.SetTarget(readyTarget())

	listed, err := ctrl.Sessions(context.Background())
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	cached, ok := summaries.Get(7)
	require.True(t, ok)
	assert.Equal(t, "weekly signups", cached.Title)
	assert.Equal(t, "http://cards/11", cached.CardURL)
}

func TestController_DeleteSession_CurrentResets(t *testing.T) {
	chat := &mockChat{askResp: &api.ChatResponse{SessionID: 7, History: entries("q", "a")}}
	ctrl := New(testGateway(), chat, nil, time.Second, nil)
	ctrl.SetTarget(readyTarget())

	_, err := ctrl.Send(context.Background(), "q")
	require.NoError(t, err)
	require.Equal(t, int64(7), ctrl.SessionID())

	require.NoError(t, ctrl.DeleteSession(context.Background(), 7))
	assert.Equal(t, []int64{7}, chat.deletedIDs)
	assert.Zero(t, ctrl.SessionID())
	assert.Equal(t, StateEmpty, ctrl.Snapshot().State)
}

func TestController_SetArtifactLink_IdentityCheck(t *testing.T) {
	chat := &mockChat{askResp: &api.ChatResponse{SessionID: 7, History: entries("q", "a")}}
	ctrl := New(testGateway(), chat, nil, time.Second, nil)
	ctrl.SetTarget(readyTarget())

	_, err := ctrl.Send(context.Background(), "q")
	require.NoError(t, err)

	link := &api.ArtifactLink{ID: 11, URL: "http://cards/11"}
	assert.False(t, ctrl.SetArtifactLink(99, link), "mismatched session must be dropped")
	assert.Nil(t, ctrl.ArtifactLink())

	assert.True(t, ctrl.SetArtifactLink(7, link))
	assert.Equal(t, link, ctrl.ArtifactLink())
}
