// ABOUTME: Tests for the local SQLite store.
// ABOUTME: Covers credential roundtrip and session-summary cache replacement.

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isugar150/query-bot/internal/api"
	"github.com/isugar150/query-bot/internal/auth"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "client.db")
	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_CredentialRoundtrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Nothing stored yet
	cred, err := s.LoadCredential(ctx)
	require.NoError(t, err)
	assert.Nil(t, cred)

	// Save and load
	require.NoError(t, s.SaveCredential(ctx, &auth.Credential{
		Username:     "admin",
		AccessToken:  "a1",
		RefreshToken: "r1",
	}))
	cred, err = s.LoadCredential(ctx)
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "admin", cred.Username)
	assert.Equal(t, "a1", cred.AccessToken)

	// Replace
	require.NoError(t, s.SaveCredential(ctx, &auth.Credential{
		Username:     "admin",
		AccessToken:  "a2",
		RefreshToken: "r2",
	}))
	cred, err = s.LoadCredential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a2", cred.AccessToken)

	// Delete
	require.NoError(t, s.DeleteCredential(ctx))
	cred, err = s.LoadCredential(ctx)
	require.NoError(t, err)
	assert.Nil(t, cred)

	// Deleting again is not an error
	require.NoError(t, s.DeleteCredential(ctx))
}

func TestSQLiteStore_SummariesReplacePerTarget(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	cardID := int64(11)
	first := []api.SessionSummary{
		{ID: 7, TargetID: 3, Title: "signups", CreatedAt: time.Unix(100, 0).UTC(), CardID: &cardID, CardURL: "http://cards/11"},
		{ID: 8, TargetID: 3, Title: "churn", CreatedAt: time.Unix(200, 0).UTC()},
	}
	require.NoError(t, s.SaveSummaries(ctx, 3, first))

	// A different target is untouched by target 3's listing
	require.NoError(t, s.SaveSummaries(ctx, 4, []api.SessionSummary{
		{ID: 9, TargetID: 4, Title: "other", CreatedAt: time.Unix(300, 0).UTC()},
	}))

	listed, err := s.ListSummaries(ctx, 3)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "churn", listed[0].Title, "newest first")
	require.NotNil(t, listed[1].CardID)
	assert.Equal(t, int64(11), *listed[1].CardID)

	// Replacement drops stale rows
	require.NoError(t, s.SaveSummaries(ctx, 3, first[:1]))
	listed, err = s.ListSummaries(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	other, err := s.ListSummaries(ctx, 4)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestSQLiteStore_EmptyListing(t *testing.T) {
	s := createTestStore(t)
	listed, err := s.ListSummaries(context.Background(), 42)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestSQLiteStore_CreatesParentDirectories(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "client.db")
	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	s.Close()
}
