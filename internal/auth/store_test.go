// ABOUTME: Tests for the credential store.
// ABOUTME: Verifies atomic replace/clear semantics and persister mirroring.

package auth

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockPersister implements Persister for testing
type mockPersister struct {
	mu      sync.Mutex
	saved   *Credential
	deleted bool
	loadErr error
}

func (m *mockPersister) SaveCredential(ctx context.Context, cred *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = cred
	return nil
}

func (m *mockPersister) LoadCredential(ctx context.Context) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.saved, nil
}

func (m *mockPersister) DeleteCredential(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = nil
	m.deleted = true
	return nil
}

func TestStore_SetGetClear(t *testing.T) {
	store := NewStore(nil, nil)
	assert.Nil(t, store.Get())

	cred := &Credential{Username: "admin", AccessToken: "a1", RefreshToken: "r1"}
	store.Set(cred)
	assert.Equal(t, cred, store.Get())

	store.Clear()
	assert.Nil(t, store.Get())
}

func TestStore_PersisterMirroring(t *testing.T) {
	persister := &mockPersister{}
	store := NewStore(persister, nil)

	cred := &Credential{Username: "admin", AccessToken: "a1", RefreshToken: "r1"}
	store.Set(cred)
	assert.Equal(t, cred, persister.saved)

	store.Clear()
	assert.True(t, persister.deleted)
	assert.Nil(t, persister.saved)
}

func TestStore_LoadSeedsFromPersister(t *testing.T) {
	persister := &mockPersister{saved: &Credential{Username: "admin", AccessToken: "a1"}}
	store := NewStore(persister, nil)

	require.NoError(t, store.Load(context.Background()))
	cred := store.Get()
	require.NotNil(t, cred)
	assert.Equal(t, "admin", cred.Username)
}

func TestStore_LoadWithoutPersister(t *testing.T) {
	store := NewStore(nil, nil)
	require.NoError(t, store.Load(context.Background()))
	assert.Nil(t, store.Get())
}

// TestStore_ConcurrentReadersSeeWholeCredential hammers the store with
// replacements while readers check they never observe a mixed pair.
func TestStore_ConcurrentReadersSeeWholeCredential(t *testing.T) {
	store := NewStore(nil, nil)
	store.Set(&Credential{Username: "u0", AccessToken: "a0", RefreshToken: "r0"})

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			store.Set(&Credential{Username: "u1", AccessToken: "a1", RefreshToken: "r1"})
			store.Set(&Credential{Username: "u0", AccessToken: "a0", RefreshToken: "r0"})
		}
		close(done)
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				cred := store.Get()
				if cred == nil {
					continue
				}
				// Fields always belong to the same generation
				assert.Equal(t, cred.AccessToken[1:], cred.RefreshToken[1:])
				assert.Equal(t, cred.Username[1:], cred.AccessToken[1:])
			}
		}()
	}
	wg.Wait()
}
