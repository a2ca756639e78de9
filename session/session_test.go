package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentbridge/adaptor/acl"
	"github.com/contentbridge/adaptor/errkind"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewManager(client, "sess:", 5*time.Minute)
}

func TestBeginAttemptThenAuthenticate(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id := m.NewSession()

	require.NoError(t, m.BeginAttempt(ctx, id, "req-1", "/original"))

	state, ok, err := m.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StartAttempt, state.Status)
	assert.Equal(t, "req-1", state.SamlRequestID)
	assert.Equal(t, "/original", state.OriginalURI)

	identity := acl.Identity{User: acl.User("joe", "Default")}
	require.NoError(t, m.Authenticate(ctx, id, identity))

	state, ok, err = m.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Authenticated, state.Status)
	assert.True(t, state.HasIdentity)
	assert.Equal(t, "joe", state.Identity.User.Name)
}

func TestAuthenticateWithoutPendingAttemptFails(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id := m.NewSession()

	err := m.Authenticate(ctx, id, acl.Identity{})
	assert.True(t, errkind.Is(err, errkind.InvalidState))
}

func TestGetMissingSessionReturnsNotOK(t *testing.T) {
	m := newTestManager(t)
	_, ok, err := m.Get(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpireTransitionsStatus(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id := m.NewSession()
	require.NoError(t, m.BeginAttempt(ctx, id, "req-1", "/x"))
	require.NoError(t, m.Expire(ctx, id))

	state, ok, err := m.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Expired, state.Status)
}

func TestDeleteRemovesSession(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id := m.NewSession()
	require.NoError(t, m.BeginAttempt(ctx, id, "req-1", "/x"))
	require.NoError(t, m.Delete(ctx, id))

	_, ok, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}
