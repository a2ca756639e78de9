// Package session implements the redis-backed session store and the
// AuthnState lifecycle (§4.11, §5 "SessionManager uses a per-session
// lock"): START_ATTEMPT -> AUTHENTICATED -> EXPIRED.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/contentbridge/adaptor/acl"
	"github.com/contentbridge/adaptor/errkind"
)

// Status is one state in the AuthnState lifecycle.
type Status int

const (
	StartAttempt Status = iota
	Authenticated
	Expired
)

func (s Status) String() string {
	switch s {
	case StartAttempt:
		return "START_ATTEMPT"
	case Authenticated:
		return "AUTHENTICATED"
	case Expired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// AuthnState is one session's SAML authentication progress, per §4.11: a
// redirect-bound attempt records the request id and original URI so the
// assertion consumer can correlate the IdP's response and resume the
// user's original navigation.
type AuthnState struct {
	Status        Status
	SamlRequestID string
	OriginalURI   string
	Identity      acl.Identity
	HasIdentity   bool
	ExpiresAt     time.Time
}

type storedState struct {
	Status        Status        `json:"status"`
	SamlRequestID string        `json:"samlRequestId"`
	OriginalURI   string        `json:"originalUri"`
	Identity      acl.Identity  `json:"identity"`
	HasIdentity   bool          `json:"hasIdentity"`
	ExpiresAt     time.Time     `json:"expiresAt"`
}

// Manager stores AuthnStates in Redis keyed by an opaque session id, with
// an in-process per-id lock serializing concurrent updates to the same
// session (the redis.Client itself is safe for concurrent use, but
// read-modify-write sequences like BeginAttempt/Authenticate are not
// atomic without it).
type Manager struct {
	client *redis.Client
	prefix string
	ttl    time.Duration

	locks sync.Map // map[string]*sync.Mutex
}

// NewManager returns a Manager storing sessions under prefix with ttl.
func NewManager(client *redis.Client, prefix string, ttl time.Duration) *Manager {
	return &Manager{client: client, prefix: prefix, ttl: ttl}
}

func (m *Manager) key(id string) string { return m.prefix + id }

func (m *Manager) lockFor(id string) *sync.Mutex {
	v, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// NewSession allocates a fresh session id with no AuthnState recorded
// yet.
func (m *Manager) NewSession() string {
	return uuid.NewString()
}

// Get returns the session's current AuthnState, or ok=false if the
// session does not exist (never started, or its TTL expired).
func (m *Manager) Get(ctx context.Context, id string) (AuthnState, bool, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	return m.getLocked(ctx, id)
}

func (m *Manager) getLocked(ctx context.Context, id string) (AuthnState, bool, error) {
	raw, err := m.client.Get(ctx, m.key(id)).Bytes()
	if err == redis.Nil {
		return AuthnState{}, false, nil
	}
	if err != nil {
		return AuthnState{}, false, errkind.Wrap(errkind.Unavailable, "session: read state", err)
	}
	var stored storedState
	if err := json.Unmarshal(raw, &stored); err != nil {
		return AuthnState{}, false, errkind.Wrap(errkind.Unavailable, "session: decode state", err)
	}
	state := AuthnState{
		Status:        stored.Status,
		SamlRequestID: stored.SamlRequestID,
		OriginalURI:   stored.OriginalURI,
		Identity:      stored.Identity,
		HasIdentity:   stored.HasIdentity,
		ExpiresAt:     stored.ExpiresAt,
	}
	return state, true, nil
}

func (m *Manager) putLocked(ctx context.Context, id string, state AuthnState) error {
	stored := storedState{
		Status:        state.Status,
		SamlRequestID: state.SamlRequestID,
		OriginalURI:   state.OriginalURI,
		Identity:      state.Identity,
		HasIdentity:   state.HasIdentity,
		ExpiresAt:     state.ExpiresAt,
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return errkind.Wrap(errkind.Unavailable, "session: encode state", err)
	}
	if err := m.client.Set(ctx, m.key(id), raw, m.ttl).Err(); err != nil {
		return errkind.Wrap(errkind.Unavailable, "session: write state", err)
	}
	return nil
}

// BeginAttempt records AuthnState(START_ATTEMPT, samlRequestID,
// originalURI), overwriting whatever state (if any) the session held.
func (m *Manager) BeginAttempt(ctx context.Context, id, samlRequestID, originalURI string) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	return m.putLocked(ctx, id, AuthnState{
		Status:        StartAttempt,
		SamlRequestID: samlRequestID,
		OriginalURI:   originalURI,
		ExpiresAt:     time.Now().Add(m.ttl),
	})
}

// Authenticate transitions the session START_ATTEMPT -> AUTHENTICATED,
// recording the resolved identity. Fails INVALID_STATE if the session
// does not exist or is not currently START_ATTEMPT.
func (m *Manager) Authenticate(ctx context.Context, id string, identity acl.Identity) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	state, ok, err := m.getLocked(ctx, id)
	if err != nil {
		return err
	}
	if !ok || state.Status != StartAttempt {
		return errkind.New(errkind.InvalidState, "session: authenticate called without a pending attempt")
	}
	state.Status = Authenticated
	state.Identity = identity
	state.HasIdentity = true
	state.ExpiresAt = time.Now().Add(m.ttl)
	return m.putLocked(ctx, id, state)
}

// Expire transitions the session to EXPIRED in place, per §5's note that
// a cancelled SAML attempt leaves the session in START_ATTEMPT rather
// than silently deleting it; Expire is the explicit terminal transition.
// A session that does not exist is left absent.
func (m *Manager) Expire(ctx context.Context, id string) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	state, ok, err := m.getLocked(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	state.Status = Expired
	return m.putLocked(ctx, id, state)
}

// Delete removes a session entirely.
func (m *Manager) Delete(ctx context.Context, id string) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	if err := m.client.Del(ctx, m.key(id)).Err(); err != nil {
		return errkind.Wrap(errkind.Unavailable, "session: delete state", err)
	}
	return nil
}
