package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStore is an in-memory CredentialStore for resolver and gate tests.
type stubStore struct {
	mu     sync.Mutex
	users  map[string]*User
	grants map[string][]Grant // keyed by role id
	err    error
	loads  int
}

func newStubStore() *stubStore {
	return &stubStore{
		users:  make(map[string]*User),
		grants: make(map[string][]Grant),
	}
}

func (s *stubStore) UserByID(_ context.Context, userID string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.loads++
	user, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (s *stubStore) UserByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for _, user := range s.users {
		if user.Email == email {
			clone := *user
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (s *stubStore) GrantsForRoles(_ context.Context, roleIDs []string) ([]Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []Grant
	for _, id := range roleIDs {
		out = append(out, s.grants[id]...)
	}
	return out, nil
}

func (s *stubStore) RoleMembers(_ context.Context, roleID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var members []string
	for id, user := range s.users {
		for _, rid := range user.RoleIDs {
			if rid == roleID {
				members = append(members, id)
			}
		}
	}
	return members, nil
}

func (s *stubStore) setGrants(roleID string, grants ...Grant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[roleID] = grants
}

func (s *stubStore) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

func newTestResolver(t *testing.T, store *stubStore) (*Resolver, *PermissionCache, func(d time.Duration)) {
	t.Helper()
	client, mr := setupRedisTest(t)
	cache, err := NewPermissionCache(client, time.Minute)
	require.NoError(t, err)
	resolver, err := NewResolver(store, cache)
	require.NoError(t, err)
	return resolver, cache, mr.FastForward
}

func TestResolveMergesRolesAndCaches(t *testing.T) {
	store := newStubStore()
	store.users["u1"] = &User{ID: "u1", RoleIDs: []string{"r1", "r2"}}
	store.setGrants("r1", Grant{RoleID: "r1", Module: "catalog", Feature: "product", Actions: []string{"read"}})
	store.setGrants("r2", Grant{RoleID: "r2", Module: "catalog", Feature: "product", Actions: []string{"create", "update"}})

	resolver, _, _ := newTestResolver(t, store)
	ctx := context.Background()

	set, err := resolver.Resolve(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"create", "read", "update"}, set[PermissionKey("catalog", "product")])

	// Second call is served from cache; the store is not consulted again.
	again, err := resolver.Resolve(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, set, again, "resolution must be idempotent")
	assert.Equal(t, 1, store.loadCount())
}

func TestResolveZeroRolesYieldsEmptySet(t *testing.T) {
	store := newStubStore()
	store.users["u1"] = &User{ID: "u1"}

	resolver, _, _ := newTestResolver(t, store)
	set, err := resolver.Resolve(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestResolveDeletedUserYieldsEmptySet(t *testing.T) {
	store := newStubStore()
	resolver, _, _ := newTestResolver(t, store)

	set, err := resolver.Resolve(context.Background(), "ghost")
	require.NoError(t, err, "a deleted user resolves to zero roles, not an error")
	assert.Empty(t, set)
}

func TestResolvePropagatesStoreFailure(t *testing.T) {
	store := newStubStore()
	store.err = errors.New("connection refused")

	resolver, _, _ := newTestResolver(t, store)
	_, err := resolver.Resolve(context.Background(), "u1")
	assert.Error(t, err, "without ground truth no decision can be made")
}

func TestStalenessBoundedByTTL(t *testing.T) {
	store := newStubStore()
	store.users["u1"] = &User{ID: "u1", RoleIDs: []string{"r1"}}
	store.setGrants("r1", Grant{RoleID: "r1", Module: "settings", Feature: "users", Actions: []string{"read", "delete"}})

	resolver, _, fastForward := newTestResolver(t, store)
	ctx := context.Background()

	set, err := resolver.Resolve(ctx, "u1")
	require.NoError(t, err)
	require.True(t, set.Allows("settings", "users", "delete"))

	// Remove the dangerous action without invalidating: the stale grant may
	// be served until the TTL elapses, but no longer.
	store.setGrants("r1", Grant{RoleID: "r1", Module: "settings", Feature: "users", Actions: []string{"read"}})

	stale, err := resolver.Resolve(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, stale.Allows("settings", "users", "delete"), "staleness within TTL is accepted")

	fastForward(61 * time.Second)

	fresh, err := resolver.Resolve(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, fresh.Allows("settings", "users", "delete"), "staleness must not exceed the TTL")
}

func TestInvalidateForcesRecompute(t *testing.T) {
	store := newStubStore()
	store.users["u1"] = &User{ID: "u1", RoleIDs: []string{"r1"}}
	store.setGrants("r1", Grant{RoleID: "r1", Module: "settings", Feature: "users", Actions: []string{"read", "delete"}})

	resolver, _, _ := newTestResolver(t, store)
	ctx := context.Background()

	_, err := resolver.Resolve(ctx, "u1")
	require.NoError(t, err)

	store.setGrants("r1", Grant{RoleID: "r1", Module: "settings", Feature: "users", Actions: []string{"read"}})
	require.NoError(t, resolver.Invalidate(ctx, "u1"))

	fresh, err := resolver.Resolve(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, fresh.Allows("settings", "users", "delete"), "invalidation must take effect immediately")
	assert.True(t, fresh.Allows("settings", "users", "read"))
}

func TestResolveSurvivesCacheOutage(t *testing.T) {
	store := newStubStore()
	store.users["u1"] = &User{ID: "u1", RoleIDs: []string{"r1"}}
	store.setGrants("r1", Grant{RoleID: "r1", Module: "catalog", Feature: "product", Actions: []string{"read"}})

	client, mr := setupRedisTest(t)
	cache, err := NewPermissionCache(client, time.Minute)
	require.NoError(t, err)
	resolver, err := NewResolver(store, cache)
	require.NoError(t, err)

	mr.Close()

	set, err := resolver.Resolve(context.Background(), "u1")
	require.NoError(t, err, "cache read and write failures must be swallowed")
	assert.True(t, set.Allows("catalog", "product", "read"))
}

func TestResolveCorruptEntryRecomputes(t *testing.T) {
	store := newStubStore()
	store.users["u1"] = &User{ID: "u1", RoleIDs: []string{"r1"}}
	store.setGrants("r1", Grant{RoleID: "r1", Module: "catalog", Feature: "product", Actions: []string{"read"}})

	client, mr := setupRedisTest(t)
	cache, err := NewPermissionCache(client, time.Minute)
	require.NoError(t, err)
	resolver, err := NewResolver(store, cache)
	require.NoError(t, err)

	require.NoError(t, mr.Set("perm:user:u1", "garbage"))

	set, err := resolver.Resolve(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, set.Allows("catalog", "product", "read"))
}
