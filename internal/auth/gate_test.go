package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gateFixture struct {
	gate     *Gate
	tokens   *TokenService
	registry *RevocationRegistry
	store    *stubStore
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	client, _ := setupRedisTest(t)

	tokens, err := NewTokenService("gate-access-secret", "gate-refresh-secret")
	require.NoError(t, err)
	registry, err := NewRevocationRegistry(client)
	require.NoError(t, err)
	cache, err := NewPermissionCache(client, time.Minute)
	require.NoError(t, err)

	store := newStubStore()
	resolver, err := NewResolver(store, cache)
	require.NoError(t, err)

	gate, err := NewGate(tokens, registry, resolver)
	require.NoError(t, err)
	return &gateFixture{gate: gate, tokens: tokens, registry: registry, store: store}
}

func TestGateRejectsMissingCredential(t *testing.T) {
	f := newGateFixture(t)
	_, err := f.gate.Check(context.Background(), "", "settings", "users", "read")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestGateRejectsMalformedCredential(t *testing.T) {
	f := newGateFixture(t)
	for _, raw := range []string{"garbage", "a.b.c"} {
		_, err := f.gate.Check(context.Background(), raw, "settings", "users", "read")
		assert.ErrorIs(t, err, ErrUnauthenticated, "token %q", raw)
	}
}

func TestGateRejectsRevokedToken(t *testing.T) {
	f := newGateFixture(t)
	f.store.users["u1"] = &User{ID: "u1", RoleIDs: []string{"viewer"}}
	f.store.setGrants("viewer", Grant{RoleID: "viewer", Module: "settings", Feature: "users", Actions: []string{"read"}})

	token, _, err := f.tokens.IssueAccess("u1", false)
	require.NoError(t, err)

	ctx := context.Background()
	ident, err := f.gate.Authenticate(ctx, token)
	require.NoError(t, err, "token is valid before revocation")

	require.NoError(t, f.registry.Revoke(ctx, ident.JTI, time.Until(ident.ExpiresAt)))

	// Verify alone would still succeed; the gate must reject anyway.
	_, err = f.tokens.VerifyAccess(token)
	require.NoError(t, err)
	_, err = f.gate.Authenticate(ctx, token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestGateSuperAdminBypassesAllChecks(t *testing.T) {
	f := newGateFixture(t)
	// Super-admin with zero roles and no user record at all.
	token, _, err := f.tokens.IssueAccess("root-1", true)
	require.NoError(t, err)

	ctx := context.Background()
	for _, triple := range [][3]string{
		{"settings", "users", "delete"},
		{"catalog", "product", "create"},
		{"purchasing", "orders", "send"},
	} {
		_, err := f.gate.Check(ctx, token, triple[0], triple[1], triple[2])
		assert.NoError(t, err, "super-admin must bypass %v", triple)
	}
}

func TestGateViewerScenario(t *testing.T) {
	f := newGateFixture(t)
	f.store.users["u1"] = &User{ID: "u1", RoleIDs: []string{"viewer"}}
	f.store.setGrants("viewer", Grant{RoleID: "viewer", Module: "settings", Feature: "users", Actions: []string{"read"}})

	token, _, err := f.tokens.IssueAccess("u1", false)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = f.gate.Check(ctx, token, "settings", "users", "read")
	assert.NoError(t, err, "granted action must be accepted")

	_, err = f.gate.Check(ctx, token, "settings", "users", "delete")
	assert.ErrorIs(t, err, ErrForbidden, "ungranted action on a granted permission")

	_, err = f.gate.Check(ctx, token, "inventory", "stock", "read")
	assert.ErrorIs(t, err, ErrForbidden, "permission absent from the resolved set")
}

func TestGateDeletedUserGetsForbiddenNotError(t *testing.T) {
	f := newGateFixture(t)
	token, _, err := f.tokens.IssueAccess("ghost", false)
	require.NoError(t, err)

	_, err = f.gate.Check(context.Background(), token, "settings", "users", "read")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestGateAuthorizeRequiresIdentity(t *testing.T) {
	f := newGateFixture(t)
	err := f.gate.Authorize(context.Background(), Identity{}, "settings", "users", "read")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestGateAuthenticationErrorNeverForbidden(t *testing.T) {
	f := newGateFixture(t)
	other, err := NewTokenService("other-access-secret", "other-refresh-secret")
	require.NoError(t, err)
	foreign, _, err := other.IssueAccess("u1", false)
	require.NoError(t, err)

	_, err = f.gate.Check(context.Background(), foreign, "settings", "users", "read")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.NotErrorIs(t, err, ErrForbidden)
}
