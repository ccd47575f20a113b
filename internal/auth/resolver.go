package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tillpoint.org/internal/obs"
)

// Resolver answers "what can user U do" with bounded staleness. Reads go
// through the cache; misses recompute from the credential store and
// repopulate. The cache is a pure cache: its absence never changes an
// authorization outcome, only latency and credential-store load.
type Resolver struct {
	store CredentialStore
	cache *PermissionCache
}

// NewResolver constructs a Resolver. The cache is required; tests that need
// controllable TTL and eviction substitute a miniredis-backed instance.
func NewResolver(store CredentialStore, cache *PermissionCache) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("auth: credential store is required")
	}
	if cache == nil {
		return nil, errors.New("auth: permission cache is required")
	}
	return &Resolver{store: store, cache: cache}, nil
}

// Resolve returns the user's permission set, cache-first. Cache read and
// write failures are logged and swallowed: the request proceeds on the set
// recomputed from the credential store. A deleted or roleless user resolves
// to an empty set, not an error.
func (r *Resolver) Resolve(ctx context.Context, userID string) (PermissionSet, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	set, ok, err := r.cache.Get(ctx, userID)
	if err != nil {
		obs.Warn("perm_cache_read_failed", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
	} else if ok {
		return set, nil
	}

	set, err = r.resolveFromStore(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Set(ctx, userID, set); err != nil {
		obs.Warn("perm_cache_write_failed", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
	}
	return set, nil
}

func (r *Resolver) resolveFromStore(ctx context.Context, userID string) (PermissionSet, error) {
	user, err := r.store.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// A user deleted after token issuance holds zero roles.
			return PermissionSet{}, nil
		}
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	if len(user.RoleIDs) == 0 {
		return PermissionSet{}, nil
	}
	grants, err := r.store.GrantsForRoles(ctx, user.RoleIDs)
	if err != nil {
		return nil, fmt.Errorf("load grants for user %s: %w", userID, err)
	}
	return MergeGrants(grants), nil
}

// Invalidate deletes the user's cached permission set. Callers mutating role
// membership or grants invoke this for every affected user before returning
// success; a failure here is surfaced so the caller can log the degraded
// state, while the mutation itself stands.
func (r *Resolver) Invalidate(ctx context.Context, userID string) error {
	return r.cache.Invalidate(ctx, userID)
}
