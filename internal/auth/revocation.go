package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"tillpoint.org/internal/obs"
)

const revocationKeyPrefix = "revoked:jti:"

// RevocationRegistry records which issued tokens were invalidated before
// their natural expiry. Entries self-expire after the token's remaining
// lifetime so the registry never grows unbounded.
type RevocationRegistry struct {
	client *redis.Client
}

// NewRevocationRegistry wraps a redis client as the revocation registry.
func NewRevocationRegistry(client *redis.Client) (*RevocationRegistry, error) {
	if client == nil {
		return nil, errors.New("auth: redis client is required")
	}
	return &RevocationRegistry{client: client}, nil
}

// Revoke sets a presence marker for the jti that expires after remaining.
// The caller supplies the token's remaining lifetime explicitly; the
// registry never re-decodes tokens to recover it. A token that has already
// expired needs no marker.
func (r *RevocationRegistry) Revoke(ctx context.Context, jti string, remaining time.Duration) error {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return fmt.Errorf("%w: jti is required", ErrInvalidInput)
	}
	if remaining <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, revocationKeyPrefix+jti, 1, remaining).Err(); err != nil {
		return fmt.Errorf("revoke token %s: %w", jti, err)
	}
	obs.TokenRevoked()
	return nil
}

// IsRevoked reports whether the jti has a revocation marker. Absence means
// "not known to be revoked"; validity additionally requires a passing
// signature and expiry check, which callers perform first.
func (r *RevocationRegistry) IsRevoked(ctx context.Context, jti string) (bool, error) {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return false, fmt.Errorf("%w: jti is required", ErrInvalidInput)
	}
	n, err := r.client.Exists(ctx, revocationKeyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("revocation lookup %s: %w", jti, err)
	}
	return n > 0, nil
}
