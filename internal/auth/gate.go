package auth

import (
	"context"
	"errors"
	"strings"

	"tillpoint.org/internal/obs"
)

// Gate is the single request-time decision point every protected handler
// depends on. Authentication (token verification, then revocation) and
// authorization (super-admin bypass, then resolved-set lookup) are separate
// stages; HTTP middleware composes them in that order.
type Gate struct {
	tokens   *TokenService
	registry *RevocationRegistry
	resolver *Resolver
}

// NewGate wires the token service, revocation registry, and permission
// resolver into a gate.
func NewGate(tokens *TokenService, registry *RevocationRegistry, resolver *Resolver) (*Gate, error) {
	if tokens == nil {
		return nil, errors.New("auth: token service is required")
	}
	if registry == nil {
		return nil, errors.New("auth: revocation registry is required")
	}
	if resolver == nil {
		return nil, errors.New("auth: permission resolver is required")
	}
	return &Gate{tokens: tokens, registry: registry, resolver: resolver}, nil
}

// Authenticate verifies the presented access token and checks revocation,
// in that order. Every failure collapses into ErrUnauthenticated; the
// sub-cause is logged, never returned.
func (g *Gate) Authenticate(ctx context.Context, rawToken string) (Identity, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		obs.AuthzDecision(obs.DecisionUnauthenticated)
		return Identity{}, ErrUnauthenticated
	}
	claims, err := g.tokens.VerifyAccess(rawToken)
	if err != nil {
		obs.AuthzDecision(obs.DecisionUnauthenticated)
		return Identity{}, ErrUnauthenticated
	}

	revoked, err := g.registry.IsRevoked(ctx, claims.ID)
	if err != nil {
		// Registry unavailability degrades to "no revocations remembered"
		// rather than failing the request; losing the registry must not take
		// authentication down with it.
		obs.Warn("revocation_check_failed", map[string]any{
			"jti":   claims.ID,
			"error": err.Error(),
		})
		revoked = false
	}
	if revoked {
		obs.AuthzDecision(obs.DecisionUnauthenticated)
		return Identity{}, ErrUnauthenticated
	}

	return Identity{
		UserID:     claims.Subject,
		SuperAdmin: claims.SuperAdmin,
		JTI:        claims.ID,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}

// Authorize decides whether the authenticated identity may perform action on
// (module, feature). Super-admins bypass resolution entirely.
func (g *Gate) Authorize(ctx context.Context, ident Identity, module, feature, action string) error {
	if ident.SuperAdmin {
		obs.AuthzDecision(obs.DecisionGranted)
		return nil
	}
	if strings.TrimSpace(ident.UserID) == "" {
		obs.AuthzDecision(obs.DecisionUnauthenticated)
		return ErrUnauthenticated
	}
	set, err := g.resolver.Resolve(ctx, ident.UserID)
	if err != nil {
		obs.AuthzDecision(obs.DecisionError)
		return err
	}
	if !set.Allows(module, feature, action) {
		obs.AuthzDecision(obs.DecisionForbidden)
		return ErrForbidden
	}
	obs.AuthzDecision(obs.DecisionGranted)
	return nil
}

// Check runs the full chain for one request: authenticate the raw token,
// then authorize the requested (module, feature, action).
func (g *Gate) Check(ctx context.Context, rawToken, module, feature, action string) (Identity, error) {
	ident, err := g.Authenticate(ctx, rawToken)
	if err != nil {
		return Identity{}, err
	}
	if err := g.Authorize(ctx, ident, module, feature, action); err != nil {
		return Identity{}, err
	}
	return ident, nil
}

// Resolver exposes the underlying resolver for handlers that need explicit
// invalidation after role or grant mutations.
func (g *Gate) Resolver() *Resolver { return g.resolver }
