package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"tillpoint.org/internal/audit"
	"tillpoint.org/internal/auth"
	"tillpoint.org/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPairResponse struct {
	TokenType        string    `json:"token_type"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := a.directory.UserByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) || errors.Is(err, auth.ErrInvalidInput) {
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "login failed")
		return
	}
	if err := auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if user.Status != auth.UserStatusActive {
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	pair, err := a.issuePair(user.ID, user.SuperAdmin)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token issuance failed")
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id": user.ID,
	})
	writeJSON(w, http.StatusOK, pair)
}

// handleRefresh exchanges a refresh token for a new pair. The presented
// refresh token is revoked on success so each one works exactly once.
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	claims, err := a.tokens.VerifyRefresh(strings.TrimSpace(req.RefreshToken))
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	revoked, err := a.registry.IsRevoked(r.Context(), claims.ID)
	if err != nil {
		obs.Warn("revocation_check_failed", map[string]any{
			"jti":   claims.ID,
			"error": err.Error(),
		})
		revoked = false
	}
	if revoked {
		writeError(w, r, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	user, err := a.directory.UserByID(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, r, http.StatusUnauthorized, "invalid refresh token")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "refresh failed")
		return
	}
	if user.Status != auth.UserStatusActive {
		writeError(w, r, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	pair, err := a.issuePair(user.ID, user.SuperAdmin)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token issuance failed")
		return
	}
	if err := a.registry.Revoke(r.Context(), claims.ID, claims.RemainingTTL(time.Now())); err != nil {
		obs.Warn("refresh_rotation_revoke_failed", map[string]any{
			"jti":   claims.ID,
			"error": err.Error(),
		})
	}
	_ = audit.LogEvent(r.Context(), "auth.refresh", map[string]any{
		"user_id": user.ID,
	})
	writeJSON(w, http.StatusOK, pair)
}

// handleLogout revokes the caller's access token for its remaining lifetime
// and, when the client sends it along, the refresh token too.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	ident, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := a.registry.Revoke(r.Context(), ident.JTI, time.Until(ident.ExpiresAt)); err != nil {
		writeError(w, r, http.StatusInternalServerError, "logout failed")
		return
	}

	var req logoutRequest
	if err := decodeJSON(w, r, &req); err == nil && strings.TrimSpace(req.RefreshToken) != "" {
		if claims, err := a.tokens.VerifyRefresh(req.RefreshToken); err == nil {
			if err := a.registry.Revoke(r.Context(), claims.ID, claims.RemainingTTL(time.Now())); err != nil {
				obs.Warn("logout_refresh_revoke_failed", map[string]any{
					"jti":   claims.ID,
					"error": err.Error(),
				})
			}
		}
	}

	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{
		"user_id": ident.UserID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	ident, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	resp := map[string]any{
		"user_id":     ident.UserID,
		"super_admin": ident.SuperAdmin,
	}
	if !ident.SuperAdmin {
		set, err := a.gate.Resolver().Resolve(r.Context(), ident.UserID)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "permission resolution failed")
			return
		}
		resp["permissions"] = set
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) issuePair(userID string, superAdmin bool) (tokenPairResponse, error) {
	access, accessExp, err := a.tokens.IssueAccess(userID, superAdmin)
	if err != nil {
		return tokenPairResponse{}, err
	}
	refresh, refreshExp, err := a.tokens.IssueRefresh(userID, superAdmin)
	if err != nil {
		return tokenPairResponse{}, err
	}
	return tokenPairResponse{
		TokenType:        "Bearer",
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}
