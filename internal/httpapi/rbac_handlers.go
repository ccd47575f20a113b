package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"tillpoint.org/internal/audit"
	"tillpoint.org/internal/auth"
	"tillpoint.org/internal/obs"
)

const (
	settingsModule = "settings"
	rolesFeature   = "roles"
	usersFeature   = "users"
)

type createUserRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	SuperAdmin bool   `json:"super_admin"`
}

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type grantInput struct {
	Module  string   `json:"module"`
	Feature string   `json:"feature"`
	Actions []string `json:"actions"`
}

type setGrantsRequest struct {
	Grants []grantInput `json:"grants"`
}

type assignRoleRequest struct {
	RoleID string `json:"role_id"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, settingsModule, rolesFeature, auth.ActionRead) {
			return
		}
		roles, err := a.directory.ListRoles(r.Context())
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "listing roles failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	case http.MethodPost:
		if !a.ensurePermission(w, r, settingsModule, rolesFeature, auth.ActionCreate) {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.directory.CreateRole(r.Context(), req.Name, req.Description)
		if err != nil {
			handleDirectoryError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.create", map[string]any{
			"role_id": role.ID,
			"name":    role.Name,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleRoleResource routes /v1/roles/{id}/grants.
func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "grants" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermission(w, r, settingsModule, rolesFeature, auth.ActionUpdate) {
		return
	}
	roleID := parts[0]

	var req setGrantsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	grants := make([]auth.Grant, 0, len(req.Grants))
	for _, g := range req.Grants {
		grants = append(grants, auth.Grant{
			RoleID:  roleID,
			Module:  g.Module,
			Feature: g.Feature,
			Actions: g.Actions,
		})
	}

	if err := a.directory.SetRoleGrants(r.Context(), roleID, grants); err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	a.invalidateRoleMembers(r, roleID)

	_ = audit.LogEvent(r.Context(), "rbac.role.grants.update", map[string]any{
		"role_id": roleID,
		"count":   len(grants),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, settingsModule, usersFeature, auth.ActionRead) {
			return
		}
		users, err := a.directory.ListUsers(r.Context())
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "listing users failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
	case http.MethodPost:
		if !a.ensurePermission(w, r, settingsModule, usersFeature, auth.ActionCreate) {
			return
		}
		var req createUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if len(req.Password) < 8 {
			writeError(w, r, http.StatusBadRequest, "password must be at least 8 characters")
			return
		}
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "creating user failed")
			return
		}
		user, err := a.directory.CreateUser(r.Context(), req.Email, hash, req.SuperAdmin)
		if err != nil {
			handleDirectoryError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.user.create", map[string]any{
			"user_id": user.ID,
			"email":   user.Email,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", user.ID))
		writeJSON(w, http.StatusCreated, user)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleUserResource routes /v1/users/{id}/roles and
// /v1/users/{id}/roles/{roleID}.
func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] != "roles" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	userID := parts[0]

	switch {
	case len(parts) == 2 && r.Method == http.MethodPost:
		if !a.ensurePermission(w, r, settingsModule, usersFeature, auth.ActionUpdate) {
			return
		}
		var req assignRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		req.RoleID = strings.TrimSpace(req.RoleID)
		if req.RoleID == "" {
			writeError(w, r, http.StatusBadRequest, "role_id is required")
			return
		}
		if err := a.directory.AssignRole(r.Context(), userID, req.RoleID); err != nil {
			handleDirectoryError(w, r, err)
			return
		}
		a.invalidateUser(r, userID)
		_ = audit.LogEvent(r.Context(), "rbac.user.assign_role", map[string]any{
			"user_id": userID,
			"role_id": req.RoleID,
		})
		w.WriteHeader(http.StatusCreated)
	case len(parts) == 3 && r.Method == http.MethodDelete:
		if !a.ensurePermission(w, r, settingsModule, usersFeature, auth.ActionUpdate) {
			return
		}
		roleID := parts[2]
		if err := a.directory.RemoveRole(r.Context(), userID, roleID); err != nil {
			handleDirectoryError(w, r, err)
			return
		}
		a.invalidateUser(r, userID)
		_ = audit.LogEvent(r.Context(), "rbac.user.remove_role", map[string]any{
			"user_id": userID,
			"role_id": roleID,
		})
		w.WriteHeader(http.StatusNoContent)
	case len(parts) == 2:
		methodNotAllowed(w, r, http.MethodPost)
	case len(parts) == 3:
		methodNotAllowed(w, r, http.MethodDelete)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, settingsModule, rolesFeature, auth.ActionRead) {
		return
	}
	perms, err := a.directory.ListPermissions(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "listing permissions failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

// invalidateRoleMembers drops the cached permission set of every user
// currently assigned the role. The mutation has already committed; an
// invalidation failure is logged and the cache entry ages out on its TTL.
func (a *API) invalidateRoleMembers(r *http.Request, roleID string) {
	members, err := a.directory.RoleMembers(r.Context(), roleID)
	if err != nil {
		obs.Warn("role_member_lookup_failed", map[string]any{
			"role_id": roleID,
			"error":   err.Error(),
		})
		return
	}
	for _, userID := range members {
		a.invalidateUser(r, userID)
	}
}

func (a *API) invalidateUser(r *http.Request, userID string) {
	if err := a.gate.Resolver().Invalidate(r.Context(), userID); err != nil {
		obs.Warn("perm_cache_invalidate_failed", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
	}
}

func handleDirectoryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "resource already exists")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "operation failed")
	}
}
