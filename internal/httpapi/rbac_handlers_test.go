package httpapi

import (
	"fmt"
	"net/http"
	"testing"

	"tillpoint.org/internal/auth"
)

func TestViewerAuthorizationOutcomes(t *testing.T) {
	api := newTestAPI(t)
	role := api.dir.addRole("viewer",
		auth.Grant{Module: "sales", Feature: "invoices", Actions: []string{"read"}})
	api.dir.addUser("viewer@till.example", passwordHash(t), false, role.ID)
	pair := api.login("viewer@till.example", testPassword)

	// Read on a granted permission passes authentication and authorization
	// but the viewer still cannot reach the settings endpoints.
	resp := api.do(http.MethodGet, "/v1/roles", nil, pair.AccessToken)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer on roles, got %d", resp.StatusCode)
	}
	resp = api.do(http.MethodGet, "/v1/users", nil, pair.AccessToken)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer on users, got %d", resp.StatusCode)
	}
}

func TestSettingsViewerReadOnlyOutcomes(t *testing.T) {
	api := newTestAPI(t)
	role := api.dir.addRole("settings-viewer",
		auth.Grant{Module: "settings", Feature: "users", Actions: []string{"read"}})
	api.dir.addUser("auditor@till.example", passwordHash(t), false, role.ID)
	pair := api.login("auditor@till.example", testPassword)

	resp := api.do(http.MethodGet, "/v1/users", nil, pair.AccessToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for granted read, got %d", resp.StatusCode)
	}

	resp = api.do(http.MethodPost, "/v1/users", createUserRequest{Email: "x@till.example", Password: "longenough"}, pair.AccessToken)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for ungranted create, got %d", resp.StatusCode)
	}
	body := decodeBody[map[string]any](t, resp)
	if body["code"] != "FORBIDDEN" {
		t.Fatalf("expected code FORBIDDEN, got %v", body["code"])
	}

	resp = api.do(http.MethodGet, "/v1/users", nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", resp.StatusCode)
	}
	body = decodeBody[map[string]any](t, resp)
	if body["code"] != "UNAUTHENTICATED" {
		t.Fatalf("expected code UNAUTHENTICATED, got %v", body["code"])
	}
}

func TestSuperAdminBypassesPermissionChecks(t *testing.T) {
	api := newTestAPI(t)
	api.dir.addUser("root@till.example", passwordHash(t), true)
	pair := api.login("root@till.example", testPassword)

	for _, path := range []string{"/v1/roles", "/v1/users", "/v1/permissions"} {
		resp := api.do(http.MethodGet, path, nil, pair.AccessToken)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200 for super admin on %s, got %d", path, resp.StatusCode)
		}
	}
}

func TestCreateRoleAndAssign(t *testing.T) {
	api := newTestAPI(t)
	api.dir.addUser("root@till.example", passwordHash(t), true)
	pair := api.login("root@till.example", testPassword)

	resp := api.do(http.MethodPost, "/v1/roles", createRoleRequest{Name: "cashier", Description: "till operators"}, pair.AccessToken)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create role: unexpected status %d", resp.StatusCode)
	}
	role := decodeBody[auth.Role](t, resp)
	if role.ID == "" || role.Name != "cashier" {
		t.Fatalf("unexpected role: %+v", role)
	}
	if resp.Header.Get("Location") != "/v1/roles/"+role.ID {
		t.Fatalf("unexpected Location: %s", resp.Header.Get("Location"))
	}

	// Duplicate name conflicts.
	resp = api.do(http.MethodPost, "/v1/roles", createRoleRequest{Name: "cashier"}, pair.AccessToken)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate role, got %d", resp.StatusCode)
	}

	resp = api.do(http.MethodPost, "/v1/users", createUserRequest{Email: "new@till.example", Password: "longenough"}, pair.AccessToken)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create user: unexpected status %d", resp.StatusCode)
	}
	user := decodeBody[auth.User](t, resp)

	resp = api.do(http.MethodPost, fmt.Sprintf("/v1/users/%s/roles", user.ID), assignRoleRequest{RoleID: role.ID}, pair.AccessToken)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("assign role: unexpected status %d", resp.StatusCode)
	}
	resp = api.do(http.MethodPost, fmt.Sprintf("/v1/users/%s/roles", user.ID), assignRoleRequest{RoleID: "r-missing"}, pair.AccessToken)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown role, got %d", resp.StatusCode)
	}
}

func TestCreateUserRejectsShortPassword(t *testing.T) {
	api := newTestAPI(t)
	api.dir.addUser("root@till.example", passwordHash(t), true)
	pair := api.login("root@till.example", testPassword)

	resp := api.do(http.MethodPost, "/v1/users", createUserRequest{Email: "new@till.example", Password: "short"}, pair.AccessToken)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

// Changing a role's grants must be visible to every member on their next
// request, not after the cache TTL.
func TestGrantUpdateTakesEffectImmediately(t *testing.T) {
	api := newTestAPI(t)
	api.dir.addUser("root@till.example", passwordHash(t), true)
	role := api.dir.addRole("clerk",
		auth.Grant{Module: "sales", Feature: "invoices", Actions: []string{"read"}})
	api.dir.addUser("clerk@till.example", passwordHash(t), false, role.ID)

	admin := api.login("root@till.example", testPassword)
	clerkPair := api.login("clerk@till.example", testPassword)

	// Prime the clerk's cached permission set.
	resp := api.do(http.MethodGet, "/v1/roles", nil, clerkPair.AccessToken)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 before grant update, got %d", resp.StatusCode)
	}

	resp = api.do(http.MethodPut, fmt.Sprintf("/v1/roles/%s/grants", role.ID), setGrantsRequest{
		Grants: []grantInput{
			{Module: "sales", Feature: "invoices", Actions: []string{"read"}},
			{Module: "settings", Feature: "roles", Actions: []string{"read"}},
		},
	}, admin.AccessToken)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("set grants: unexpected status %d", resp.StatusCode)
	}

	resp = api.do(http.MethodGet, "/v1/roles", nil, clerkPair.AccessToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 immediately after grant update, got %d", resp.StatusCode)
	}
}

func TestRemoveRoleTakesEffectImmediately(t *testing.T) {
	api := newTestAPI(t)
	api.dir.addUser("root@till.example", passwordHash(t), true)
	role := api.dir.addRole("settings-reader",
		auth.Grant{Module: "settings", Feature: "roles", Actions: []string{"read"}})
	member := api.dir.addUser("member@till.example", passwordHash(t), false, role.ID)

	admin := api.login("root@till.example", testPassword)
	memberPair := api.login("member@till.example", testPassword)

	resp := api.do(http.MethodGet, "/v1/roles", nil, memberPair.AccessToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 while role assigned, got %d", resp.StatusCode)
	}

	resp = api.do(http.MethodDelete, fmt.Sprintf("/v1/users/%s/roles/%s", member.ID, role.ID), nil, admin.AccessToken)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remove role: unexpected status %d", resp.StatusCode)
	}

	resp = api.do(http.MethodGet, "/v1/roles", nil, memberPair.AccessToken)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 immediately after role removal, got %d", resp.StatusCode)
	}
}

func TestSetGrantsUnknownRole(t *testing.T) {
	api := newTestAPI(t)
	api.dir.addUser("root@till.example", passwordHash(t), true)
	admin := api.login("root@till.example", testPassword)

	resp := api.do(http.MethodPut, "/v1/roles/r-missing/grants", setGrantsRequest{}, admin.AccessToken)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestPermissionsCatalog(t *testing.T) {
	api := newTestAPI(t)
	api.dir.addUser("root@till.example", passwordHash(t), true)
	admin := api.login("root@till.example", testPassword)

	resp := api.do(http.MethodGet, "/v1/permissions", nil, admin.AccessToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	body := decodeBody[map[string][]auth.Permission](t, resp)
	if len(body["permissions"]) == 0 {
		t.Fatal("expected a non-empty permission catalog")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	api := newTestAPI(t)
	api.dir.addUser("root@till.example", passwordHash(t), true)
	admin := api.login("root@till.example", testPassword)

	resp := api.do(http.MethodDelete, "/v1/roles", nil, admin.AccessToken)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Allow") == "" {
		t.Fatal("expected Allow header")
	}
}
