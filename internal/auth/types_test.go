package auth

import (
	"reflect"
	"testing"
)

func TestMergeGrantsUnionsAcrossRoles(t *testing.T) {
	grants := []Grant{
		{RoleID: "r1", Module: "catalog", Feature: "product", Actions: []string{"read"}},
		{RoleID: "r2", Module: "catalog", Feature: "product", Actions: []string{"create", "update"}},
	}
	set := MergeGrants(grants)

	want := []string{"create", "read", "update"}
	if got := set[PermissionKey("catalog", "product")]; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected union %v, got %v", want, got)
	}
	for _, action := range want {
		if !set.Allows("catalog", "product", action) {
			t.Fatalf("expected %s to be allowed", action)
		}
	}
	if set.Allows("catalog", "product", "delete") {
		t.Fatal("delete must not be granted by either role")
	}
}

func TestMergeGrantsIsDeterministic(t *testing.T) {
	grants := []Grant{
		{RoleID: "r2", Module: "settings", Feature: "users", Actions: []string{"update", "read"}},
		{RoleID: "r1", Module: "settings", Feature: "users", Actions: []string{"read", "delete"}},
		{RoleID: "r1", Module: "purchasing", Feature: "orders", Actions: []string{"send", "receive"}},
	}
	first := MergeGrants(grants)
	second := MergeGrants(grants)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("merge is not deterministic: %v vs %v", first, second)
	}
}

func TestMergeGrantsSkipsBlankInput(t *testing.T) {
	grants := []Grant{
		{RoleID: "r1", Module: "", Feature: "", Actions: []string{"read"}},
		{RoleID: "r1", Module: "catalog", Feature: "product", Actions: []string{" ", ""}},
	}
	set := MergeGrants(grants)
	if len(set) != 0 {
		t.Fatalf("expected empty set, got %v", set)
	}
}

func TestAllowsNormalizesCase(t *testing.T) {
	set := MergeGrants([]Grant{
		{RoleID: "r1", Module: "Settings", Feature: "Users", Actions: []string{"Read"}},
	})
	if !set.Allows("settings", "users", "read") {
		t.Fatal("expected case-insensitive lookup to succeed")
	}
	if !set.Allows("SETTINGS", "USERS", "READ") {
		t.Fatal("expected upper-case lookup to succeed")
	}
}

func TestKnownAction(t *testing.T) {
	for _, action := range []string{"create", "read", "update", "delete", "send", "receive", " Read "} {
		if !KnownAction(action) {
			t.Fatalf("expected %q to be recognized", action)
		}
	}
	for _, action := range []string{"", "execute", "admin"} {
		if KnownAction(action) {
			t.Fatalf("expected %q to be rejected", action)
		}
	}
}
