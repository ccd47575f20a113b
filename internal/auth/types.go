package auth

import (
	"sort"
	"strings"
	"time"
)

// Actions a permission can recognize. A grant may carry any subset of the
// actions its parent permission supports.
const (
	ActionCreate  = "create"
	ActionRead    = "read"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionSend    = "send"
	ActionReceive = "receive"
)

var knownActions = map[string]struct{}{
	ActionCreate:  {},
	ActionRead:    {},
	ActionUpdate:  {},
	ActionDelete:  {},
	ActionSend:    {},
	ActionReceive: {},
}

// KnownAction reports whether the action name is one this subsystem recognizes.
func KnownAction(action string) bool {
	_, ok := knownActions[strings.TrimSpace(strings.ToLower(action))]
	return ok
}

// User is a back-office operator. The super-admin flag is independent of
// roles and unconditionally bypasses permission checks.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	SuperAdmin   bool      `json:"super_admin"`
	Status       string    `json:"status"`
	RoleIDs      []string  `json:"role_ids"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// Role groups grants. A role with zero grants carries no permissions.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is one (module, feature) pair together with the actions it
// supports. Defined by the credential store, read-only here.
type Permission struct {
	ID      string   `json:"id"`
	Module  string   `json:"module"`
	Feature string   `json:"feature"`
	Actions []string `json:"actions"`
}

// Grant is a role's subset of actions for one (module, feature) permission.
type Grant struct {
	RoleID  string   `json:"role_id"`
	Module  string   `json:"module"`
	Feature string   `json:"feature"`
	Actions []string `json:"actions"`
}

// PermissionSet maps "module:feature" to the sorted union of actions a user
// holds across all roles. It is derived state, always reconstructable from
// the credential store.
type PermissionSet map[string][]string

// PermissionKey builds the map key for a (module, feature) pair.
func PermissionKey(module, feature string) string {
	module = strings.TrimSpace(strings.ToLower(module))
	feature = strings.TrimSpace(strings.ToLower(feature))
	return module + ":" + feature
}

// Allows reports whether the set contains the action for (module, feature).
func (s PermissionSet) Allows(module, feature, action string) bool {
	actions, ok := s[PermissionKey(module, feature)]
	if !ok {
		return false
	}
	action = strings.TrimSpace(strings.ToLower(action))
	for _, a := range actions {
		if a == action {
			return true
		}
	}
	return false
}

// MergeGrants unions grant actions per (module, feature) across every role a
// user holds. The merge is a pure function of its input: identical grants
// always produce identical sets, and a user with two roles is at least as
// privileged as either role alone.
func MergeGrants(grants []Grant) PermissionSet {
	merged := make(map[string]map[string]struct{})
	for _, g := range grants {
		key := PermissionKey(g.Module, g.Feature)
		if key == ":" {
			continue
		}
		set, ok := merged[key]
		if !ok {
			set = make(map[string]struct{})
			merged[key] = set
		}
		for _, action := range g.Actions {
			action = strings.TrimSpace(strings.ToLower(action))
			if action == "" {
				continue
			}
			set[action] = struct{}{}
		}
	}

	result := make(PermissionSet, len(merged))
	for key, set := range merged {
		if len(set) == 0 {
			continue
		}
		actions := make([]string, 0, len(set))
		for a := range set {
			actions = append(actions, a)
		}
		sort.Strings(actions)
		result[key] = actions
	}
	return result
}
