package auth

import "context"

// CredentialStore is the authoritative source of users, roles, and grants.
// The authorization subsystem only reads it; mutation lives with the admin
// handlers, which must invalidate affected users' cache entries.
type CredentialStore interface {
	// UserByID loads a user including role ids. Returns ErrNotFound when the
	// user does not exist.
	UserByID(ctx context.Context, userID string) (*User, error)

	// UserByEmail loads a user by email for password login.
	UserByEmail(ctx context.Context, email string) (*User, error)

	// GrantsForRoles loads every grant held by the given roles, including
	// each grant's parent permission module and feature.
	GrantsForRoles(ctx context.Context, roleIDs []string) ([]Grant, error)

	// RoleMembers lists the ids of users currently assigned the role, so a
	// grant change can invalidate every affected user.
	RoleMembers(ctx context.Context, roleID string) ([]string, error)
}
