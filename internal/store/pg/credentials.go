package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"tillpoint.org/internal/auth"
)

// UserByID loads a user together with the ids of the roles currently
// assigned to them.
func (s *Store) UserByID(ctx context.Context, userID string) (*auth.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", auth.ErrInvalidInput)
	}
	var user auth.User
	row := s.db.QueryRowContext(ctx, `
		select id, email, password_hash, is_super_admin, status, created_at, updated_at
		from users
		where id = $1
	`, userID)
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.SuperAdmin, &user.Status, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	roleIDs, err := s.roleIDsForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	user.RoleIDs = roleIDs
	return &user, nil
}

// UserByEmail loads a user by email for password login.
func (s *Store) UserByEmail(ctx context.Context, email string) (*auth.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", auth.ErrInvalidInput)
	}
	var user auth.User
	row := s.db.QueryRowContext(ctx, `
		select id, email, password_hash, is_super_admin, status, created_at, updated_at
		from users
		where email = $1
	`, email)
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.SuperAdmin, &user.Status, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	roleIDs, err := s.roleIDsForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	user.RoleIDs = roleIDs
	return &user, nil
}

func (s *Store) roleIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select role_id from user_roles where user_id = $1 order by role_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roleIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		roleIDs = append(roleIDs, id)
	}
	return roleIDs, rows.Err()
}

// GrantsForRoles loads every grant the given roles hold, joined with each
// grant's parent permission for the module and feature names.
func (s *Store) GrantsForRoles(ctx context.Context, roleIDs []string) ([]auth.Grant, error) {
	ids := make([]any, 0, len(roleIDs))
	for _, id := range roleIDs {
		id = strings.TrimSpace(id)
		if id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		select rg.role_id, p.module, p.feature, rg.actions
		from role_grants rg
		join permissions p on p.id = rg.permission_id
		where rg.role_id in (%s)
		order by rg.role_id, p.module, p.feature
	`, placeholders(0, len(ids)))

	rows, err := s.db.QueryContext(ctx, query, ids...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []auth.Grant
	for rows.Next() {
		var (
			grant      auth.Grant
			rawActions []byte
		)
		if err := rows.Scan(&grant.RoleID, &grant.Module, &grant.Feature, &rawActions); err != nil {
			return nil, err
		}
		if len(rawActions) > 0 {
			if err := json.Unmarshal(rawActions, &grant.Actions); err != nil {
				return nil, fmt.Errorf("decode grant actions for role %s: %w", grant.RoleID, err)
			}
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}

// RoleMembers lists the ids of users currently assigned the role.
func (s *Store) RoleMembers(ctx context.Context, roleID string) ([]string, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, fmt.Errorf("%w: role id is required", auth.ErrInvalidInput)
	}
	rows, err := s.db.QueryContext(ctx, `
		select user_id from user_roles where role_id = $1 order by user_id
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

// ListUsers returns all users without password hashes, for the admin panel.
func (s *Store) ListUsers(ctx context.Context) ([]auth.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, email, is_super_admin, status, created_at, updated_at
		from users
		order by email
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []auth.User
	for rows.Next() {
		var user auth.User
		if err := rows.Scan(&user.ID, &user.Email, &user.SuperAdmin, &user.Status, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// ListRoles returns all roles.
func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, created_at, updated_at
		from roles
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []auth.Role
	for rows.Next() {
		var role auth.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// ListPermissions returns the permission catalog with available actions.
func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, module, feature, actions
		from permissions
		order by module, feature
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []auth.Permission
	for rows.Next() {
		var (
			perm       auth.Permission
			rawActions []byte
		)
		if err := rows.Scan(&perm.ID, &perm.Module, &perm.Feature, &rawActions); err != nil {
			return nil, err
		}
		if len(rawActions) > 0 {
			if err := json.Unmarshal(rawActions, &perm.Actions); err != nil {
				return nil, fmt.Errorf("decode permission actions %s: %w", perm.ID, err)
			}
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}
