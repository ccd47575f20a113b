package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"tillpoint.org/internal/auth"
	"tillpoint.org/internal/ids"
)

// CreateUser inserts a user with a pre-hashed password.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string, superAdmin bool) (auth.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return auth.User{}, fmt.Errorf("%w: valid email is required", auth.ErrInvalidInput)
	}
	if strings.TrimSpace(passwordHash) == "" {
		return auth.User{}, fmt.Errorf("%w: password hash is required", auth.ErrInvalidInput)
	}
	var user auth.User
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, email, password_hash, is_super_admin, status)
		values ($1, $2, $3, $4, $5)
		returning id, email, is_super_admin, status, created_at, updated_at
	`, ids.New(), email, passwordHash, superAdmin, auth.UserStatusActive)
	if err := row.Scan(&user.ID, &user.Email, &user.SuperAdmin, &user.Status, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.User{}, auth.ErrConflict
		}
		return auth.User{}, err
	}
	return user, nil
}

// CreateRole inserts a role with no grants.
func (s *Store) CreateRole(ctx context.Context, name, description string) (auth.Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return auth.Role{}, fmt.Errorf("%w: role name is required", auth.ErrInvalidInput)
	}
	var role auth.Role
	row := s.db.QueryRowContext(ctx, `
		insert into roles (id, name, description)
		values ($1, $2, $3)
		returning id, name, description, created_at, updated_at
	`, ids.New(), name, strings.TrimSpace(description))
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.Role{}, auth.ErrConflict
		}
		return auth.Role{}, err
	}
	return role, nil
}

// SetRoleGrants replaces the role's grants in one transaction. Every grant
// must reference an existing permission and carry a subset of that
// permission's available actions.
func (s *Store) SetRoleGrants(ctx context.Context, roleID string, grants []auth.Grant) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role id is required", auth.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `select exists(select 1 from roles where id = $1)`, roleID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return auth.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `delete from role_grants where role_id = $1`, roleID); err != nil {
		return err
	}

	for _, grant := range grants {
		permID, available, err := permissionByKey(ctx, tx, grant.Module, grant.Feature)
		if err != nil {
			return err
		}
		actions, err := subsetOf(grant.Actions, available)
		if err != nil {
			return fmt.Errorf("grant on %s: %w", auth.PermissionKey(grant.Module, grant.Feature), err)
		}
		if len(actions) == 0 {
			continue
		}
		rawActions, err := json.Marshal(actions)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into role_grants (role_id, permission_id, actions)
			values ($1, $2, $3)
		`, roleID, permID, rawActions); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AssignRole links a role to a user.
func (s *Store) AssignRole(ctx context.Context, userID, roleID string) error {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user id and role id are required", auth.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role_id) values ($1, $2)
	`, userID, roleID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return auth.ErrConflict
			case pgErrForeignKeyViolation:
				return auth.ErrNotFound
			}
		}
		return err
	}
	return nil
}

// RemoveRole unlinks a role from a user.
func (s *Store) RemoveRole(ctx context.Context, userID, roleID string) error {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user id and role id are required", auth.ErrInvalidInput)
	}
	res, err := s.db.ExecContext(ctx, `
		delete from user_roles where user_id = $1 and role_id = $2
	`, userID, roleID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func permissionByKey(ctx context.Context, tx *sql.Tx, module, feature string) (string, []string, error) {
	module = strings.TrimSpace(strings.ToLower(module))
	feature = strings.TrimSpace(strings.ToLower(feature))
	var (
		id         string
		rawActions []byte
	)
	row := tx.QueryRowContext(ctx, `
		select id, actions from permissions where module = $1 and feature = $2
	`, module, feature)
	if err := row.Scan(&id, &rawActions); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, fmt.Errorf("%w: unknown permission %s:%s", auth.ErrNotFound, module, feature)
		}
		return "", nil, err
	}
	var available []string
	if len(rawActions) > 0 {
		if err := json.Unmarshal(rawActions, &available); err != nil {
			return "", nil, fmt.Errorf("decode permission actions %s: %w", id, err)
		}
	}
	return id, available, nil
}

// subsetOf normalizes the requested actions and verifies each one is both
// recognized and supported by the parent permission.
func subsetOf(requested, available []string) ([]string, error) {
	availableSet := make(map[string]struct{}, len(available))
	for _, a := range available {
		availableSet[strings.TrimSpace(strings.ToLower(a))] = struct{}{}
	}
	seen := make(map[string]struct{}, len(requested))
	var actions []string
	for _, a := range requested {
		a = strings.TrimSpace(strings.ToLower(a))
		if a == "" {
			continue
		}
		if !auth.KnownAction(a) {
			return nil, fmt.Errorf("%w: unrecognized action %q", auth.ErrInvalidInput, a)
		}
		if _, ok := availableSet[a]; !ok {
			return nil, fmt.Errorf("%w: action %q not supported by permission", auth.ErrInvalidInput, a)
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		actions = append(actions, a)
	}
	return actions, nil
}
