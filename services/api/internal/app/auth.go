package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docvault/internal/util"
	"docvault/pkg/auth"
	"docvault/pkg/domain"
)

// Register creates a user with a bcrypt password hash. The first account
// ever registered becomes the admin; everyone after that is a plain user.
func (a *App) Register(ctx context.Context, email, password, displayName string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.User{}, fmt.Errorf("valid email required")
	}
	if len(password) < 8 {
		return domain.User{}, fmt.Errorf("password must be at least 8 characters")
	}
	taken, err := a.store.HasUserEmail(email)
	if err != nil {
		return domain.User{}, fmt.Errorf("check email: %w", err)
	}
	if taken {
		return domain.User{}, fmt.Errorf("%w: %s", ErrEmailTaken, email)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	role := domain.RoleUser
	count, err := a.store.UserCount()
	if err != nil {
		return domain.User{}, fmt.Errorf("count users: %w", err)
	}
	if count == 0 {
		role = domain.RoleAdmin
	}
	user := domain.User{
		ID:           util.NewID(),
		Email:        email,
		PasswordHash: hash,
		DisplayName:  strings.TrimSpace(displayName),
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	a.audit(ctx, domain.LogUser, fmt.Sprintf("user %s registered", email))
	return user, nil
}

// Login checks credentials and issues a signed access token.
func (a *App) Login(ctx context.Context, email, password string) (string, domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return "", domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return "", domain.User{}, ErrInvalidCredentials
	}
	token, err := a.tokens.Issue(user)
	if err != nil {
		return "", domain.User{}, fmt.Errorf("issue token: %w", err)
	}
	a.audit(ctx, domain.LogAuth, fmt.Sprintf("user %s logged in", email))
	return token, user, nil
}

// ListUsers returns every account, admin only.
func (a *App) ListUsers(ctx context.Context, caller domain.Principal) ([]domain.User, error) {
	if caller.Role != domain.RoleAdmin {
		return nil, ErrUnauthorized
	}
	return a.store.ListUsers()
}
