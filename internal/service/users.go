package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ngirimana/finindex/internal/domain"
	"github.com/ngirimana/finindex/internal/finapi"
)

// UserService manages accounts. Every operation is admin only.
type UserService struct {
	api    *finapi.API
	gate   gate
	logger *slog.Logger
}

// List returns every account.
func (s *UserService) List(ctx context.Context) ([]domain.User, error) {
	if _, err := s.gate.require(domain.ActionManageUsers); err != nil {
		return nil, err
	}
	return s.api.FetchUsers(ctx)
}

// Unverified returns the accounts awaiting verification.
func (s *UserService) Unverified(ctx context.Context) ([]domain.User, error) {
	if _, err := s.gate.require(domain.ActionManageUsers); err != nil {
		return nil, err
	}
	return s.api.FetchUnverifiedUsers(ctx)
}

// Create adds an account. Admins may create accounts of any role.
func (s *UserService) Create(ctx context.Context, f RegisterForm) (Notice, error) {
	if _, err := s.gate.require(domain.ActionManageUsers); err != nil {
		return Failure(err, ""), err
	}
	role := f.Role
	f.Role = ""
	reg, err := f.Validate()
	if err != nil {
		return Failure(err, ""), err
	}
	if role != "" {
		parsed, ok := domain.ParseRole(string(role))
		if !ok {
			err := invalid("Please choose a valid role")
			return Failure(err, ""), err
		}
		reg.Role = parsed
	}
	if err := s.api.CreateUser(ctx, reg); err != nil {
		return Failure(err, "Failed to create user"), err
	}
	return Success("User created."), nil
}

// Verify marks an account verified.
func (s *UserService) Verify(ctx context.Context, id string, c Confirmer) (Notice, error) {
	if _, err := s.gate.require(domain.ActionManageUsers); err != nil {
		return Failure(err, ""), err
	}
	if err := confirm(ctx, c, "Verify this user?"); err != nil {
		return Failure(err, ""), err
	}
	if err := s.api.VerifyUser(ctx, id); err != nil {
		return Failure(err, "Failed to verify user"), err
	}
	return Success("User verified."), nil
}

// Update edits name, role and verification flag.
func (s *UserService) Update(ctx context.Context, id string, upd domain.UserUpdate) (Notice, error) {
	if _, err := s.gate.require(domain.ActionManageUsers); err != nil {
		return Failure(err, ""), err
	}
	upd.Name = strings.TrimSpace(upd.Name)
	if upd.Name == "" {
		err := invalid("Name is required")
		return Failure(err, ""), err
	}
	role, ok := domain.ParseRole(string(upd.Role))
	if !ok {
		err := invalid("Please choose a valid role")
		return Failure(err, ""), err
	}
	upd.Role = role
	if err := s.api.UpdateUser(ctx, id, upd); err != nil {
		return Failure(err, "Failed to update user"), err
	}
	return Success("User updated."), nil
}

// Delete removes an account.
func (s *UserService) Delete(ctx context.Context, id string, c Confirmer) (Notice, error) {
	sess, err := s.gate.require(domain.ActionManageUsers)
	if err != nil {
		return Failure(err, ""), err
	}
	if id == sess.User.ID {
		err := invalid("You cannot delete your own account")
		return Failure(err, ""), err
	}
	if err := confirm(ctx, c, "Delete user? This action cannot be undone."); err != nil {
		return Failure(err, ""), err
	}
	if err := s.api.DeleteUser(ctx, id); err != nil {
		return Failure(err, "Failed to delete user"), err
	}
	s.logger.Info("user deleted", "id", id)
	return Success("User has been removed."), nil
}

// NewsService serves the cached news feed.
type NewsService struct {
	api *finapi.API
}

// Latest returns the news feed.
func (s *NewsService) Latest(ctx context.Context) ([]domain.NewsArticle, error) {
	return s.api.FetchNews(ctx)
}
