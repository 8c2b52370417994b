package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/digkill/lookstudio/internal/apperr"
	"github.com/digkill/lookstudio/internal/models"
	"github.com/digkill/lookstudio/internal/repository"
)

type UserService struct {
	users UserStore
	log   *slog.Logger
}

func NewUserService(users UserStore, log *slog.Logger) *UserService {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &UserService{users: users, log: log}
}

func (s *UserService) Get(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, apperr.NotFound("user %d not found", id)
	}
	return user, nil
}

func (s *UserService) ListByStatus(ctx context.Context, status models.AccountStatus, limit, offset int) ([]models.User, error) {
	if status != "" && !status.Valid() {
		return nil, apperr.BadRequest("unknown account status %q", status)
	}
	limit, offset = pageBounds(limit, offset)
	users, err := s.users.ListByStatus(ctx, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	if users == nil {
		users = []models.User{}
	}
	return users, nil
}

// SetStatus approves or suspends an account. Admins cannot lock themselves out.
func (s *UserService) SetStatus(ctx context.Context, admin *models.User, userID int64, status models.AccountStatus) (*models.User, error) {
	if !status.Valid() {
		return nil, apperr.BadRequest("unknown account status %q", status)
	}
	if admin.ID == userID && status != models.AccountActive {
		return nil, apperr.BadRequest("you cannot change your own account status")
	}
	if _, err := s.Get(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.users.SetStatus(ctx, userID, status); err != nil {
		return nil, fmt.Errorf("set user status: %w", err)
	}
	s.log.Info("user status changed", "user_id", userID, "status", status, "admin_id", admin.ID)
	return s.Get(ctx, userID)
}

func (s *UserService) SetRole(ctx context.Context, admin *models.User, userID int64, role models.Role) (*models.User, error) {
	if !role.Valid() {
		return nil, apperr.BadRequest("unknown role %q", role)
	}
	if admin.ID == userID && role != models.RoleAdmin {
		return nil, apperr.BadRequest("you cannot remove your own admin role")
	}
	if _, err := s.Get(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.users.SetRole(ctx, userID, role); err != nil {
		return nil, fmt.Errorf("set user role: %w", err)
	}
	s.log.Info("user role changed", "user_id", userID, "role", role, "admin_id", admin.ID)
	return s.Get(ctx, userID)
}

// EnsureAdmin makes sure email belongs to an active admin, creating the account
// when it does not exist yet.
func (s *UserService) EnsureAdmin(ctx context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		user, err = s.users.Create(ctx, &models.User{Email: email, Role: models.RoleAdmin, Status: models.AccountActive})
		if errors.Is(err, repository.ErrDuplicate) {
			return s.EnsureAdmin(ctx, email)
		}
		if err != nil {
			return nil, fmt.Errorf("create admin: %w", err)
		}
		s.log.Info("bootstrap admin created", "user_id", user.ID, "email", email)
		return user, nil
	}
	if user.Role != models.RoleAdmin {
		if err := s.users.SetRole(ctx, user.ID, models.RoleAdmin); err != nil {
			return nil, fmt.Errorf("promote admin: %w", err)
		}
		user.Role = models.RoleAdmin
	}
	if user.Status != models.AccountActive {
		if err := s.users.SetStatus(ctx, user.ID, models.AccountActive); err != nil {
			return nil, fmt.Errorf("activate admin: %w", err)
		}
		user.Status = models.AccountActive
	}
	return user, nil
}
