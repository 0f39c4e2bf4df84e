// Package service provides business logic implementations.
package service

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/boffins/usermgmt/internal/models"
	apierrors "github.com/boffins/usermgmt/internal/pkg/errors"
	"github.com/boffins/usermgmt/internal/repository"
)

// AuthService defines account signup and credential verification.
type AuthService interface {
	// Signup creates a new password-backed account. Fails with a conflict
	// error when the username is already taken.
	Signup(ctx context.Context, username, password string, role models.Role) (*models.User, error)

	// VerifyLogin checks a username/password pair. The failure is identical
	// whether the user is missing or the password is wrong.
	VerifyLogin(ctx context.Context, username, password string) (*models.User, error)

	// GetUserByUsername resolves a user record, or nil when absent.
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	// ListUsers returns all user accounts.
	ListUsers(ctx context.Context) ([]*models.User, error)
}

type authService struct {
	userRepo repository.UserRepository
}

// NewAuthService creates a new auth service.
func NewAuthService(userRepo repository.UserRepository) AuthService {
	return &authService{userRepo: userRepo}
}

func (s *authService) Signup(ctx context.Context, username, password string, role models.Role) (*models.User, error) {
	if username == "" {
		return nil, apierrors.NewValidationError("username", "username is required")
	}
	if password == "" {
		return nil, apierrors.NewValidationError("password", "password is required")
	}
	if role == "" {
		role = models.RoleUser
	}
	if !role.Valid() {
		return nil, apierrors.NewValidationError("role", "role must be 'user' or 'admin'")
	}

	existing, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apierrors.NewConflictError("Username already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

func (s *authService) VerifyLogin(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	// OAuth-only accounts carry an empty hash and can never pass here.
	if user == nil || user.PasswordHash == "" {
		return nil, apierrors.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apierrors.ErrInvalidCredentials
	}
	return user, nil
}

func (s *authService) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.userRepo.GetByUsername(ctx, username)
}

func (s *authService) ListUsers(ctx context.Context) ([]*models.User, error) {
	return s.userRepo.List(ctx)
}

// Compile-time check to ensure authService implements AuthService.
var _ AuthService = (*authService)(nil)
