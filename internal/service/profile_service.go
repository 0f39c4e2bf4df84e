package service

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/boffins/usermgmt/internal/models"
	apierrors "github.com/boffins/usermgmt/internal/pkg/errors"
	"github.com/boffins/usermgmt/internal/repository"
)

// ProfileInput carries the mutable profile fields for create and update.
// Validation runs before any persistence attempt.
type ProfileInput struct {
	FirstName *string `json:"first_name" validate:"omitempty,max=50"`
	LastName  *string `json:"last_name" validate:"omitempty,max=50"`
	Email     *string `json:"email" validate:"omitempty,email,max=100"`
	Phone     *string `json:"phone" validate:"omitempty,min=10,max=20"`
	Bio       *string `json:"bio" validate:"omitempty,max=200"`
}

// ProfileService defines the one-to-one user profile CRUD operations.
type ProfileService interface {
	Create(ctx context.Context, userID uuid.UUID, input ProfileInput) (*models.Profile, error)
	GetByUser(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
	Update(ctx context.Context, userID uuid.UUID, input ProfileInput) (*models.Profile, error)
	Delete(ctx context.Context, userID uuid.UUID) error
	ListAll(ctx context.Context) ([]*models.Profile, error)
}

type profileService struct {
	profileRepo repository.ProfileRepository
	validate    *validator.Validate
}

// NewProfileService creates a new profile service.
func NewProfileService(profileRepo repository.ProfileRepository) ProfileService {
	return &profileService{
		profileRepo: profileRepo,
		validate:    validator.New(),
	}
}

func (s *profileService) Create(ctx context.Context, userID uuid.UUID, input ProfileInput) (*models.Profile, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	existing, err := s.profileRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apierrors.NewConflictError("Profile already exists for this user")
	}

	profile := &models.Profile{
		UserID:    userID,
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Email:     input.Email,
		Phone:     input.Phone,
		Bio:       input.Bio,
	}
	if err := s.profileRepo.Create(ctx, profile); err != nil {
		return nil, err
	}

	return profile, nil
}

func (s *profileService) GetByUser(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	profile, err := s.profileRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, apierrors.NewNotFoundError("Profile")
	}
	return profile, nil
}

// Update applies a partial update: only fields present in the request body
// are written, everything else keeps its stored value.
func (s *profileService) Update(ctx context.Context, userID uuid.UUID, input ProfileInput) (*models.Profile, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	profile, err := s.profileRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, apierrors.NewNotFoundError("Profile")
	}

	if input.FirstName != nil {
		profile.FirstName = input.FirstName
	}
	if input.LastName != nil {
		profile.LastName = input.LastName
	}
	if input.Email != nil {
		profile.Email = input.Email
	}
	if input.Phone != nil {
		profile.Phone = input.Phone
	}
	if input.Bio != nil {
		profile.Bio = input.Bio
	}

	err = s.profileRepo.Update(ctx, profile)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apierrors.NewNotFoundError("Profile")
	}
	if err != nil {
		return nil, err
	}

	return profile, nil
}

func (s *profileService) Delete(ctx context.Context, userID uuid.UUID) error {
	err := s.profileRepo.DeleteByUserID(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apierrors.NewNotFoundError("Profile")
	}
	return err
}

func (s *profileService) ListAll(ctx context.Context) ([]*models.Profile, error) {
	return s.profileRepo.List(ctx)
}

// validateInput maps validator failures onto the API error taxonomy.
func (s *profileService) validateInput(input ProfileInput) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apierrors.ErrBadRequest
	}

	switch verrs[0].Field() {
	case "Phone":
		return apierrors.NewValidationError("phone", "Phone number must be at least 10 characters")
	case "Bio":
		return apierrors.NewValidationError("bio", "Bio must be less than 200 characters")
	case "Email":
		return apierrors.NewValidationError("email", "Email must be a valid address")
	default:
		return apierrors.NewValidationError(verrs[0].Field(), "invalid value")
	}
}

// Compile-time check to ensure profileService implements ProfileService.
var _ ProfileService = (*profileService)(nil)
