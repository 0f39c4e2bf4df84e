package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boffins/usermgmt/internal/models"
	"github.com/boffins/usermgmt/internal/pkg/ulid"
)

// ProfileRepository defines the interface for user profile data operations.
type ProfileRepository interface {
	Create(ctx context.Context, profile *models.Profile) error
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
	List(ctx context.Context) ([]*models.Profile, error)
	Update(ctx context.Context, profile *models.Profile) error
	DeleteByUserID(ctx context.Context, userID uuid.UUID) error
}

type profileRepo struct {
	pool *pgxpool.Pool
}

// NewProfileRepository creates a new profile repository.
func NewProfileRepository(pool *pgxpool.Pool) ProfileRepository {
	return &profileRepo{pool: pool}
}

// Create inserts a new profile into the database.
func (r *profileRepo) Create(ctx context.Context, profile *models.Profile) error {
	query := `
		INSERT INTO user_profiles (id, user_id, first_name, last_name, email, phone, bio)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	if profile.ID == "" {
		profile.ID = ulid.New()
	}

	return r.pool.QueryRow(ctx, query,
		profile.ID,
		profile.UserID,
		profile.FirstName,
		profile.LastName,
		profile.Email,
		profile.Phone,
		profile.Bio,
	).Scan(&profile.CreatedAt, &profile.UpdatedAt)
}

// GetByUserID retrieves the profile owned by a user.
func (r *profileRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	query := `
		SELECT id, user_id, first_name, last_name, email, phone, bio, created_at, updated_at
		FROM user_profiles WHERE user_id = $1`

	var profile models.Profile
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&profile.ID,
		&profile.UserID,
		&profile.FirstName,
		&profile.LastName,
		&profile.Email,
		&profile.Phone,
		&profile.Bio,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// List retrieves all profiles ordered by creation time.
func (r *profileRepo) List(ctx context.Context) ([]*models.Profile, error) {
	query := `
		SELECT id, user_id, first_name, last_name, email, phone, bio, created_at, updated_at
		FROM user_profiles
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*models.Profile
	for rows.Next() {
		var profile models.Profile
		if err := rows.Scan(
			&profile.ID,
			&profile.UserID,
			&profile.FirstName,
			&profile.LastName,
			&profile.Email,
			&profile.Phone,
			&profile.Bio,
			&profile.CreatedAt,
			&profile.UpdatedAt,
		); err != nil {
			return nil, err
		}
		profiles = append(profiles, &profile)
	}
	return profiles, rows.Err()
}

// Update overwrites the mutable fields of a user's profile.
func (r *profileRepo) Update(ctx context.Context, profile *models.Profile) error {
	query := `
		UPDATE user_profiles
		SET first_name = $2, last_name = $3, email = $4, phone = $5, bio = $6, updated_at = NOW()
		WHERE user_id = $1
		RETURNING id, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		profile.UserID,
		profile.FirstName,
		profile.LastName,
		profile.Email,
		profile.Phone,
		profile.Bio,
	).Scan(&profile.ID, &profile.CreatedAt, &profile.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return pgx.ErrNoRows
	}
	return err
}

// DeleteByUserID removes the profile owned by a user.
func (r *profileRepo) DeleteByUserID(ctx context.Context, userID uuid.UUID) error {
	query := `DELETE FROM user_profiles WHERE user_id = $1`
	result, err := r.pool.Exec(ctx, query, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Compile-time check to ensure profileRepo implements ProfileRepository.
var _ ProfileRepository = (*profileRepo)(nil)
