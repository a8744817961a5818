package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gophauth/internal/models"
)

// Access to all repositories sharing one connection or transaction
type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo

	// Run fn in transaction
	// Commit if fn returns nil, rollback otherwise
	InTx(ctx context.Context, fn func(Storage) error) error
}

type CreateUserParams struct {
	Username       string
	HashedPassword string
	Roles          []string
}

// User repository interface
type UserRepo interface {
	// Create user
	// If user with username exists already has to return error apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, arg CreateUserParams) (models.User, error)

	// Get user by it's id or username
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)

	// Replace password hash
	// If user not found must return apperrors.ErrUserNotFound
	SetPassword(ctx context.Context, userID uuid.UUID, hashedPassword string) error

	// Soft disable user. Disabling twice keeps the first 'disabled_at'
	// If user not found must return apperrors.ErrUserNotFound
	Disable(ctx context.Context, userID uuid.UUID, at time.Time) (models.User, error)
}

// RefreshToken repository interface
type RefreshTokenRepo interface {
	// Save token in repository
	Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Return the token by its hash even if it used, revoked or expired
	// If token not found must return apperrors.ErrRefreshTokenNotFound
	Get(ctx context.Context, tokenHash string) (models.RefreshToken, error)

	// Atomically mark token used if it is usable at 'now' (not used, not revoked, not expired)
	// Otherwise return the stored token and the reason:
	//   apperrors.ErrRefreshTokenNotFound, apperrors.ErrTokenRevoked,
	//   apperrors.ErrRefreshTokenReused or apperrors.ErrTokenExpired
	MarkUsed(ctx context.Context, tokenHash string, now time.Time) (models.RefreshToken, error)

	// Revoke all not yet revoked tokens of the family
	// Return number of tokens revoked
	RevokeFamily(ctx context.Context, familyID uuid.UUID, at time.Time) (int64, error)

	// Revoke all not yet revoked tokens of the user
	// Return family ids that had tokens revoked
	RevokeUser(ctx context.Context, userID uuid.UUID, at time.Time) ([]uuid.UUID, error)

	// Delete tokens expired before the moment
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
