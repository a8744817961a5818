package user

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/logger"
	"github.com/nkiryanov/gophauth/internal/models"
	"github.com/nkiryanov/gophauth/internal/repository"
	"github.com/nkiryanov/gophauth/internal/service/auth"
	"github.com/nkiryanov/gophauth/internal/service/validate"
)

type tokenRevoker interface {
	// Revoke refresh tokens of the user within the storage, return revoked families
	RevokeUserTokens(ctx context.Context, storage repository.Storage, userID uuid.UUID) ([]uuid.UUID, error)

	// Deny access tokens of the families
	DenyFamilies(ctx context.Context, families []uuid.UUID) error
}

type UserService struct {
	hasher  auth.PasswordHasher
	storage repository.Storage
	tokens  tokenRevoker
	logger  logger.Logger
}

func NewService(hasher auth.PasswordHasher, storage repository.Storage, tokens tokenRevoker, logger logger.Logger) *UserService {
	if hasher == nil {
		hasher = auth.DefaultHasher
	}

	return &UserService{
		hasher:  hasher,
		storage: storage,
		tokens:  tokens,
		logger:  logger,
	}
}

func (s *UserService) CreateUser(ctx context.Context, username string, password string, roles ...string) (models.User, error) {
	var user models.User

	err := validate.Credentials(username, password)
	if err != nil {
		return user, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return user, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	user, err = s.storage.User().CreateUser(ctx, repository.CreateUserParams{
		Username:       username,
		HashedPassword: hash,
		Roles:          roles,
	})
	if err != nil {
		return user, fmt.Errorf("can't create user. Err: %w", err)
	}

	return user, nil
}

func (s *UserService) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	return s.storage.User().GetUserByID(ctx, userID)
}

// Replace user password if the old one matches
// All sessions of the user are revoked
func (s *UserService) ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword string, newPassword string) error {
	user, err := s.storage.User().GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	err = s.hasher.Compare(user.HashedPassword, oldPassword)
	if err != nil {
		return apperrors.ErrInvalidCredentials
	}

	err = validate.Password(newPassword)
	if err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("can't use this as password, Err: %w", err)
	}

	var families []uuid.UUID
	err = s.storage.InTx(ctx, func(storage repository.Storage) error {
		err := storage.User().SetPassword(ctx, userID, hash)
		if err != nil {
			return fmt.Errorf("can't update password. Err: %w", err)
		}

		families, err = s.tokens.RevokeUserTokens(ctx, storage, userID)
		return err
	})
	if err != nil {
		return err
	}

	s.deny(ctx, userID, families)
	return nil
}

// Soft disable user and revoke all its sessions
func (s *UserService) Disable(ctx context.Context, userID uuid.UUID) (models.User, error) {
	var (
		user     models.User
		families []uuid.UUID
	)

	err := s.storage.InTx(ctx, func(storage repository.Storage) error {
		var err error

		user, err = storage.User().Disable(ctx, userID, time.Now())
		if err != nil {
			return err
		}

		families, err = s.tokens.RevokeUserTokens(ctx, storage, userID)
		return err
	})
	if err != nil {
		return models.User{}, err
	}

	s.deny(ctx, userID, families)
	return user, nil
}

// Runs after commit. On failure refresh tokens are revoked anyway and access tokens live until expiry
func (s *UserService) deny(ctx context.Context, userID uuid.UUID, families []uuid.UUID) {
	err := s.tokens.DenyFamilies(ctx, families)
	if err != nil {
		s.logger.Warn("Access tokens stay valid until expiry, denylist failed", "user_id", userID, "families", len(families), "error", err)
	}
}
