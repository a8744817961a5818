package tokenmanager

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/models"
	"github.com/nkiryanov/gophauth/internal/repository"
	"github.com/nkiryanov/gophauth/internal/revocation"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultSigningMethod   = "HS256"
	defaultRefreshTokenTTL = 24 * time.Hour
	defaultIssuer          = "gophauth"

	refreshTokenBytes = 32
)

type AccessTokenClaims struct {
	jwt.RegisteredClaims
	UserID   uuid.UUID `json:"uid"`
	FamilyID uuid.UUID `json:"sid"`
	Roles    []string  `json:"roles,omitempty"`
}

// Token manager with sensible default
type Config struct {
	// Secret key to sign access token
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type TokenManager struct {
	// Secret key to sign access token
	key string

	// JWT MAC (Message Authentication Code) algorithm
	alg jwt.SigningMethod

	// Access and refresh token lifetimes
	accessTTL  time.Duration
	refreshTTL time.Duration

	storage  repository.Storage
	denylist revocation.Denylist

	now func() time.Time
}

func New(cfg Config, storage repository.Storage, denylist revocation.Denylist) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg, ok := jwt.GetSigningMethod(cfg.Alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("signing method %q is not supported, use one of HS256, HS384, HS512", cfg.Alg)
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	if denylist == nil {
		denylist = revocation.Nop{}
	}

	return &TokenManager{
		key:        cfg.SecretKey,
		alg:        alg,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		storage:    storage,
		denylist:   denylist,
		now:        time.Now,
	}, nil
}

func (m *TokenManager) RefreshTTL() time.Duration {
	return m.refreshTTL
}

// Return token manager copy working with the storage
// Useful to issue tokens in the caller transaction
func (m *TokenManager) WithStorage(storage repository.Storage) *TokenManager {
	c := *m
	c.storage = storage
	return &c
}

// Issue token pair that starts a new token family
func (m *TokenManager) GeneratePair(ctx context.Context, user models.User) (models.TokenPair, error) {
	return m.issuePair(ctx, m.storage.Refresh(), user, uuid.New())
}

func (m *TokenManager) issuePair(ctx context.Context, refreshRepo repository.RefreshTokenRepo, user models.User, familyID uuid.UUID) (models.TokenPair, error) {
	var pair models.TokenPair
	now := m.now().Truncate(time.Second)
	accessExpiresAt := now.Add(m.accessTTL)
	refreshExpiresAt := now.Add(m.refreshTTL)

	// Generate JWT access token decoded as string
	accessToken := jwt.NewWithClaims(
		m.alg,
		AccessTokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				Issuer:    defaultIssuer,
				Subject:   user.Username,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(accessExpiresAt),
			},
			UserID:   user.ID,
			FamilyID: familyID,
			Roles:    user.Roles,
		},
	)
	access, err := accessToken.SignedString([]byte(m.key))
	if err != nil {
		return pair, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	// Generate random opaque refresh token, only its hash is stored
	b := make([]byte, refreshTokenBytes)
	_, err = rand.Read(b)
	if err != nil {
		return pair, fmt.Errorf("error while generate refresh token. Err: %w", err)
	}
	refresh := hex.EncodeToString(b)

	_, err = refreshRepo.Save(ctx, models.RefreshToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		FamilyID:  familyID,
		TokenHash: hashToken(refresh),
		CreatedAt: now,
		ExpiresAt: refreshExpiresAt,
	})
	if err != nil {
		return pair, fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	return models.TokenPair{
		Access:  models.IssuedToken{Value: access, ExpiresAt: accessExpiresAt},
		Refresh: models.IssuedToken{Value: refresh, ExpiresAt: refreshExpiresAt},
	}, nil
}

// Exchange refresh token for a new pair of the same family
// Marking the presented token used and saving its successor happen in one transaction,
// so of several concurrent calls with the same token exactly one succeeds.
// Presenting an already used token revokes the whole family. Losers of a race count as reuse,
// so the winner's new pair is revoked too.
func (m *TokenManager) Rotate(ctx context.Context, refresh string) (models.TokenPair, models.User, error) {
	var (
		pair  models.TokenPair
		user  models.User
		token models.RefreshToken
	)

	if refresh == "" {
		return pair, user, fmt.Errorf("empty refresh token: %w", apperrors.ErrRefreshTokenNotFound)
	}

	err := m.storage.InTx(ctx, func(s repository.Storage) error {
		var err error

		token, err = s.Refresh().MarkUsed(ctx, hashToken(refresh), m.now())
		if err != nil {
			return err
		}

		user, err = s.User().GetUserByID(ctx, token.UserID)
		if err != nil {
			return fmt.Errorf("error while getting token owner. Err: %w", err)
		}
		if user.IsDisabled() {
			return apperrors.ErrUserDisabled
		}

		pair, err = m.issuePair(ctx, s.Refresh(), user, token.FamilyID)
		return err
	})

	switch {
	case err == nil:
		return pair, user, nil
	case errors.Is(err, apperrors.ErrRefreshTokenReused), errors.Is(err, apperrors.ErrUserDisabled):
		// Transaction is rolled back already, revoke outside of it so revocation persists
		if revokeErr := m.RevokeFamily(ctx, token.FamilyID); revokeErr != nil {
			return pair, user, errors.Join(err, revokeErr)
		}
		return pair, user, fmt.Errorf("error while rotating refresh token, family %s revoked. Err: %w", token.FamilyID, err)
	default:
		return pair, user, fmt.Errorf("error while rotating refresh token. Err: %w", err)
	}
}

// Revoke every refresh token of the family and deny its access tokens
func (m *TokenManager) RevokeFamily(ctx context.Context, familyID uuid.UUID) error {
	_, err := m.storage.Refresh().RevokeFamily(ctx, familyID, m.now())
	if err != nil {
		return fmt.Errorf("error while revoking token family. Err: %w", err)
	}

	err = m.denylist.RevokeFamily(ctx, familyID, m.accessTTL)
	if err != nil {
		return fmt.Errorf("error while denying token family. Err: %w", err)
	}

	return nil
}

// Revoke the family the refresh token belongs to
// Unknown tokens are ignored
func (m *TokenManager) RevokeRefresh(ctx context.Context, refresh string) error {
	if refresh == "" {
		return nil
	}

	token, err := m.storage.Refresh().Get(ctx, hashToken(refresh))
	switch {
	case errors.Is(err, apperrors.ErrRefreshTokenNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("error while getting refresh token. Err: %w", err)
	}

	return m.RevokeFamily(ctx, token.FamilyID)
}

// Revoke all refresh tokens of the user in the storage, it may be a transaction
// Access tokens stay valid until DenyFamilies is called with returned families
func (m *TokenManager) RevokeUserTokens(ctx context.Context, storage repository.Storage, userID uuid.UUID) ([]uuid.UUID, error) {
	families, err := storage.Refresh().RevokeUser(ctx, userID, m.now())
	if err != nil {
		return nil, fmt.Errorf("error while revoking user tokens. Err: %w", err)
	}
	return families, nil
}

// Deny access tokens of the families until they expire
func (m *TokenManager) DenyFamilies(ctx context.Context, families []uuid.UUID) error {
	for _, familyID := range families {
		err := m.denylist.RevokeFamily(ctx, familyID, m.accessTTL)
		if err != nil {
			return fmt.Errorf("error while denying token family. Err: %w", err)
		}
	}
	return nil
}

// Parse and validate access token: signature, expiration and family revocation
func (m *TokenManager) ParseAccess(ctx context.Context, access string) (models.AccessClaims, error) {
	claims := &AccessTokenClaims{}

	_, err := jwt.ParseWithClaims(
		access,
		claims,
		func(t *jwt.Token) (any, error) {
			return []byte(m.key), nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithIssuer(defaultIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return models.AccessClaims{}, fmt.Errorf("error while validating token. Err: %w", apperrors.ErrTokenExpired)
	case err != nil:
		return models.AccessClaims{}, fmt.Errorf("error while parsing or validating token: %w. Err: %w", apperrors.ErrTokenInvalid, err)
	}

	revoked, err := m.denylist.IsRevoked(ctx, claims.FamilyID)
	if err != nil {
		return models.AccessClaims{}, fmt.Errorf("error while checking token revocation. Err: %w", err)
	}
	if revoked {
		return models.AccessClaims{}, fmt.Errorf("error while validating token. Err: %w", apperrors.ErrTokenRevoked)
	}

	result := models.AccessClaims{
		TokenID:   claims.ID,
		UserID:    claims.UserID,
		FamilyID:  claims.FamilyID,
		Roles:     claims.Roles,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		result.IssuedAt = claims.IssuedAt.Time
	}

	return result, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
