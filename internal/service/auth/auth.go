package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/models"
	"github.com/nkiryanov/gophauth/internal/repository"
	"github.com/nkiryanov/gophauth/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/gophauth/internal/service/validate"
)

const (
	defaultAccessHeaderName  = "Authorization"
	defaultAccessAuthScheme  = "Bearer"
	defaultRefreshCookieName = "refresh_token"

	// Compared with for unknown users so login time does not reveal user existence
	dummyPassword = "gophauth-dummy-password"
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

// Hasher used if nothing else is configured
var DefaultHasher PasswordHasher = BcryptHasher{}

// Return password hasher by its name: 'bcrypt' or 'argon2'
// Empty name returns DefaultHasher. New hashes use the named algorithm,
// stored hashes of any supported algorithm still verify
func NewHasher(name string) (PasswordHasher, error) {
	switch strings.ToLower(name) {
	case "", "bcrypt":
		return AnyFormatHasher{DefaultHasher}, nil
	case "argon2", "argon2id":
		return AnyFormatHasher{Argon2Hasher{}}, nil
	default:
		return nil, fmt.Errorf("unknown password hasher %q, use 'bcrypt' or 'argon2'", name)
	}
}

// Hash with the embedded hasher, compare with the one matching stored hash prefix
type AnyFormatHasher struct {
	PasswordHasher
}

func (h AnyFormatHasher) Compare(hashedPassword string, password string) error {
	switch {
	case strings.HasPrefix(hashedPassword, "$argon2id$"):
		return Argon2Hasher{}.Compare(hashedPassword, password)
	case strings.HasPrefix(hashedPassword, "$2a$"),
		strings.HasPrefix(hashedPassword, "$2b$"),
		strings.HasPrefix(hashedPassword, "$2y$"):
		return BcryptHasher{}.Compare(hashedPassword, password)
	default:
		return h.PasswordHasher.Compare(hashedPassword, password)
	}
}

type Config struct {
	// Header to write access token to and read it from
	AccessHeaderName string
	AccessAuthScheme string

	// Cookie to write refresh token to and read it from
	RefreshCookieName string

	// Hasher to use during user registration or login process
	Hasher PasswordHasher
}

// Auth service
type AuthService struct {
	accessHeaderName  string
	accessAuthScheme  string
	refreshCookieName string

	// hasher to hash or compare user passwords
	hasher    PasswordHasher
	dummyOnce sync.Once
	dummyHash string

	// Manager to issue, rotate and validate tokens
	tokenManager *tokenmanager.TokenManager

	storage repository.Storage
}

func NewService(cfg Config, tokenManager *tokenmanager.TokenManager, storage repository.Storage) (*AuthService, error) {
	setDefault := func(field *string, def string) {
		if *field == "" {
			*field = def
		}
	}
	setDefault(&cfg.AccessHeaderName, defaultAccessHeaderName)
	setDefault(&cfg.AccessAuthScheme, defaultAccessAuthScheme)
	setDefault(&cfg.RefreshCookieName, defaultRefreshCookieName)

	if cfg.Hasher == nil {
		cfg.Hasher = DefaultHasher
	}

	return &AuthService{
		accessHeaderName:  cfg.AccessHeaderName,
		accessAuthScheme:  cfg.AccessAuthScheme,
		refreshCookieName: cfg.RefreshCookieName,
		hasher:            cfg.Hasher,
		tokenManager:      tokenManager,
		storage:           storage,
	}, nil
}

// Register user with username and password and issue the first token pair
func (s *AuthService) Register(ctx context.Context, username string, password string) (models.TokenPair, error) {
	var pair models.TokenPair

	err := validate.Credentials(username, password)
	if err != nil {
		return pair, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return pair, fmt.Errorf("can't use this as password. Err: %w", err)
	}

	// User without tokens is useless, so create both or nothing
	err = s.storage.InTx(ctx, func(storage repository.Storage) error {
		user, err := storage.User().CreateUser(ctx, repository.CreateUserParams{
			Username:       username,
			HashedPassword: hash,
		})
		if err != nil {
			return fmt.Errorf("can't create user. Err: %w", err)
		}

		pair, err = s.tokenManager.WithStorage(storage).GeneratePair(ctx, user)
		if err != nil {
			return fmt.Errorf("token could not be generated. Err: %w", err)
		}
		return nil
	})

	return pair, err
}

// Check credentials and issue token pair of a new family
// Unknown user and wrong password both return apperrors.ErrInvalidCredentials
func (s *AuthService) Login(ctx context.Context, username string, password string) (models.TokenPair, error) {
	var pair models.TokenPair

	user, err := s.storage.User().GetUserByUsername(ctx, username)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		_ = s.hasher.Compare(s.dummy(), password)
		return pair, apperrors.ErrInvalidCredentials
	case err != nil:
		return pair, fmt.Errorf("error while getting user. Err: %w", err)
	}

	err = s.hasher.Compare(user.HashedPassword, password)
	if err != nil {
		return pair, apperrors.ErrInvalidCredentials
	}

	if user.IsDisabled() {
		return pair, apperrors.ErrUserDisabled
	}

	pair, err = s.tokenManager.GeneratePair(ctx, user)
	if err != nil {
		return pair, fmt.Errorf("token could not be generated. Err: %w", err)
	}

	return pair, nil
}

// Exchange refresh token for a new pair
// Second use of the same token revokes its family and returns apperrors.ErrRefreshTokenReused
func (s *AuthService) Refresh(ctx context.Context, refresh string) (models.TokenPair, error) {
	pair, _, err := s.tokenManager.Rotate(ctx, refresh)
	return pair, err
}

// Revoke the family of the refresh token
func (s *AuthService) Logout(ctx context.Context, refresh string) error {
	return s.tokenManager.RevokeRefresh(ctx, refresh)
}

// Authenticate request by its access token
// Returns the active token owner
func (s *AuthService) Auth(ctx context.Context, r *http.Request) (models.User, error) {
	var user models.User

	access, err := s.bearer(r)
	if err != nil {
		return user, err
	}

	claims, err := s.tokenManager.ParseAccess(ctx, access)
	if err != nil {
		return user, err
	}

	user, err = s.storage.User().GetUserByID(ctx, claims.UserID)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return user, fmt.Errorf("token owner not found: %w", apperrors.ErrTokenInvalid)
	case err != nil:
		return user, fmt.Errorf("error while getting token owner. Err: %w", err)
	}

	if user.IsDisabled() {
		return models.User{}, apperrors.ErrUserDisabled
	}

	return user, nil
}

// Write access token to header and refresh token to http only cookie
func (s *AuthService) SetTokens(ctx context.Context, w http.ResponseWriter, pair models.TokenPair) {
	w.Header().Set(s.accessHeaderName, s.accessAuthScheme+" "+pair.Access.Value)
	http.SetCookie(w, s.refreshCookie(pair.Refresh.Value, int(s.tokenManager.RefreshTTL().Seconds())))
}

// Expire refresh cookie on the client
func (s *AuthService) ClearTokens(w http.ResponseWriter) {
	http.SetCookie(w, s.refreshCookie("", -1))
}

// Same as SetTokens but for outgoing requests
func (s *AuthService) SetTokensToRequest(r *http.Request, pair models.TokenPair) {
	r.Header.Set(s.accessHeaderName, s.accessAuthScheme+" "+pair.Access.Value)
	r.AddCookie(&http.Cookie{Name: s.refreshCookieName, Value: pair.Refresh.Value})
}

// Read refresh token from cookie
// Falls back to authorization header for clients without cookies
func (s *AuthService) GetRefresh(r *http.Request) (string, error) {
	cookie, err := r.Cookie(s.refreshCookieName)
	if err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	refresh, err := s.bearer(r)
	if err != nil {
		return "", fmt.Errorf("refresh token not set: %w", apperrors.ErrRefreshTokenNotFound)
	}
	return refresh, nil
}

func (s *AuthService) bearer(r *http.Request) (string, error) {
	header := r.Header.Get(s.accessHeaderName)
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, s.accessAuthScheme) || token == "" {
		return "", fmt.Errorf("no %s token in %s header: %w", s.accessAuthScheme, s.accessHeaderName, apperrors.ErrTokenInvalid)
	}
	return strings.TrimSpace(token), nil
}

func (s *AuthService) refreshCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     s.refreshCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

func (s *AuthService) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash(dummyPassword)
	})
	return s.dummyHash
}
