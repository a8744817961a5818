package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/nkiryanov/gophauth/internal/handlers/middleware"
	"github.com/nkiryanov/gophauth/internal/logger"
	"github.com/nkiryanov/gophauth/internal/models"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	authService authService,
	userService userService,
	logger logger.Logger,
) http.Handler {
	authenticated := middleware.AuthMiddleware(authService)
	withUser := func(h http.Handler) http.Handler {
		return chain(h, authenticated, middleware.RequireRole(models.RoleUser))
	}

	mux := http.NewServeMux()

	mux.Handle("POST /register", handleRegister(authService, logger))
	mux.Handle("POST /login", handleLogin(authService, logger))
	mux.Handle("POST /refresh_token", handleTokenRefresh(authService, logger))
	mux.Handle("POST /logout", handleLogout(authService, logger))

	mux.Handle("GET /me", withUser(handleUserMe()))
	mux.Handle("POST /password", withUser(handleChangePassword(userService, logger)))

	handler := chain(mux,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type authService interface {
	// Register user with username and password
	// Has to return apperrors.ErrUserAlreadyExists if user already exists
	Register(ctx context.Context, username string, password string) (models.TokenPair, error)

	// Login user with username and password
	// Has to return apperrors.ErrInvalidCredentials if user not found or password is wrong
	Login(ctx context.Context, username string, password string) (models.TokenPair, error)

	// Refresh tokens using refresh token
	// Has to return apperrors.ErrRefreshTokenReused if token was used already
	Refresh(ctx context.Context, refresh string) (models.TokenPair, error)

	// Revoke the session the refresh token belongs to
	Logout(ctx context.Context, refresh string) error

	// Set auth tokens (access, refresh) to response
	SetTokens(ctx context.Context, w http.ResponseWriter, pair models.TokenPair)

	// Remove refresh token from client
	ClearTokens(w http.ResponseWriter)

	// Get refresh token from request
	GetRefresh(r *http.Request) (string, error)

	// Get request and return user if it authenticated or error
	Auth(ctx context.Context, r *http.Request) (models.User, error)
}

type userService interface {
	ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword string, newPassword string) error
}
