package handlers

import (
	"errors"
	"net/http"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/handlers/render"
	"github.com/nkiryanov/gophauth/internal/logger"
)

// Map service error to http status and user facing message
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest, "Username or password does not meet requirements"
	case errors.Is(err, apperrors.ErrUserAlreadyExists):
		return http.StatusConflict, "User already exists"
	case errors.Is(err, apperrors.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid username or password"
	case errors.Is(err, apperrors.ErrUserDisabled):
		return http.StatusForbidden, "User is disabled"
	case errors.Is(err, apperrors.ErrRefreshTokenReused):
		return http.StatusUnauthorized, "Refresh token reused"
	case errors.Is(err, apperrors.ErrTokenRevoked):
		return http.StatusUnauthorized, "Token revoked"
	case errors.Is(err, apperrors.ErrTokenExpired):
		return http.StatusUnauthorized, "Token expired"
	case errors.Is(err, apperrors.ErrRefreshTokenNotFound), errors.Is(err, apperrors.ErrTokenInvalid):
		return http.StatusUnauthorized, "Token not found"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func serviceError(w http.ResponseWriter, err error, logger logger.Logger) {
	code, message := errorStatus(err)
	if code == http.StatusInternalServerError {
		logger.Error("Request failed", "error", err)
	}
	render.ServiceError(w, message, code)
}
