package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/handlers/render"
	"github.com/nkiryanov/gophauth/internal/logger"
	"github.com/nkiryanov/gophauth/internal/models"
)

type credentialsRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type authenticationResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	TokenType        string    `json:"token_type"`
}

func newAuthenticationResponse(pair models.TokenPair) authenticationResponse {
	return authenticationResponse{
		AccessToken:      pair.Access.Value,
		AccessExpiresAt:  pair.Access.ExpiresAt,
		RefreshToken:     pair.Refresh.Value,
		RefreshExpiresAt: pair.Refresh.ExpiresAt,
		TokenType:        "Bearer",
	}
}

func handleRegister(as authService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[credentialsRequest](w, r)
		if err != nil {
			return
		}
		logger.Debug("Register request", "username", data.Username)

		pair, err := as.Register(r.Context(), data.Username, data.Password)
		if err != nil {
			serviceError(w, err, logger)
			return
		}

		as.SetTokens(r.Context(), w, pair)
		render.JSON(w, newAuthenticationResponse(pair))
	})
}

func handleLogin(as authService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[credentialsRequest](w, r)
		if err != nil {
			return
		}
		logger.Debug("Login request", "username", data.Username)

		pair, err := as.Login(r.Context(), data.Username, data.Password)
		if err != nil {
			serviceError(w, err, logger)
			return
		}

		as.SetTokens(r.Context(), w, pair)
		render.JSON(w, newAuthenticationResponse(pair))
	})
}

func handleTokenRefresh(as authService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refresh, err := as.GetRefresh(r)
		if err != nil {
			serviceError(w, err, logger)
			return
		}

		pair, err := as.Refresh(r.Context(), refresh)
		if err != nil {
			if errors.Is(err, apperrors.ErrRefreshTokenReused) {
				logger.Warn("Refresh token reuse detected, session revoked", "error", err)
			}
			serviceError(w, err, logger)
			return
		}

		as.SetTokens(r.Context(), w, pair)
		w.WriteHeader(http.StatusOK)
	})
}

func handleLogout(as authService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Nothing to revoke without token, still clear client state
		refresh, err := as.GetRefresh(r)
		if err == nil {
			err = as.Logout(r.Context(), refresh)
			if err != nil {
				serviceError(w, err, logger)
				return
			}
		}

		as.ClearTokens(w)
		w.WriteHeader(http.StatusNoContent)
	})
}
