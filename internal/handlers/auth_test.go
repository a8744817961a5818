package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/gophauth/internal/logger"
	"github.com/nkiryanov/gophauth/internal/models"
	"github.com/nkiryanov/gophauth/internal/repository"
	"github.com/nkiryanov/gophauth/internal/repository/postgres"
	"github.com/nkiryanov/gophauth/internal/revocation"
	"github.com/nkiryanov/gophauth/internal/service/auth"
	"github.com/nkiryanov/gophauth/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/gophauth/internal/service/user"
	"github.com/nkiryanov/gophauth/internal/testutil"
)

type response struct {
	code    int
	body    string
	header  http.Header
	cookies []*http.Cookie
}

// Do request and read the whole response
func do(t *testing.T, req *http.Request) response {
	t.Helper()

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck

	return response{code: resp.StatusCode, body: string(body), header: resp.Header, cookies: resp.Cookies()}
}

func post(t *testing.T, url string, data string) response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return do(t, req)
}

func Test_Router(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	// Run http server with production services working in transaction
	withServer := func(t *testing.T, fn func(url string, as *auth.AuthService, storage repository.Storage)) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			rs := testutil.StartRedis(t)
			hasher := auth.BcryptHasher{Cost: bcrypt.MinCost}

			tokenManager, err := tokenmanager.New(tokenmanager.Config{SecretKey: "test-secret"}, storage, revocation.NewRedisDenylist(rs.Client))
			require.NoError(t, err, "token manager should be created without errors")

			as, err := auth.NewService(auth.Config{Hasher: hasher}, tokenManager, storage)
			require.NoError(t, err, "auth service starting error", err)
			us := user.NewService(hasher, storage, tokenManager, logger.NewNoOpLogger())

			srv := httptest.NewServer(NewRouter(as, us, logger.NewNoOpLogger()))
			defer srv.Close()

			fn(srv.URL, as, storage)
		})
	}

	requireTokens := func(t *testing.T, resp response) {
		t.Helper()

		require.Equal(t, 1, len(resp.cookies))
		cookie := resp.cookies[0]
		require.Equal(t, "refresh_token", cookie.Name)
		require.Equal(t, cookie.HttpOnly, true, "refresh cookie should be HttpOnly")
		require.Equal(t, "/", cookie.Path, "refresh cookie should be available on / path")
		require.Equal(t, http.SameSiteStrictMode, cookie.SameSite, "refresh cookie should be SameSite Strict")
		require.InDelta(t, (24 * time.Hour).Seconds(), cookie.MaxAge, 1, "max age should be refresh TTL with 1 second delta")
		require.NotEmpty(t, cookie.Value, "refresh cookie should not be empty")

		require.True(t, strings.HasPrefix(resp.header.Get("Authorization"), "Bearer "))
	}

	requireAuthenticationResponse := func(t *testing.T, resp response) {
		t.Helper()

		var body struct {
			AccessToken      string    `json:"access_token"`
			AccessExpiresAt  time.Time `json:"access_expires_at"`
			RefreshToken     string    `json:"refresh_token"`
			RefreshExpiresAt time.Time `json:"refresh_expires_at"`
			TokenType        string    `json:"token_type"`
		}
		require.NoError(t, json.Unmarshal([]byte(resp.body), &body))

		require.Equal(t, "Bearer", body.TokenType)
		require.Equal(t, "Bearer "+body.AccessToken, resp.header.Get("Authorization"), "body and header tokens should match")
		require.Equal(t, resp.cookies[0].Value, body.RefreshToken, "body and cookie tokens should match")
		require.True(t, body.AccessExpiresAt.Before(body.RefreshExpiresAt), "access token should expire before refresh one")
	}

	refreshRequest := func(t *testing.T, url string, refresh string) *http.Request {
		req, err := http.NewRequest(http.MethodPost, url+"/refresh_token", nil)
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: "refresh_token", Value: refresh})
		return req
	}

	t.Run("register ok", func(t *testing.T) {
		withServer(t, func(url string, _ *auth.AuthService, _ repository.Storage) {
			resp := post(t, url+"/register", `{"username": "nk-user", "password": "StrongEnoughPassword"}`)

			require.Equalf(t, http.StatusOK, resp.code, "not expected code. Body: %s", resp.body)
			requireTokens(t, resp)
			requireAuthenticationResponse(t, resp)
		})
	})

	t.Run("register existed user fails", func(t *testing.T) {
		withServer(t, func(url string, as *auth.AuthService, _ repository.Storage) {
			_, err := as.Register(t.Context(), "nk-user", "StrongEnoughPassword")
			require.NoError(t, err)

			resp := post(t, url+"/register", `{"username": "nk-user", "password": "StrongEnoughPassword"}`)

			require.Equalf(t, http.StatusConflict, resp.code, "not expected code. Body: %s", resp.body)
			require.JSONEq(t, `{"error": "service_error", "message": "User already exists"}`, resp.body)
			require.Equal(t, 0, len(resp.cookies))
			require.Empty(t, resp.header.Get("Authorization"), "Authorization header should not be set for failed register")
		})
	})

	t.Run("register invalid request", func(t *testing.T) {
		withServer(t, func(url string, _ *auth.AuthService, _ repository.Storage) {
			tests := []struct {
				name     string
				data     string
				expected string
			}{
				{
					name:     "not json",
					data:     `not-json`,
					expected: `{"error": "decoding_failed", "message": "Failed to parse JSON: invalid character 'o' in literal null (expecting 'u')"}`,
				},
				{
					name:     "no password",
					data:     `{"username": "nk-user"}`,
					expected: `{"error": "validation_failed", "message": "Request validation failed", "fields": {"password": "This field is required"}}`,
				},
				{
					name:     "weak password",
					data:     `{"username": "nk-user", "password": "short"}`,
					expected: `{"error": "service_error", "message": "Username or password does not meet requirements"}`,
				},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					resp := post(t, url+"/register", tt.data)

					require.Equalf(t, http.StatusBadRequest, resp.code, "not expected code. Body: %s", resp.body)
					require.JSONEq(t, tt.expected, resp.body)
				})
			}
		})
	})

	t.Run("login ok", func(t *testing.T) {
		withServer(t, func(url string, as *auth.AuthService, _ repository.Storage) {
			_, err := as.Register(t.Context(), "nk-user", "StrongEnoughPassword")
			require.NoError(t, err)

			resp := post(t, url+"/login", `{"username": "nk-user", "password": "StrongEnoughPassword"}`)

			require.Equalf(t, http.StatusOK, resp.code, "not expected code. Body: %s", resp.body)
			requireTokens(t, resp)
			requireAuthenticationResponse(t, resp)
		})
	})

	t.Run("login failed", func(t *testing.T) {
		withServer(t, func(url string, as *auth.AuthService, _ repository.Storage) {
			_, err := as.Register(t.Context(), "nk-user", "StrongEnoughPassword")
			require.NoError(t, err)

			for _, data := range []string{
				`{"username": "nk-user", "password": "WrongPassword"}`,
				`{"username": "unknown-user", "password": "StrongEnoughPassword"}`,
			} {
				resp := post(t, url+"/login", data)

				require.Equalf(t, http.StatusUnauthorized, resp.code, "not expected code. Body: %s", resp.body)
				require.JSONEq(t, `{"error": "service_error", "message": "Invalid username or password"}`, resp.body)
				require.Equal(t, 0, len(resp.cookies), "no cookies should be set on login error")
				require.Empty(t, resp.header.Get("Authorization"), "Authorization header should not be set")
			}
		})
	})

	t.Run("login disabled user", func(t *testing.T) {
		withServer(t, func(url string, as *auth.AuthService, storage repository.Storage) {
			_, err := as.Register(t.Context(), "nk-user", "StrongEnoughPassword")
			require.NoError(t, err)
			u, err := storage.User().GetUserByUsername(t.Context(), "nk-user")
			require.NoError(t, err)
			_, err = storage.User().Disable(t.Context(), u.ID, time.Now())
			require.NoError(t, err)

			resp := post(t, url+"/login", `{"username": "nk-user", "password": "StrongEnoughPassword"}`)

			require.Equalf(t, http.StatusForbidden, resp.code, "not expected code. Body: %s", resp.body)
			require.JSONEq(t, `{"error": "service_error", "message": "User is disabled"}`, resp.body)
		})
	})

	t.Run("refresh token ok", func(t *testing.T) {
		withServer(t, func(url string, as *auth.AuthService, _ repository.Storage) {
			pair, err := as.Register(t.Context(), "nk-user", "StrongEnoughPassword")
			require.NoError(t, err)

			resp := do(t, refreshRequest(t, url, pair.Refresh.Value))

			require.Equalf(t, http.StatusOK, resp.code, "not expected code. Body: %s", resp.body)
			require.Empty(t, resp.body, "refresh response has no body")
			requireTokens(t, resp)
			require.NotEqual(t, pair.Refresh.Value, resp.cookies[0].Value, "refresh token should be changed after refresh")
			require.NotEqual(t, "Bearer "+pair.Access.Value, resp.header.Get("Authorization"), "access token should be changed after refresh")
		})
	})

	t.Run("refresh token from header ok", func(t *testing.T) {
		withServer(t, func(url string, as *auth.AuthService, _ repository.Storage) {
			pair, err := as.Register(t.Context(), "nk-user", "StrongEnoughPassword")
			require.NoError(t, err)

			req, err := http.NewRequest(http.MethodPost, url+"/refresh_token", nil)
			require.NoError(t, err)
			req.Header.Set("Authorization", "Bearer "+pair.Refresh.Value)
			resp := do(t, req)

			require.Equalf(t, http.StatusOK, resp.code, "not expected code. Body: %s", resp.body)
			requireTokens(t, resp)
		})
	})

	t.Run("refresh twice fail", func(t *testing.T) {
		withServer(t, func(url string, as *auth.AuthService, _ repository.Storage) {
			pair, err := as.Register(t.Context(), "nk-user", "StrongEnoughPassword")
			require.NoError(t, err)

			resp := do(t, refreshRequest(t, url, pair.Refresh.Value))
			require.Equalf(t, http.StatusOK, resp.code, "not expected code. Body: %s", resp.body)
			rotated := resp.cookies[0].Value

			// Try to refresh tokens second time
			resp = do(t, refreshRequest(t, url, pair.Refresh.Value))
			require.Equalf(t, http.StatusUnauthorized, resp.code, "not expected code. Body: %s", resp.body)
			require.JSONEq(t, `{"error": "service_error", "message": "Refresh token reused"}`, resp.body)

			// Token issued after rotation is revoked too
			resp = do(t, refreshRequest(t, url, rotated))
			require.Equalf(t, http.StatusUnauthorized, resp.code, "not expected code. Body: %s", resp.body)
			require.JSONEq(t, `{"error": "service_error", "message": "Token revoked"}`, resp.body)
		})
	})

	t.Run("refresh without token fail", func(t *testing.T) {
		withServer(t, func(url string, _ *auth.AuthService, _ repository.Storage) {
			resp := post(t, url+"/refresh_token", "")

			require.Equalf(t, http.StatusUnauthorized, resp.code, "not expected code. Body: %s", resp.body)
			require.JSONEq(t, `{"error": "service_error", "message": "Token not found"}`, resp.body)
		})
	})

	t.Run("logout", func(t *testing.T) {
		withServer(t, func(url string, as *auth.AuthService, _ repository.Storage) {
			pair, err := as.Register(t.Context(), "nk-user", "StrongEnoughPassword")
			require.NoError(t, err)

			req, err := http.NewRequest(http.MethodPost, url+"/logout", nil)
			require.NoError(t, err)
			as.SetTokensToRequest(req, pair)
			resp := do(t, req)

			require.Equalf(t, http.StatusNoContent, resp.code, "not expected code. Body: %s", resp.body)
			require.Equal(t, 1, len(resp.cookies))
			require.Equal(t, "refresh_token", resp.cookies[0].Name)
			require.Negative(t, resp.cookies[0].MaxAge, "refresh cookie should be expired")

			resp = do(t, refreshRequest(t, url, pair.Refresh.Value))
			require.Equalf(t, http.StatusUnauthorized, resp.code, "not expected code. Body: %s", resp.body)

			// Logout without token is fine
			resp = post(t, url+"/logout", "")
			require.Equalf(t, http.StatusNoContent, resp.code, "not expected code. Body: %s", resp.body)
		})
	})

	t.Run("me", func(t *testing.T) {
		withServer(t, func(url string, as *auth.AuthService, _ repository.Storage) {
			pair, err := as.Register(t.Context(), "nk-user", "StrongEnoughPassword")
			require.NoError(t, err)

			req, err := http.NewRequest(http.MethodGet, url+"/me", nil)
			require.NoError(t, err)
			req.Header.Set("Authorization", "Bearer "+pair.Access.Value)
			resp := do(t, req)

			require.Equalf(t, http.StatusOK, resp.code, "not expected code. Body: %s", resp.body)
			var me struct {
				Username string   `json:"username"`
				Roles    []string `json:"roles"`
			}
			require.NoError(t, json.Unmarshal([]byte(resp.body), &me))
			require.Equal(t, "nk-user", me.Username)
			require.Equal(t, []string{models.RoleUser}, me.Roles)

			// Without token
			req, err = http.NewRequest(http.MethodGet, url+"/me", nil)
			require.NoError(t, err)
			resp = do(t, req)
			require.Equalf(t, http.StatusUnauthorized, resp.code, "not expected code. Body: %s", resp.body)
		})
	})

	t.Run("change password", func(t *testing.T) {
		withServer(t, func(url string, as *auth.AuthService, _ repository.Storage) {
			pair, err := as.Register(t.Context(), "nk-user", "StrongEnoughPassword")
			require.NoError(t, err)

			req, err := http.NewRequest(http.MethodPost, url+"/password", strings.NewReader(`{"old_password": "StrongEnoughPassword", "new_password": "EvenStrongerPassword"}`))
			require.NoError(t, err)
			req.Header.Set("Authorization", "Bearer "+pair.Access.Value)
			resp := do(t, req)
			require.Equalf(t, http.StatusNoContent, resp.code, "not expected code. Body: %s", resp.body)

			// Old session is revoked
			req, err = http.NewRequest(http.MethodGet, url+"/me", nil)
			require.NoError(t, err)
			req.Header.Set("Authorization", "Bearer "+pair.Access.Value)
			resp = do(t, req)
			require.Equalf(t, http.StatusUnauthorized, resp.code, "not expected code. Body: %s", resp.body)

			resp = post(t, url+"/login", `{"username": "nk-user", "password": "EvenStrongerPassword"}`)
			require.Equalf(t, http.StatusOK, resp.code, "not expected code. Body: %s", resp.body)
		})
	})
}
