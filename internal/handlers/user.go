package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/nkiryanov/gophauth/internal/handlers/render"
	"github.com/nkiryanov/gophauth/internal/handlers/userctx"
	"github.com/nkiryanov/gophauth/internal/logger"
)

func handleUserMe() http.Handler {
	type response struct {
		ID       uuid.UUID `json:"id"`
		Username string    `json:"username"`
		Roles    []string  `json:"roles"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())
		render.JSON(w, response{ID: user.ID, Username: user.Username, Roles: user.Roles})
	})
}

func handleChangePassword(us userService, logger logger.Logger) http.Handler {
	type request struct {
		OldPassword string `json:"old_password" validate:"required"`
		NewPassword string `json:"new_password" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		err = us.ChangePassword(r.Context(), user.ID, data.OldPassword, data.NewPassword)
		if err != nil {
			serviceError(w, err, logger)
			return
		}

		logger.Info("Password changed, sessions revoked", "user_id", user.ID)
		w.WriteHeader(http.StatusNoContent)
	})
}
