// Package userctx passes the authenticated user from middleware to handlers
package userctx

import (
	"context"
	"slices"

	"github.com/nkiryanov/gophauth/internal/models"
)

type ctxKey string

const userKey ctxKey = "user"

// Create a new context with the user
func New(ctx context.Context, u models.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// Extract the user from the context
func FromContext(ctx context.Context) (models.User, bool) {
	u, ok := ctx.Value(userKey).(models.User)
	return u, ok
}

// Whether context user has the role
func HasRole(ctx context.Context, role string) bool {
	u, ok := FromContext(ctx)
	return ok && slices.Contains(u.Roles, role)
}
