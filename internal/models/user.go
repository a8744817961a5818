package models

import (
	"time"

	"github.com/google/uuid"
)

const RoleUser = "user"

type User struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	Username       string
	HashedPassword string
	Roles          []string
	DisabledAt     *time.Time // nil if user is active
}

func (u User) IsDisabled() bool {
	return u.DisabledAt != nil
}
