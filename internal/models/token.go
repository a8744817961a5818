package models

import (
	"time"

	"github.com/google/uuid"
)

// Server side state of an issued refresh token
// Opaque token value is never stored, only its hash
type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	FamilyID  uuid.UUID
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time // nil if token not used
	RevokedAt *time.Time // nil if token not revoked
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issues by TokenManager, AuthService
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}

// Validated access token payload
type AccessClaims struct {
	TokenID   string
	UserID    uuid.UUID
	FamilyID  uuid.UUID
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
