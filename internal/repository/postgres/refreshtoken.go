package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const tokenColumns = `id, user_id, family_id, token_hash, created_at, expires_at, used_at, revoked_at`

const saveToken = `-- name: SaveRefreshToken
INSERT INTO refresh_tokens (` + tokenColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + tokenColumns

func (r *RefreshTokenRepo) Save(ctx context.Context, t models.RefreshToken) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, saveToken, t.ID, t.UserID, t.FamilyID, t.TokenHash, t.CreatedAt, t.ExpiresAt, t.UsedAt, t.RevokedAt)
	token, err := pgx.CollectOneRow(rows, rowToToken)
	if err != nil {
		return token, fmt.Errorf("db error: %w", err)
	}
	return token, nil
}

const getToken = `-- name: GetRefreshToken
SELECT ` + tokenColumns + `
FROM refresh_tokens
WHERE token_hash = $1
`

// Get token
// It should return result even it expired, used or revoked already
func (r *RefreshTokenRepo) Get(ctx context.Context, tokenHash string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getToken, tokenHash)
	token, err := pgx.CollectOneRow(rows, rowToToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const markTokenUsed = `-- name: MarkRefreshTokenUsed
UPDATE refresh_tokens
SET used_at = $2
WHERE token_hash = $1
  AND used_at IS NULL
  AND revoked_at IS NULL
  AND expires_at > $2
RETURNING ` + tokenColumns

// Mark token used only if it is still usable
// Concurrent callers are serialized by the row lock: the update predicate is re-checked
// after the first writer commits, so only one of them gets the row back
func (r *RefreshTokenRepo) MarkUsed(ctx context.Context, tokenHash string, now time.Time) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, markTokenUsed, tokenHash, now)
	token, err := pgx.CollectOneRow(rows, rowToToken)

	switch {
	case err == nil:
		return token, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("db error: %w", err)
	}

	// Nothing was marked: read the current state to tell why
	token, err = r.Get(ctx, tokenHash)
	if err != nil {
		return token, err
	}

	switch {
	case token.RevokedAt != nil:
		return token, fmt.Errorf("repo error: %w", apperrors.ErrTokenRevoked)
	case token.UsedAt != nil:
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenReused)
	case !token.ExpiresAt.After(now):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrTokenExpired)
	default:
		// Lost the race to a writer whose commit is not visible yet
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenReused)
	}
}

const revokeFamily = `-- name: RevokeFamily
UPDATE refresh_tokens
SET revoked_at = $2
WHERE family_id = $1
  AND revoked_at IS NULL
`

func (r *RefreshTokenRepo) RevokeFamily(ctx context.Context, familyID uuid.UUID, at time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeFamily, familyID, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const revokeUser = `-- name: RevokeUser
WITH revoked AS (
	UPDATE refresh_tokens
	SET revoked_at = $2
	WHERE user_id = $1
	  AND revoked_at IS NULL
	RETURNING family_id
)
SELECT DISTINCT family_id FROM revoked
`

func (r *RefreshTokenRepo) RevokeUser(ctx context.Context, userID uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	rows, _ := r.DB.Query(ctx, revokeUser, userID, at)
	families, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return families, nil
}

const deleteExpired = `-- name: DeleteExpiredRefreshTokens
DELETE FROM refresh_tokens
WHERE expires_at < $1
`

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpired, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

func rowToToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(&t.ID, &t.UserID, &t.FamilyID, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt, &t.UsedAt, &t.RevokedAt)
	return t, err
}
