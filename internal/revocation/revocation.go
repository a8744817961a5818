// Package revocation keeps revoked token families so stateless access tokens
// issued for them are rejected before they expire.
package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "gophauth:revoked:family:"

// Denylist of token families
type Denylist interface {
	// Deny family for ttl. Repeated calls extend the ttl
	RevokeFamily(ctx context.Context, familyID uuid.UUID, ttl time.Duration) error

	// Check whether family is denied
	IsRevoked(ctx context.Context, familyID uuid.UUID) (bool, error)
}

// Redis backed denylist: one key per revoked family, expired by redis itself
type RedisDenylist struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisDenylist(client redis.UniversalClient) *RedisDenylist {
	return &RedisDenylist{client: client, prefix: defaultKeyPrefix}
}

func (d *RedisDenylist) key(familyID uuid.UUID) string {
	return d.prefix + familyID.String()
}

func (d *RedisDenylist) RevokeFamily(ctx context.Context, familyID uuid.UUID, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	err := d.client.Set(ctx, d.key(familyID), time.Now().Unix(), ttl).Err()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (d *RedisDenylist) IsRevoked(ctx context.Context, familyID uuid.UUID) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(familyID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}
	return n > 0, nil
}

// Used when redis is not configured: access tokens stay valid until they expire
type Nop struct{}

func (Nop) RevokeFamily(context.Context, uuid.UUID, time.Duration) error { return nil }

func (Nop) IsRevoked(context.Context, uuid.UUID) (bool, error) { return false, nil }

// Connect to redis and check it is reachable
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis is not reachable. Err: %w", err)
	}

	return client, nil
}
