package revocation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gophauth/internal/testutil"
)

func TestRedisDenylist(t *testing.T) {
	t.Run("not revoked by default", func(t *testing.T) {
		rs := testutil.StartRedis(t)
		d := NewRedisDenylist(rs.Client)

		revoked, err := d.IsRevoked(t.Context(), uuid.New())

		require.NoError(t, err)
		require.False(t, revoked)
	})

	t.Run("revoke family", func(t *testing.T) {
		rs := testutil.StartRedis(t)
		d := NewRedisDenylist(rs.Client)
		family := uuid.New()

		err := d.RevokeFamily(t.Context(), family, time.Minute)
		require.NoError(t, err)

		revoked, err := d.IsRevoked(t.Context(), family)
		require.NoError(t, err)
		require.True(t, revoked, "family has to be revoked")

		other, err := d.IsRevoked(t.Context(), uuid.New())
		require.NoError(t, err)
		require.False(t, other, "other families must not be affected")

		require.Equal(t, time.Minute, rs.Server.TTL("gophauth:revoked:family:"+family.String()))
	})

	t.Run("revocation expires", func(t *testing.T) {
		rs := testutil.StartRedis(t)
		d := NewRedisDenylist(rs.Client)
		family := uuid.New()

		err := d.RevokeFamily(t.Context(), family, time.Minute)
		require.NoError(t, err)
		rs.Server.FastForward(time.Minute + time.Second)

		revoked, err := d.IsRevoked(t.Context(), family)
		require.NoError(t, err)
		require.False(t, revoked, "revocation must disappear with ttl")
	})

	t.Run("zero ttl is ignored", func(t *testing.T) {
		rs := testutil.StartRedis(t)
		d := NewRedisDenylist(rs.Client)
		family := uuid.New()

		err := d.RevokeFamily(t.Context(), family, 0)
		require.NoError(t, err)

		revoked, err := d.IsRevoked(t.Context(), family)
		require.NoError(t, err)
		require.False(t, revoked)
	})

	t.Run("redis unavailable", func(t *testing.T) {
		rs := testutil.StartRedis(t)
		d := NewRedisDenylist(rs.Client)
		rs.Server.Close()

		_, err := d.IsRevoked(t.Context(), uuid.New())

		require.Error(t, err)
	})
}

func TestNop(t *testing.T) {
	var d Denylist = Nop{}
	family := uuid.New()

	require.NoError(t, d.RevokeFamily(t.Context(), family, time.Minute))

	revoked, err := d.IsRevoked(t.Context(), family)
	require.NoError(t, err)
	require.False(t, revoked, "nop denylist never revokes")
}
