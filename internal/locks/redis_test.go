package locks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisAcquirer(t *testing.T) (*RedisAcquirer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedisAcquirer(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func TestRedisAcquirer_Exclusive(t *testing.T) {
	r, _ := newRedisAcquirer(t)
	ctx := context.Background()

	holder, err := r.TryAcquire(ctx, "c1", "mum", "Mum", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Holder{ID: "mum", Name: "Mum"}, holder)

	holder, err = r.TryAcquire(ctx, "c1", "dad", "Dad", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Holder{ID: "mum", Name: "Mum"}, holder)

	holder, err = r.TryAcquire(ctx, "c1", "mum", "Mum", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "mum", holder.ID)
}

func TestRedisAcquirer_Expiry(t *testing.T) {
	r, mr := newRedisAcquirer(t)
	ctx := context.Background()

	_, err := r.TryAcquire(ctx, "c1", "mum", "Mum", time.Minute)
	require.NoError(t, err)

	mr.FastForward(time.Minute + time.Second)

	holder, err := r.TryAcquire(ctx, "c1", "dad", "Dad", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "dad", holder.ID)
}

func TestRedisAcquirer_ReleaseChecksOwner(t *testing.T) {
	r, mr := newRedisAcquirer(t)
	ctx := context.Background()

	_, err := r.TryAcquire(ctx, "c1", "mum", "Mum", time.Minute)
	require.NoError(t, err)

	require.NoError(t, r.Release(ctx, "c1", "mu"))
	assert.True(t, mr.Exists(keyPrefix+"c1"), "a reader id prefix cannot release")
	require.NoError(t, r.Release(ctx, "c1", "dad"))
	assert.True(t, mr.Exists(keyPrefix+"c1"), "a different reader cannot release")

	require.NoError(t, r.Release(ctx, "c1", "mum"))
	assert.False(t, mr.Exists(keyPrefix+"c1"))
}

func TestManager_TryAcquireWithRedis(t *testing.T) {
	r, _ := newRedisAcquirer(t)
	m, gw, _ := newManager(t, WithAtomicAcquirer(r))
	ctx := context.Background()

	lock, err := m.TryAcquire(ctx, "c1", "mum", "Mum")
	require.NoError(t, err)
	assert.Equal(t, "mum", lock.ReaderID)

	_, err = m.TryAcquire(ctx, "c1", "dad", "Dad")
	assert.ErrorIs(t, err, ErrHeld)
	assert.Contains(t, err.Error(), "held by Mum")

	m.Release(ctx, "c1", "mum")
	_, err = m.TryAcquire(ctx, "c1", "dad", "Dad")
	assert.NoError(t, err)
	assert.Equal(t, 1, gw.Count("recording_locks"))
}

func TestNewRedisAcquirer_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisAcquirer(context.Background(), "redis://"+addr)
	assert.Error(t, err)
}
