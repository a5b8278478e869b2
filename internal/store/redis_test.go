package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/models"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisGetSetRoundTrip(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()

	rec := models.SessionRecord{UserID: "u1", Token: "t1", LastActivity: time.UnixMilli(1700000000000).UTC()}
	require.NoError(t, s.Set(ctx, "session:u1", rec, 0))

	var got models.SessionRecord
	ok, err := s.Get(ctx, "session:u1", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, got)
}

func TestRedisGetMissing(t *testing.T) {
	s, _ := newTestRedis(t)

	var got models.SessionRecord
	ok, err := s.Get(context.Background(), "nope", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisSetNilDeletes(t *testing.T) {
	s, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	require.True(t, mr.Exists("k"))

	var rec *models.SessionRecord
	require.NoError(t, s.Set(ctx, "k", rec, 0))
	assert.False(t, mr.Exists("k"))

	require.NoError(t, s.Set(ctx, "k2", "v", 0))
	require.NoError(t, s.Set(ctx, "k2", nil, 0))
	assert.False(t, mr.Exists("k2"))
}

func TestRedisSetTTL(t *testing.T) {
	s, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	mr.FastForward(2 * time.Minute)

	var got string
	ok, err := s.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisDeleteAndSize(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", 1, 0))
	require.NoError(t, s.Set(ctx, "b", 2, 0))
	n, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "missing"))
	n, err = s.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisIncrIsAtomic(t *testing.T) {
	s, mr := newTestRedis(t)
	ctx := context.Background()

	const workers, perWorker = 10, 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := s.Incr(ctx, "counter", time.Minute); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	n, err := s.Incr(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker+1), n)
	assert.Greater(t, mr.TTL("counter"), time.Duration(0))
}

func TestRedisUpdateWritesBack(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "session:u1", models.SessionRecord{UserID: "u1", Token: "t1"}, time.Hour))

	var rec models.SessionRecord
	err := s.Update(ctx, "session:u1", &rec, time.Hour, func(found bool) (bool, error) {
		require.True(t, found)
		rec.LastActivity = time.UnixMilli(1700000000000).UTC()
		return true, nil
	})
	require.NoError(t, err)

	var got models.SessionRecord
	_, err = s.Get(ctx, "session:u1", &got)
	require.NoError(t, err)
	assert.Equal(t, "t1", got.Token)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), got.LastActivity)
}

func TestRedisUpdateMissingKey(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()

	var rec models.SessionRecord
	err := s.Update(ctx, "session:ghost", &rec, time.Hour, func(found bool) (bool, error) {
		assert.False(t, found)
		return false, nil
	})
	require.NoError(t, err)

	n, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisUpdateRetriesAfterConcurrentWrite(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "session:u1", models.SessionRecord{UserID: "u1", Token: "old"}, time.Hour))

	var (
		rec   models.SessionRecord
		calls int
	)
	err := s.Update(ctx, "session:u1", &rec, time.Hour, func(found bool) (bool, error) {
		calls++
		if calls == 1 {
			// Another writer replaces the record between read and write.
			require.NoError(t, s.Set(ctx, "session:u1", models.SessionRecord{UserID: "u1", Token: "new"}, time.Hour))
		}
		rec.LastActivity = time.UnixMilli(1700000000000).UTC()
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	var got models.SessionRecord
	_, err = s.Get(ctx, "session:u1", &got)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Token)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), got.LastActivity)
}

func TestRedisUpdateGivesUpOnConstantConflict(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", 0, 0))

	var n int
	err := s.Update(ctx, "k", &n, 0, func(bool) (bool, error) {
		require.NoError(t, s.Set(ctx, "k", n+1, 0))
		return true, nil
	})
	require.ErrorIs(t, err, ErrConflict)
}
