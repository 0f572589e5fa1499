package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCacheSetGet(t *testing.T) {
	t.Parallel()

	db, mock := redismock.NewClientMock()
	rc := NewRedisCacheFromClient(db, "charts")
	ctx := context.Background()

	mock.ExpectSet("charts:k", []byte(`{"t":1,"p":2.5}`), time.Minute).SetVal("OK")
	require.NoError(t, rc.Set(ctx, "k", point{Time: 1, Price: 2.5}, time.Minute))

	mock.ExpectGet("charts:k").SetVal(`{"t":1,"p":2.5}`)
	var got point
	require.NoError(t, rc.Get(ctx, "k", &got))
	assert.Equal(t, point{Time: 1, Price: 2.5}, got)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCacheMiss(t *testing.T) {
	t.Parallel()

	db, mock := redismock.NewClientMock()
	rc := NewRedisCacheFromClient(db, "charts")

	mock.ExpectGet("charts:absent").RedisNil()
	var got point
	assert.ErrorIs(t, rc.Get(context.Background(), "absent", &got), ErrCacheMiss)

	mock.ExpectGet("charts:broken").SetErr(errors.New("conn reset"))
	err := rc.Get(context.Background(), "broken", &got)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCacheDeleteAndExists(t *testing.T) {
	t.Parallel()

	db, mock := redismock.NewClientMock()
	rc := NewRedisCacheFromClient(db, "")
	ctx := context.Background()

	mock.ExpectUnlink("a", "b").SetVal(2)
	require.NoError(t, rc.Delete(ctx, "a", "b"))
	require.NoError(t, rc.Delete(ctx))

	mock.ExpectExists("a").SetVal(0)
	ok, err := rc.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLayeredCacheFillsMemoryFromRedis(t *testing.T) {
	t.Parallel()

	db, mock := redismock.NewClientMock()
	lc := NewLayeredCache(NewRedisCacheFromClient(db, "charts"), WithLayeredMemoryTTL(time.Minute))
	defer lc.memCache.Close()
	ctx := context.Background()

	mock.ExpectGet("charts:k").SetVal(`{"t":7,"p":1}`)
	var got point
	require.NoError(t, lc.Get(ctx, "k", &got))
	assert.Equal(t, int64(7), got.Time)

	// second read is served from memory; no further redis expectation
	got = point{}
	require.NoError(t, lc.Get(ctx, "k", &got))
	assert.Equal(t, int64(7), got.Time)

	assert.NoError(t, mock.ExpectationsWereMet())
}
