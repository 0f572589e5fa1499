package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

type point struct {
	Time  int64   `json:"t"`
	Price float64 `json:"p"`
}

func TestMemoryCacheTypedRoundTrip(t *testing.T) {
	t.Parallel()

	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	in := []point{{Time: 1, Price: 10.5}, {Time: 2, Price: 11}}
	require.NoError(t, mc.Set(ctx, "k", in, time.Minute))

	var out []point
	require.NoError(t, mc.Get(ctx, "k", &out))
	assert.Equal(t, in, out)

	var s string
	require.NoError(t, mc.Set(ctx, "s", "raw", time.Minute))
	require.NoError(t, mc.Get(ctx, "s", &s))
	assert.Equal(t, "raw", s)
}

func TestMemoryCacheMissAndDelete(t *testing.T) {
	t.Parallel()

	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	var v int
	assert.ErrorIs(t, mc.Get(ctx, "absent", &v), ErrCacheMiss)

	require.NoError(t, mc.Set(ctx, "a", 1, 0))
	ok, err := mc.Exists(ctx, "a", "b")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, mc.Delete(ctx, "a"))
	ok, err = mc.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheExpiry(t *testing.T) {
	t.Parallel()

	clock := &fakeNow{t: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)}
	mc := NewMemoryCache(WithMemoryClock(clock.Now))
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "k", 42, time.Minute))
	clock.Advance(30 * time.Second)

	var v int
	require.NoError(t, mc.Get(ctx, "k", &v))
	assert.Equal(t, 42, v)

	clock.Advance(time.Minute)
	assert.ErrorIs(t, mc.Get(ctx, "k", &v), ErrCacheMiss)
	assert.Equal(t, 0, mc.Len())
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	clock := &fakeNow{t: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)}
	mc := NewMemoryCache(WithMemoryMaxSize(2), WithMemoryClock(clock.Now))
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", 1, time.Hour))
	clock.Advance(time.Second)
	require.NoError(t, mc.Set(ctx, "b", 2, time.Hour))
	clock.Advance(time.Second)

	var v int
	require.NoError(t, mc.Get(ctx, "a", &v))
	clock.Advance(time.Second)

	require.NoError(t, mc.Set(ctx, "c", 3, time.Hour))
	assert.Equal(t, 2, mc.Len())
	assert.ErrorIs(t, mc.Get(ctx, "b", &v), ErrCacheMiss)
	require.NoError(t, mc.Get(ctx, "a", &v))
	assert.Equal(t, 1, v)
}

func TestMemoryCacheCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	mc := NewMemoryCache()
	require.NoError(t, mc.Close())
	require.NoError(t, mc.Close())
}

func TestGenerateKeyWithParams(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "history:NIFTY:5", GenerateKeyWithParams("history", "NIFTY", 5))
	assert.Equal(t, "history:abc", GenerateKey("history", "abc"))
	assert.Len(t, HashKey("x"), 32)
}
