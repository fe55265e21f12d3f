package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routewise/routewise/internal/distance"
	"github.com/routewise/routewise/internal/distance/redisstore"
	"github.com/routewise/routewise/internal/geo"
)

func newStore(t *testing.T) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisstore.New(redisstore.Config{Client: client}), mr
}

func TestStore_SetAndGet(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	fetched := time.Now().Truncate(time.Second)
	entry := distance.CacheEntry{
		Measurement: distance.Measurement{Meters: 1234.5, Seconds: 321},
		FetchedAt:   fetched,
	}
	require.NoError(t, store.Set(ctx, "driving:1,2:3,4", entry, time.Hour))

	assert.True(t, mr.Exists(redisstore.DefaultKeyPrefix+"driving:1,2:3,4"))

	got, err := store.Get(ctx, "driving:1,2:3,4")
	require.NoError(t, err)
	assert.InDelta(t, 1234.5, got.Meters, 1e-9)
	assert.InDelta(t, 321.0, got.Seconds, 1e-9)
	assert.True(t, fetched.Equal(got.FetchedAt))
}

func TestStore_Miss(t *testing.T) {
	store, _ := newStore(t)

	_, err := store.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, distance.ErrCacheMiss)
}

func TestStore_Expiry(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", distance.CacheEntry{FetchedAt: time.Now()}, time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, distance.ErrCacheMiss)
}

func TestStore_BacksCachedService(t *testing.T) {
	store, _ := newStore(t)

	calls := 0
	inner := distance.Func(func(_ context.Context, _, _ geo.Coordinate, _ distance.Mode) (distance.Measurement, error) {
		calls++
		return distance.Measurement{Meters: 900, Seconds: 120}, nil
	})

	svc := distance.NewCached(distance.CacheConfig{
		Service: inner,
		Store:   store,
		Logger:  zerolog.Nop(),
	})

	a := geo.Coordinate{Lat: 52.37, Lon: 4.90}
	b := geo.Coordinate{Lat: 52.09, Lon: 5.11}

	for i := 0; i < 3; i++ {
		m, err := svc.Distance(context.Background(), a, b, distance.ModeDriving)
		require.NoError(t, err)
		assert.InDelta(t, 900.0, m.Meters, 1e-9)
	}
	assert.Equal(t, 1, calls)
}

func TestStore_Ping(t *testing.T) {
	store, _ := newStore(t)
	assert.NoError(t, store.Ping(context.Background()))
}
