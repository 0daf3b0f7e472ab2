package remotestore

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStoreFromURL("redis://"+mr.Addr(), WithKeyPrefix("shop"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))

	got, err := store.SessionID(ctx, "ana")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, store.SetSessionID(ctx, "ana", "s-1"))
	assert.Equal(t, "s-1", mr.HGet("shop:session:ana", FieldSessionID))

	got, err = store.SessionID(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, "s-1", got)

	require.NoError(t, store.ClearSessionID(ctx, "ana"))
	assert.True(t, mr.Exists("shop:session:ana"), "document is kept")
	assert.Equal(t, "", mr.HGet("shop:session:ana", FieldSessionID))
}

func TestRedisStoreDefaultPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client)
	require.NoError(t, store.SetSessionID(context.Background(), "ben", "s-9"))
	assert.Equal(t, "s-9", mr.HGet("stocktake:session:ben", FieldSessionID))
	assert.NoError(t, store.Close(), "borrowed clients are not closed")
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStoreFromURL("redis://" + mr.Addr())
	require.NoError(t, err)
	defer store.Close()

	mr.Close()
	assert.Error(t, store.ClearSessionID(context.Background(), "ana"))
	assert.Error(t, store.Ping(context.Background()))
}

func TestNewRedisStoreFromURLRejectsBadURL(t *testing.T) {
	_, err := NewRedisStoreFromURL("http://not-redis")
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, m.SetSessionID(ctx, "ana", "s-1"))
	got, _ := m.SessionID(ctx, "ana")
	assert.Equal(t, "s-1", got)

	boom := errors.New("offline")
	m.FailWith(boom)
	assert.ErrorIs(t, m.ClearSessionID(ctx, "ana"), boom)
	got, _ = m.SessionID(ctx, "ana")
	assert.Equal(t, "s-1", got, "failed write leaves the document alone")
	assert.Equal(t, 2, m.Writes())

	m.FailWith(nil)
	require.NoError(t, m.ClearSessionID(ctx, "ana"))
	got, _ = m.SessionID(ctx, "ana")
	assert.Empty(t, got)
}

func TestNop(t *testing.T) {
	var n Nop
	assert.NoError(t, n.SetSessionID(context.Background(), "a", "b"))
	assert.NoError(t, n.ClearSessionID(context.Background(), "a"))
}
