package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvsync/backend/internal/store"
)

func TestSessionStorePutGetDelete(t *testing.T) {
	env := newTestEnv(t)
	s := NewSessionStore(env.store)
	ctx := context.Background()
	created := env.clock.Now()

	require.NoError(t, s.Put(ctx, "tok-1", "alice", created, created.Add(time.Hour)))

	rec, err := s.Get(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Username)
	assert.Equal(t, created.UnixMilli(), rec.Created)
	assert.Equal(t, time.Hour, env.mr.TTL(sessionPrefix+"tok-1"))

	require.NoError(t, s.Delete(ctx, "tok-1"))
	_, err = s.Get(ctx, "tok-1")
	assert.True(t, store.IsNotFound(err))
}

func TestSessionStoreSkipsExpiredWrites(t *testing.T) {
	env := newTestEnv(t)
	s := NewSessionStore(env.store)
	now := env.clock.Now()

	require.NoError(t, s.Put(context.Background(), "tok", "alice", now, now))
	assert.Empty(t, env.mr.Keys())
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "***", maskToken("short"))
	assert.Equal(t, "abcdefgh...uvwxyz", maskToken("abcdefghijklmnopqrstuvwxyz"))
}
