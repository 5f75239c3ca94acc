package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/kvsync/backend/internal/config"
	"github.com/kvsync/backend/internal/store"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "test-jwt-secret"
	testAdmin    = "admin"
	testAdminPW  = "correct-pw"
	testUser     = "alice"
	testUserPW   = "alice-password"
	testTokenTTL = 4 * time.Hour
)

var errStoreDown = errors.New("store down")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// faultyStore fails reads of keys that start with any configured prefix.
type faultyStore struct {
	store.Store

	mu       sync.Mutex
	prefixes []string
}

func (f *faultyStore) failOn(prefixes ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefixes = prefixes
}

func (f *faultyStore) failing(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

func (f *faultyStore) Get(ctx context.Context, key string) (string, error) {
	if f.failing(key) {
		return "", errStoreDown
	}
	return f.Store.Get(ctx, key)
}

func (f *faultyStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if f.failing(key) {
		return errStoreDown
	}
	return f.Store.Put(ctx, key, value, ttl)
}

type testEnv struct {
	mr    *miniredis.Miniredis
	store *faultyStore
	clock *testClock
	cfg   config.AuthConfig
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return &testEnv{
		mr:    mr,
		store: &faultyStore{Store: store.NewRedisFromClient(client)},
		clock: newTestClock(),
		cfg:   testAuthConfig(),
	}
}

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:           testSecret,
		TokenTTL:            testTokenTTL.String(),
		VersionCacheTTL:     "5m",
		RevocationCacheSize: "100",
		PrimaryUsername:     testAdmin,
		PrimaryPassword:     testAdminPW,
		AdminUsername:       testAdmin,
	}
}

// replica builds an independent AuthService (own caches) over the shared store.
func (e *testEnv) replica(t *testing.T, opts ...Option) *AuthService {
	t.Helper()

	opts = append([]Option{WithClock(e.clock.Now)}, opts...)
	svc, err := NewAuthService(e.store, e.cfg, opts...)
	require.NoError(t, err)
	return svc
}

func (e *testEnv) putPlainUser(t *testing.T, username, password string) {
	t.Helper()
	require.NoError(t, e.mr.Set(credentialPrefix+username, `{"username":"`+username+`","password":"`+password+`"}`))
}
