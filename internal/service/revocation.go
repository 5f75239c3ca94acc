package service

import (
	"context"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/kvsync/backend/internal/metrics"
	"github.com/kvsync/backend/internal/store"
	"github.com/sirupsen/logrus"
)

const revokedPrefix = "revoked:"

// RevocationRegistry is the deny-list of individually revoked tokens.
//
// Only positive answers are cached locally: a stale "revoked" is harmless,
// a stale "not revoked" is not. Cached entries hold the token's own expiry
// and are checked against the injected clock, so the LRU runs without its
// background expiry goroutine.
type RevocationRegistry struct {
	store     store.Store
	codec     *tokenCodec
	positives *lru.LRU[string, time.Time]
	now       func() time.Time
	metrics   *metrics.Auth
	log       logrus.FieldLogger
}

func newRevocationRegistry(st store.Store, codec *tokenCodec, cacheSize int, now func() time.Time, m *metrics.Auth, log logrus.FieldLogger) *RevocationRegistry {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	return &RevocationRegistry{
		store:     st,
		codec:     codec,
		positives: lru.NewLRU[string, time.Time](cacheSize, nil, 0),
		now:       now,
		metrics:   m,
		log:       log,
	}
}

// Revoke records token until its own expiry. Tokens that fail signature
// checks or are already expired need no entry and report false.
//
// The token is denied locally even when the store write fails.
func (r *RevocationRegistry) Revoke(ctx context.Context, token string) (bool, error) {
	return r.revoke(ctx, token, true)
}

// revokeStored is Revoke without the local deny on a failed write. Rotation
// uses it so a failed rotation leaves the old token usable.
func (r *RevocationRegistry) revokeStored(ctx context.Context, token string) (bool, error) {
	return r.revoke(ctx, token, false)
}

func (r *RevocationRegistry) revoke(ctx context.Context, token string, denyOnFailure bool) (bool, error) {
	exp, err := r.codec.expiry(token)
	if err != nil {
		return false, nil
	}

	now := r.now()
	ttl := exp.Sub(now)
	if ttl <= 0 {
		return false, nil
	}
	if rem := ttl % time.Second; rem != 0 {
		ttl += time.Second - rem
	}

	if denyOnFailure {
		r.positives.Add(token, exp)
	}

	if err := r.store.Put(ctx, revokedPrefix+token, strconv.FormatInt(now.UnixMilli(), 10), ttl); err != nil {
		r.metrics.StoreError("revoke")
		return false, err
	}

	r.positives.Add(token, exp)
	return true, nil
}

// IsRevoked reports whether token was revoked. On a store error it returns
// false together with the error; the caller decides what that means.
func (r *RevocationRegistry) IsRevoked(ctx context.Context, token string) (bool, error) {
	if r.cached(token) {
		r.metrics.CacheLookup("revocation", true)
		return true, nil
	}
	r.metrics.CacheLookup("revocation", false)

	_, err := r.store.Get(ctx, revokedPrefix+token)
	if store.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if exp, err := r.codec.expiry(token); err == nil {
		r.positives.Add(token, exp)
	}
	return true, nil
}

func (r *RevocationRegistry) cached(token string) bool {
	exp, ok := r.positives.Get(token)
	if !ok {
		return false
	}
	if !r.now().Before(exp) {
		r.positives.Remove(token)
		return false
	}
	return true
}
