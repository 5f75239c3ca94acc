package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kvsync/backend/internal/cache"
	"github.com/kvsync/backend/internal/metrics"
	"github.com/kvsync/backend/internal/store"
	"github.com/sirupsen/logrus"
)

const globalVersionKey = "auth:global_version"

// VersionManager owns the global auth version. Tokens carrying a lower
// version than the current one are invalid.
type VersionManager struct {
	store   store.Store
	cache   *cache.Value[int64]
	metrics *metrics.Auth
	log     logrus.FieldLogger
}

func NewVersionManager(st store.Store, ttl time.Duration, now func() time.Time, m *metrics.Auth, log logrus.FieldLogger) *VersionManager {
	vm := &VersionManager{store: st, metrics: m, log: log}
	vm.cache = cache.NewValue(ttl, now, vm.read)
	return vm
}

// Current returns the version, served from the local cache while it is fresh.
func (m *VersionManager) Current(ctx context.Context) (int64, error) {
	v, cached, err := m.cache.Get(ctx)
	if err != nil {
		return 0, err
	}
	m.metrics.CacheLookup("version", cached)
	return v, nil
}

// Bump increments the version from the store's value, never the cache's.
// Two replicas bumping at the same moment may both write the same number;
// either way every earlier token is invalidated.
func (m *VersionManager) Bump(ctx context.Context) (int64, error) {
	current, err := m.read(ctx)
	if err != nil {
		return 0, fmt.Errorf("read global version: %w", err)
	}

	next := current + 1
	if err := m.store.Put(ctx, globalVersionKey, strconv.FormatInt(next, 10), 0); err != nil {
		m.cache.Invalidate()
		return 0, fmt.Errorf("write global version: %w", err)
	}

	m.cache.Set(next)
	m.metrics.VersionBump()
	m.log.WithFields(logrus.Fields{"from": current, "to": next}).Info("global auth version bumped")
	return next, nil
}

func (m *VersionManager) read(ctx context.Context) (int64, error) {
	raw, err := m.store.Get(ctx, globalVersionKey)
	if store.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse global version %q: %w", raw, err)
	}
	return v, nil
}
