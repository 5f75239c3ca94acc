package service

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kvsync/backend/internal/model"
	"github.com/kvsync/backend/internal/store"
	"golang.org/x/sync/errgroup"
)

const (
	sessionPrefix    = "session:"
	sessionListLimit = 8
)

// SessionStore keeps the observational session:<token> records. Validation
// never reads them.
type SessionStore struct {
	store store.Store
}

func NewSessionStore(st store.Store) *SessionStore {
	return &SessionStore{store: st}
}

func (s *SessionStore) Put(ctx context.Context, token, username string, created, expires time.Time) error {
	ttl := expires.Sub(created)
	if ttl <= 0 {
		return nil
	}
	if rem := ttl % time.Second; rem != 0 {
		ttl += time.Second - rem
	}

	data, err := json.Marshal(model.SessionRecord{
		Username: username,
		Created:  created.UnixMilli(),
		Expires:  expires.UnixMilli(),
	})
	if err != nil {
		return err
	}
	return s.store.Put(ctx, sessionPrefix+token, string(data), ttl)
}

func (s *SessionStore) Get(ctx context.Context, token string) (*model.SessionRecord, error) {
	raw, err := s.store.Get(ctx, sessionPrefix+token)
	if err != nil {
		return nil, err
	}
	var rec model.SessionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SessionStore) Delete(ctx context.Context, token string) error {
	return s.store.Delete(ctx, sessionPrefix+token)
}

// List returns every live session, newest first, with tokens masked.
// Records that expire between the key scan and the read are skipped.
func (s *SessionStore) List(ctx context.Context) ([]model.SessionSummary, error) {
	keys, err := s.store.List(ctx, sessionPrefix)
	if err != nil {
		return nil, err
	}

	var (
		mu  sync.Mutex
		out = make([]model.SessionSummary, 0, len(keys))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sessionListLimit)
	for _, key := range keys {
		token := strings.TrimPrefix(key, sessionPrefix)
		g.Go(func() error {
			rec, err := s.Get(gctx, token)
			if store.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			out = append(out, model.SessionSummary{
				Token:    maskToken(token),
				Username: rec.Username,
				Created:  rec.Created,
				Expires:  rec.Expires,
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Created > out[j].Created })
	return out, nil
}

func maskToken(token string) string {
	if len(token) <= 16 {
		return "***"
	}
	return token[:8] + "..." + token[len(token)-6:]
}
