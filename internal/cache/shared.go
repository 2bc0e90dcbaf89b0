package cache

import (
	"context"
	"time"
)

// SharedBackend is a cross-process key-value store, in practice the
// shared_cache table in the relational store. Both the bot and the web
// process observe the same entries through it.
type SharedBackend interface {
	PutShared(ctx context.Context, key, value string, expiresAt time.Time) error
	FetchShared(ctx context.Context, key string) (string, bool, error)
	DeleteShared(ctx context.Context, key string) error
	DeleteSharedExpired(ctx context.Context, now time.Time) error
}

// Shared is the cross-process variant of Cache, used for verification
// codes and login handshake state. Get checks nothing beyond presence;
// expired rows linger until a sweep, same as the in-memory cache.
type Shared struct {
	backend SharedBackend
	expiry  time.Duration
}

func NewShared(backend SharedBackend, expiry time.Duration) *Shared {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Shared{backend: backend, expiry: expiry}
}

func (s *Shared) Set(ctx context.Context, key, value string) error {
	return s.backend.PutShared(ctx, key, value, time.Now().Add(s.expiry))
}

func (s *Shared) Get(ctx context.Context, key string) (string, bool) {
	value, ok, err := s.backend.FetchShared(ctx, key)
	if err != nil {
		return "", false
	}
	return value, ok
}

func (s *Shared) Remove(ctx context.Context, key string) {
	_ = s.backend.DeleteShared(ctx, key)
}

// SweepExpired is driven by the owning process on a short interval.
func (s *Shared) SweepExpired(ctx context.Context) error {
	return s.backend.DeleteSharedExpired(ctx, time.Now())
}
