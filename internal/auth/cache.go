package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// CachingVerifier remembers successful verifications for a bounded time and
// collapses concurrent verifications of the same token into one call.
// Failures are never cached.
type CachingVerifier struct {
	inner Verifier
	ttl   time.Duration
	cache *gocache.Cache
	group singleflight.Group
}

// NewCachingVerifier wraps inner with a cache of the given TTL.
func NewCachingVerifier(inner Verifier, ttl time.Duration) *CachingVerifier {
	return &CachingVerifier{
		inner: inner,
		ttl:   ttl,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Verify returns a cached identity or delegates to the wrapped verifier.
func (c *CachingVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	key := tokenKey(token)
	if v, ok := c.cache.Get(key); ok {
		id := v.(*Identity)
		if id.ExpiresAt.IsZero() || time.Now().Before(id.ExpiresAt) {
			return id, nil
		}
		c.cache.Delete(key)
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		id, err := c.inner.Verify(ctx, token)
		if err != nil {
			return nil, err
		}
		if ttl := capTTL(c.ttl, id.ExpiresAt); ttl > 0 {
			c.cache.Set(key, id, ttl)
		}
		return id, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Identity), nil
}

// Len reports the number of cached identities, including expired ones not
// yet evicted.
func (c *CachingVerifier) Len() int {
	return c.cache.ItemCount()
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
