package auth

import (
	"context"
	"fmt"

	"github.com/readify/gateway/internal/config"
)

// NewVerifier creates a token Verifier based on configuration. A positive
// cache_ttl wraps it in a CachingVerifier.
func NewVerifier(ctx context.Context, cfg config.AuthConfig) (Verifier, error) {
	var v Verifier
	switch cfg.Provider {
	case "", "jwt":
		v = NewJWTVerifier(cfg.JWTSecret, cfg.UserIDClaim)
	case "jwks":
		jv, err := NewJWKSVerifier(ctx, cfg.JWKSURL, cfg.Issuer, cfg.UserIDClaim)
		if err != nil {
			return nil, err
		}
		v = jv
	default:
		return nil, fmt.Errorf("unknown auth provider: %q", cfg.Provider)
	}

	if cfg.CacheTTL.Duration > 0 {
		v = NewCachingVerifier(v, cfg.CacheTTL.Duration)
	}
	return v, nil
}
