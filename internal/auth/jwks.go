package auth

import (
	"context"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// JWKSVerifier validates asymmetrically signed tokens against a remote JWKS.
type JWKSVerifier struct {
	keys        func(ctx context.Context) jwt.Keyfunc
	issuer      string
	userIDClaim string
}

// NewJWKSVerifier fetches the key set at jwksURL and keeps it refreshed in
// the background until ctx is canceled.
func NewJWKSVerifier(ctx context.Context, jwksURL, issuer, userIDClaim string) (*JWKSVerifier, error) {
	if jwksURL == "" {
		return nil, fmt.Errorf("jwks url is required")
	}
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}
	return newJWKSVerifier(jwks.KeyfuncCtx, issuer, userIDClaim), nil
}

func newJWKSVerifier(keys func(ctx context.Context) jwt.Keyfunc, issuer, userIDClaim string) *JWKSVerifier {
	if userIDClaim == "" {
		userIDClaim = "userId"
	}
	return &JWKSVerifier{keys: keys, issuer: issuer, userIDClaim: userIDClaim}
}

// Verify parses tokenStr and checks its signature, expiry and issuer.
func (v *JWKSVerifier) Verify(ctx context.Context, tokenStr string) (*Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithExpirationRequired(),
		jwt.WithJSONNumber(),
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512", "PS256", "EdDSA"}),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, v.keys(ctx), opts...)
	if err != nil || !token.Valid {
		return nil, ErrUnauthorized
	}

	id, err := identityFromClaims(claims, v.userIDClaim)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrUnauthorized)
	}
	return id, nil
}
