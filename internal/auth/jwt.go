package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JWTVerifier validates HMAC-signed tokens with a shared secret.
type JWTVerifier struct {
	secret      []byte
	userIDClaim string
	parser      *jwt.Parser
}

// NewJWTVerifier creates a verifier for tokens signed with secret.
func NewJWTVerifier(secret, userIDClaim string) *JWTVerifier {
	if userIDClaim == "" {
		userIDClaim = "userId"
	}
	return &JWTVerifier{
		secret:      []byte(secret),
		userIDClaim: userIDClaim,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
			jwt.WithExpirationRequired(),
			jwt.WithJSONNumber(),
		),
	}
}

// Verify parses and validates tokenStr.
func (v *JWTVerifier) Verify(_ context.Context, tokenStr string) (*Identity, error) {
	claims := jwt.MapClaims{}
	token, err := v.parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrUnauthorized
	}

	id, err := identityFromClaims(claims, v.userIDClaim)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrUnauthorized)
	}
	return id, nil
}
