package auth

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// identityFromClaims builds an Identity from verified claims. The user id
// claim may be a JSON number or a numeric string.
func identityFromClaims(claims jwt.MapClaims, userIDClaim string) (*Identity, error) {
	uid, err := numericClaim(claims, userIDClaim)
	if err != nil {
		return nil, err
	}

	name := strconv.FormatInt(uid, 10)
	for _, key := range []string{"name", "username", "sub"} {
		if v := claimStr(claims, key); v != "" {
			name = v
			break
		}
	}

	id := &Identity{UserID: uid, DisplayName: name}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	return id, nil
}

func numericClaim(claims jwt.MapClaims, key string) (int64, error) {
	raw, ok := claims[key]
	if !ok {
		return 0, fmt.Errorf("claim %q missing", key)
	}
	switch v := raw.(type) {
	case json.Number:
		return v.Int64()
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("claim %q is not an integer", key)
		}
		return int64(v), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	default:
		return 0, fmt.Errorf("claim %q has unsupported type %T", key, raw)
	}
}

// claimStr extracts a string claim or returns "".
func claimStr(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}

// capTTL bounds ttl by the time left until exp.
func capTTL(ttl time.Duration, exp time.Time) time.Duration {
	if exp.IsZero() {
		return ttl
	}
	if left := time.Until(exp); left < ttl {
		return left
	}
	return ttl
}
