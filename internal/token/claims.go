package token

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims decodes the payload of an ID token without verifying its signature.
// The result is only used for display names and nonce correlation.
func Claims(idToken string) (jwt.MapClaims, error) {
	if idToken == "" {
		return nil, fmt.Errorf("%w: empty id_token", ErrProtocol)
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return nil, fmt.Errorf("%w: decode id_token: %v", ErrProtocol, err)
	}
	return claims, nil
}

// DisplayName picks the most human readable identity claim.
func DisplayName(claims jwt.MapClaims) string {
	for _, key := range []string{"preferred_username", "email", "name", "sub"} {
		if v, ok := claims[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
