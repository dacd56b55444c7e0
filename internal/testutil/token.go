package testutil

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Token returns an HS256 token for userID signed with secret, valid for an
// hour.
func Token(secret, userID string) (string, error) {
	return Sign(secret, userID, "", time.Hour)
}

// Sign returns an HS256 token for userID that expires after ttl. The aud
// claim is only set when audience is not empty.
func Sign(secret, userID, audience string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(ttl).Unix(),
	}
	if audience != "" {
		claims["aud"] = audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
