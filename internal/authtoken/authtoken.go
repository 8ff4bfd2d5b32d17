// Package authtoken issues and verifies the HS256 bearer tokens the
// catalogue/entitlement HTTP API uses: claim device_uuid, 7-day expiry,
// secret from config. There is no external identity provider to
// delegate to, so this package both issues and verifies its own tokens
// with golang-jwt/jwt/v5's HS256 path rather than checking RS256 tokens
// against a remote JWKS endpoint.
package authtoken

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the registered-plus-custom claim set carried by every
// device-bound access token.
type Claims struct {
	DeviceUUID string `json:"device_uuid"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies access tokens with a single HMAC secret.
type Issuer struct {
	secret   []byte
	lifetime time.Duration
}

func New(secret string, lifetime time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), lifetime: lifetime}
}

// Issue mints a token bound to deviceUUID, expiring lifetime from now.
func (i *Issuer) Issue(deviceUUID string) (string, error) {
	now := time.Now()
	claims := Claims{
		DeviceUUID: deviceUUID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.lifetime)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates tokenString, returning the device_uuid
// claim on success.
func (i *Issuer) Verify(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method)
		}
		return i.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse access token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid access token")
	}
	if claims.DeviceUUID == "" {
		return "", fmt.Errorf("access token missing device_uuid claim")
	}
	return claims.DeviceUUID, nil
}
