package authtoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestIssueThenVerifyRoundTrips(t *testing.T) {
	i := New("test-secret", 7*24*time.Hour)
	token, err := i.Issue("device-123")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	deviceUUID, err := i.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "device-123", deviceUUID)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	i := New("secret-a", time.Hour)
	token, err := i.Issue("device-1")
	require.NoError(t, err)

	other := New("secret-b", time.Hour)
	_, err = other.Verify(token)
	require.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	i := New("test-secret", -time.Hour)
	token, err := i.Issue("device-expired")
	require.NoError(t, err)

	_, err = i.Verify(token)
	require.Error(t, err)
}

func TestVerifyRejectsMissingDeviceUUID(t *testing.T) {
	secret := []byte("test-secret")
	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	i := New("test-secret", time.Hour)
	_, err = i.Verify(signed)
	require.Error(t, err)
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	i := New("test-secret", time.Hour)
	_, err := i.Verify("not-a-jwt")
	require.Error(t, err)
}
