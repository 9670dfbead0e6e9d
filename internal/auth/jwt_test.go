package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"chat-engine/internal/models"
)

func TestAuthenticateRoundTrip(t *testing.T) {
	a := NewJWTAuthenticator("secret", "auth-service")
	token, err := a.Sign(models.Identity{UserID: 7, DisplayName: "ann"}, time.Minute)
	require.NoError(t, err)

	id, err := a.Authenticate(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, models.Identity{UserID: 7, DisplayName: "ann"}, id)
}

func TestAuthenticateRejects(t *testing.T) {
	a := NewJWTAuthenticator("secret", "auth-service")
	expired, err := a.Sign(models.Identity{UserID: 7}, -time.Minute)
	require.NoError(t, err)
	foreign, err := NewJWTAuthenticator("other", "auth-service").Sign(models.Identity{UserID: 7}, time.Minute)
	require.NoError(t, err)
	wrongIssuer, err := NewJWTAuthenticator("secret", "someone-else").Sign(models.Identity{UserID: 7}, time.Minute)
	require.NoError(t, err)
	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		Issuer:    "auth-service",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-jwt",
		"expired":      expired,
		"wrong secret": foreign,
		"wrong issuer": wrongIssuer,
		"bad subject":  badSubject,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := a.Authenticate(context.Background(), token)
			require.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}
