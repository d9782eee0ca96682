package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soleron/huddle/internal/adapters/auth"
	"github.com/soleron/huddle/internal/domain"
)

const secret = "very-secret-key"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestVerifyValidToken(t *testing.T) {
	v := auth.NewJWTVerifier(secret)
	credential := signToken(t, secret, jwt.MapClaims{
		"user_id": "alice",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	id, err := v.Verify(context.Background(), credential)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), id)
}

func TestVerifyRejections(t *testing.T) {
	v := auth.NewJWTVerifier(secret)
	var authErr *domain.AuthenticationError

	_, err := v.Verify(context.Background(), "")
	require.ErrorAs(t, err, &authErr)

	_, err = v.Verify(context.Background(), "not-a-jwt")
	require.ErrorAs(t, err, &authErr)

	wrongKey := signToken(t, "other-secret", jwt.MapClaims{"user_id": "alice"})
	_, err = v.Verify(context.Background(), wrongKey)
	require.ErrorAs(t, err, &authErr)

	noClaim := signToken(t, secret, jwt.MapClaims{"sub": "alice"})
	_, err = v.Verify(context.Background(), noClaim)
	require.ErrorAs(t, err, &authErr)

	expired := signToken(t, secret, jwt.MapClaims{
		"user_id": "alice",
		"exp":     time.Now().Add(-time.Hour).Unix(),
	})
	_, err = v.Verify(context.Background(), expired)
	require.ErrorAs(t, err, &authErr)
}
