// Package auth verifies the bearer credential presented at handshake.
package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"

	"github.com/soleron/huddle/internal/domain"
)

// JWTVerifier validates HMAC-signed tokens issued by the external auth
// service and extracts the user identity claim.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(_ context.Context, credential string) (domain.UserID, error) {
	if credential == "" {
		return "", &domain.AuthenticationError{Reason: "missing credential"}
	}

	token, err := jwt.Parse(credential, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return "", &domain.AuthenticationError{Reason: "invalid token"}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", &domain.AuthenticationError{Reason: "invalid token claims"}
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", &domain.AuthenticationError{Reason: "token carries no user_id"}
	}
	return domain.UserID(userID), nil
}
