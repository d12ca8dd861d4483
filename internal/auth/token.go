// Package auth parses and issues the bearer tokens that identify the current
// actor. Authentication itself lives in an external collaborator; this core
// only needs currentActor semantics.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

type Claims struct {
	Role             string `json:"role"`
	Branch           string `json:"branch,omitempty"`
	HandlesExclusive bool   `json:"handlesExclusive,omitempty"`
	jwt.RegisteredClaims
}

func IssueToken(secret []byte, userID, role, branch string, handlesExclusive bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:             role,
		Branch:           branch,
		HandlesExclusive: handlesExclusive,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func ParseToken(secret []byte, tokenString string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}
	if !token.Valid || claims.Subject == "" || claims.Role == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
