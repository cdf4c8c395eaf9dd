package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tagsci/internal/apperr"
)

// Roles issued to directory callers.
const (
	RoleScanner = "scanner"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// Claims is the JWT payload for scanner devices and teacher accounts.
type Claims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// Token is a signed access token with its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Issue signs an HS256 access token for the given subject and role.
func Issue(subject, role, issuer, key string, ttl time.Duration) (Token, error) {
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		Subject: subject,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return Token{}, err
	}
	return Token{Value: signed, ExpiresAt: exp}, nil
}

// Parse validates a token and returns its claims. Every failure maps to
// NOT_AUTHENTICATED so handlers do not leak parser detail.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, apperr.Wrap(apperr.NotAuthenticated, "invalid token", err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, apperr.New(apperr.NotAuthenticated, "invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, apperr.New(apperr.NotAuthenticated, "issuer mismatch")
	}
	if claims.Role == "" {
		return Claims{}, apperr.New(apperr.NotAuthenticated, "missing role")
	}
	return *claims, nil
}
