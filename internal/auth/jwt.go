package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"classledger/internal/actor"
)

// Claims represents JWT payload.
type Claims struct {
	Subject    string `json:"sub"`
	Role       string `json:"role"`
	Department string `json:"dept,omitempty"`
	jwt.RegisteredClaims
}

// Actor is the identity the claims describe.
func (c Claims) Actor() actor.Actor {
	return actor.Actor{ID: c.Subject, Role: actor.Role(c.Role), Department: c.Department}
}

// Issue signs an access token for a.
func Issue(a actor.Actor, issuer, key string, ttl time.Duration) (string, time.Time, error) {
	if a.ID == "" || !a.Role.Valid() {
		return "", time.Time{}, errors.New("actor needs an id and a known role")
	}
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		Subject:    a.ID,
		Role:       string(a.Role),
		Department: a.Department,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   a.ID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	if claims.Subject == "" || !actor.Role(claims.Role).Valid() {
		return Claims{}, errors.New("token has no usable identity")
	}
	return *claims, nil
}
