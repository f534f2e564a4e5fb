package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"rollcall/internal/attendance"
)

// Claims represents JWT payload.
type Claims struct {
	Role       string `json:"role"`
	Department string `json:"dept,omitempty"`
	Level      string `json:"level,omitempty"`
	jwt.RegisteredClaims
}

// Actor converts the claims into the identity the domain trusts.
func (c Claims) Actor() attendance.Actor {
	return attendance.Actor{
		ID:         c.Subject,
		Role:       attendance.Role(c.Role),
		Department: c.Department,
		Level:      c.Level,
	}
}

// Issue signs an access token for actor valid for ttl.
func Issue(actor attendance.Actor, issuer, key string, ttl time.Duration) (string, time.Time, error) {
	if actor.ID == "" {
		return "", time.Time{}, errors.New("subject required")
	}
	if !actor.Role.Valid() {
		return "", time.Time{}, fmt.Errorf("unknown role %q", actor.Role)
	}
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		Role:       string(actor.Role),
		Department: actor.Department,
		Level:      actor.Level,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   actor.ID,
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
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(key), nil
	}, opts...)
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if claims.Subject == "" || !attendance.Role(claims.Role).Valid() {
		return Claims{}, errors.New("token missing subject or role")
	}
	return *claims, nil
}
