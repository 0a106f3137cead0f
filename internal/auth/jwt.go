package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrSecretNotInitialized = errors.New("JWT secret not initialized")

// JWTClaims represents the access token claims. The registered ID (jti) is the
// backing AuthSession row id.
type JWTClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// SessionID returns the id of the session row backing the token
func (c *JWTClaims) SessionID() string {
	return c.ID
}

// Tokens signs and validates HS256 access tokens
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates a token issuer with the given secret and lifetime
func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL returns the lifetime of issued tokens
func (t *Tokens) TTL() time.Duration {
	return t.ttl
}

// GenerateToken creates a new JWT token bound to a session row
func (t *Tokens) GenerateToken(userID, email, sessionID string) (string, time.Time, error) {
	if len(t.secret) == 0 {
		return "", time.Time{}, ErrSecretNotInitialized
	}

	now := t.now()
	expiresAt := now.Add(t.ttl)
	claims := JWTClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a JWT token and returns the claims
func (t *Tokens) ValidateToken(tokenString string) (*JWTClaims, error) {
	if len(t.secret) == 0 {
		return nil, ErrSecretNotInitialized
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		if claims.ID == "" || claims.UserID == "" {
			return nil, fmt.Errorf("invalid token: missing session binding")
		}
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}
