// Package auth issues and validates the bearer tokens of API callers and the
// verification tokens shown as a QR code at the charging station.
package auth

import (
	"errors"
	"fmt"
	"time"

	"evslots/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents the bearer JWT payload.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenService handles bearer JWT creation and validation.
type TokenService struct {
	secret    []byte
	expiresIn time.Duration
	now       func() time.Time
}

// NewTokenService returns configured token service.
func NewTokenService(secret string, expiresIn time.Duration) *TokenService {
	if expiresIn <= 0 {
		expiresIn = time.Hour
	}
	return &TokenService{secret: []byte(secret), expiresIn: expiresIn, now: time.Now}
}

// GenerateToken issues a JWT for the principal.
func (t *TokenService) GenerateToken(p domain.Principal) (string, error) {
	if p.ID == "" {
		return "", errors.New("token: principal id is required")
	}
	if _, err := domain.ParseRole(string(p.Role)); err != nil {
		return "", fmt.Errorf("token: %w", err)
	}

	now := t.now().UTC()
	claims := Claims{
		Role: string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.expiresIn)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Authenticate verifies a bearer token and resolves the principal.
func (t *TokenService) Authenticate(tokenString string) (domain.Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, t.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !token.Valid {
		return domain.Principal{}, fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
	}
	if claims.Subject == "" {
		return domain.Principal{}, fmt.Errorf("%w: token has no subject", domain.ErrUnauthorized)
	}
	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return domain.Principal{}, err
	}
	return domain.Principal{ID: claims.Subject, Role: role}, nil
}

func (t *TokenService) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.New("token: unexpected signing method")
	}
	return t.secret, nil
}
