// ABOUTME: JWT token verification for the admin surface
// ABOUTME: Uses HS256 signing with the configured secret and an admin scope claim

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWeakSecret   = errors.New("jwt secret too short")
)

// MinSecretLength is the shortest accepted HS256 secret.
const MinSecretLength = 32

// AdminScope is the scope claim every admin token carries.
const AdminScope = "admin"

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (subject string, err error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need at least %d bytes", ErrWeakSecret, MinSecretLength)
	}
	return &JWTVerifier{secret: secret}, nil
}

// Verify validates the token and returns its "sub" claim. Tokens without
// the admin scope are rejected.
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	scope, _ := claims["scope"].(string)
	if scope != AdminScope {
		return "", fmt.Errorf("%w: scope", ErrMissingClaim)
	}

	return sub, nil
}

// Generate creates an admin token for subject that expires after expiresIn.
func (v *JWTVerifier) Generate(subject string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   subject,
		"scope": AdminScope,
		"iat":   now.Unix(),
		"exp":   now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
