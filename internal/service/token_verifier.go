package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
)

// TokenVerifier validates HS256 access tokens minted by the external auth service.
type TokenVerifier struct {
	secret []byte
	clock  func() time.Time
}

// NewTokenVerifier constructs a verifier for the shared secret.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), clock: func() time.Time { return time.Now().UTC() }}
}

// ValidateToken parses and validates an access token returning the claims.
func (v *TokenVerifier) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	if len(v.secret) == 0 {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token verification is not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.clock))
	if err != nil {
		return nil, appErrors.ErrUnauthorized.WithCause(err, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}

// Issue signs claims valid for ttl. Used for local tooling and tests.
func (v *TokenVerifier) Issue(claims models.JWTClaims, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", errors.New("token secret is empty")
	}
	issuedAt := v.clock()
	claims.IssuedAt = jwt.NewNumericDate(issuedAt)
	claims.ExpiresAt = jwt.NewNumericDate(issuedAt.Add(ttl))
	if claims.Subject == "" {
		claims.Subject = claims.UserID
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString(v.secret)
}
