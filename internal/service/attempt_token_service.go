package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidAttemptToken is returned for tokens that fail signature, expiry
// or shape checks.
var ErrInvalidAttemptToken = errors.New("invalid attempt token")

// AttemptClaims binds a token to one attempt.
type AttemptClaims struct {
	jwt.RegisteredClaims
	AttemptID string `json:"attempt_id"`
}

// AttemptTokenService issues and validates attempt tokens.
type AttemptTokenService struct {
	secret []byte
}

// NewAttemptTokenService creates a new AttemptTokenService.
func NewAttemptTokenService(secret string) *AttemptTokenService {
	return &AttemptTokenService{secret: []byte(secret)}
}

// Issue signs a token for attemptID valid for ttl.
func (s *AttemptTokenService) Issue(attemptID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AttemptClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   attemptID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		AttemptID: attemptID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate parses tokenStr and returns its claims.
func (s *AttemptTokenService) Validate(tokenStr string) (*AttemptClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &AttemptClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAttemptToken, err)
	}

	claims, ok := token.Claims.(*AttemptClaims)
	if !ok || !token.Valid || claims.AttemptID == "" {
		return nil, ErrInvalidAttemptToken
	}
	return claims, nil
}
