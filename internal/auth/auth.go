package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/config"
)

// TokenType distinguishes participant tokens from operator tokens.
type TokenType string

const (
	TokenTypeParticipant TokenType = "participant"
	TokenTypeOperator    TokenType = "operator"
)

// Claims is the JWT payload issued by the education platform's identity
// service. This gateway only verifies tokens; it never issues them in
// production (GenerateToken exists for tooling and tests).
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
	UserID    int       `json:"user_id"`
}

// Validator verifies JWTs against the shared platform secret.
type Validator struct {
	cfg *config.Config
}

// NewValidator creates a Validator.
func NewValidator(cfg *config.Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateToken parses and validates a JWT, returning the claims.
func (v *Validator) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(v.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}

// GenerateToken signs a token with the shared secret. Used by the local
// token tool and by tests; production tokens come from the identity service.
func (v *Validator) GenerateToken(tokenType TokenType, userID int) (string, error) {
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   strconv.Itoa(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.cfg.JWTExpiry)),
		},
		TokenType: tokenType,
		UserID:    userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(v.cfg.JWTSecret))
}
