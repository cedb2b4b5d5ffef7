package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/util"
)

var ErrInvalidOperatorKey = errors.New("invalid operator key")

// AuthService trades the shared operator key for a short-lived JWT. Only an
// argon2id hash of the key is held after construction.
type AuthService struct {
	keyHash []byte
	keySalt []byte
	jwt     *util.JWTManager
}

func NewAuthService(operatorKey, jwtSecret string, sessionTTL time.Duration) (*AuthService, error) {
	if strings.TrimSpace(operatorKey) == "" {
		return nil, errors.New("operator key must not be empty")
	}
	hash, salt, err := util.DeriveSecret(operatorKey)
	if err != nil {
		return nil, err
	}
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &AuthService{
		keyHash: hash,
		keySalt: salt,
		jwt:     util.NewJWTManager(jwtSecret, sessionTTL),
	}, nil
}

// IssueToken verifies the presented operator key and mints a session token.
// The principal is a free-form operator name recorded in the token subject.
func (s *AuthService) IssueToken(_ context.Context, operatorKey, principal string) (string, time.Time, error) {
	if !util.VerifySecret(operatorKey, s.keySalt, s.keyHash) {
		return "", time.Time{}, ErrInvalidOperatorKey
	}
	name := strings.TrimSpace(principal)
	if name == "" {
		name = "operator"
	}
	return s.jwt.Generate(name, util.RoleOperator)
}

// Verify parses a session token and returns its claims.
func (s *AuthService) Verify(tokenString string) (*util.Claims, error) {
	return s.jwt.Parse(tokenString)
}
