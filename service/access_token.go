// file: service/access_token.go

package service

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"go-task-api/logger"
	"go-task-api/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// AccessTokenManager mints and verifies stateless access tokens. Verification
// checks the signature and expiry only, so an access token stays usable until
// it expires even after the user logs out.
type AccessTokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAccessTokenManager(secret string, ttl time.Duration) *AccessTokenManager {
	return &AccessTokenManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock replaces the manager's clock and returns the manager.
func (m *AccessTokenManager) WithClock(now func() time.Time) *AccessTokenManager {
	m.now = now
	return m
}

// Generate signs an HS256 token for user and returns it with its expiry.
func (m *AccessTokenManager) Generate(user *model.User) (string, time.Time, error) {
	issuedAt := m.now()
	expiresAt := issuedAt.Add(m.ttl)

	claims := &model.AppClaims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(user.ID),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		logger.Log.WithError(err).WithFields(logrus.Fields{"user_id": user.ID}).Error("Failed to sign JWT")
		return "", time.Time{}, fmt.Errorf("failed to sign token string: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse verifies tokenString and returns its claims.
func (m *AccessTokenManager) Parse(tokenString string) (*model.AppClaims, error) {
	claims := &model.AppClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
