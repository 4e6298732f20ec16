// file: service/refresh_token_store.go

package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go-task-api/logger"
	"go-task-api/model"
	"go-task-api/repository"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

const refreshTokenBytes = 32

// RefreshStoreConfig tunes token lifetime and sibling revocation retries.
type RefreshStoreConfig struct {
	TTL        time.Duration
	Retries    uint64
	RetryDelay time.Duration
}

// RefreshTokenStore owns the lifecycle of refresh tokens: issue with rotation,
// validation and revocation. It is the only writer of the refresh_tokens table.
type RefreshTokenStore struct {
	repo repository.ITokenRepository
	cfg  RefreshStoreConfig
	now  func() time.Time
}

func NewRefreshTokenStore(repo repository.ITokenRepository, cfg RefreshStoreConfig) *RefreshTokenStore {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * 24 * time.Hour
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 50 * time.Millisecond
	}
	return &RefreshTokenStore{repo: repo, cfg: cfg, now: time.Now}
}

// WithClock replaces the store's clock and returns the store.
func (s *RefreshTokenStore) WithClock(now func() time.Time) *RefreshTokenStore {
	s.now = now
	return s
}

// HashToken returns the digest under which a token is persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func generateToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Issue creates a refresh token for userID and revokes every other token of
// that user in the same transaction. A ttl of zero uses the configured default.
//
// When the siblings cannot be revoked after the configured retries, the new
// token is kept and returned together with an error wrapping ErrRotationIncomplete.
func (s *RefreshTokenStore) Issue(ctx context.Context, userID int, ttl time.Duration) (*model.RefreshToken, error) {
	return s.issue(ctx, userID, ttl, "")
}

// Rotate issues a replacement for presented, which must belong to userID.
// presented is checked again under the user lock, so of several concurrent
// rotations of one token only the first succeeds; the rest get ErrTokenRevoked.
func (s *RefreshTokenStore) Rotate(ctx context.Context, userID int, presented string) (*model.RefreshToken, error) {
	return s.issue(ctx, userID, 0, presented)
}

func (s *RefreshTokenStore) issue(ctx context.Context, userID int, ttl time.Duration, presented string) (*model.RefreshToken, error) {
	if ttl <= 0 {
		ttl = s.cfg.TTL
	}
	plain, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	now := s.now()
	token := &model.RefreshToken{
		UserID:    userID,
		Token:     plain,
		TokenHash: HashToken(plain),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}

	var rotationErr error
	err = s.repo.WithUserLock(ctx, userID, func(ctx context.Context, tx repository.ITokenTx) error {
		if presented != "" {
			if err := stillLive(ctx, tx, presented); err != nil {
				return err
			}
		}
		if err := tx.Create(ctx, token); err != nil {
			return err
		}
		rotationErr = s.revokeSiblings(ctx, tx, token)
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenRevoked), errors.Is(err, ErrTokenNotFound):
			return nil, err
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrUserNotFound
		}
		logger.Log.WithError(err).WithField("user_id", userID).Error("Failed to issue refresh token")
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}

	if rotationErr != nil {
		logger.Log.WithError(rotationErr).WithFields(logrus.Fields{
			"user_id":  userID,
			"token_id": token.ID,
		}).Error("Refresh token issued but older tokens could not be revoked")
		return token, fmt.Errorf("%w: %v", ErrRotationIncomplete, rotationErr)
	}
	return token, nil
}

func stillLive(ctx context.Context, tx repository.ITokenTx, presented string) error {
	revoked, err := tx.IsRevoked(ctx, HashToken(presented))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTokenNotFound
		}
		return err
	}
	if revoked {
		return ErrTokenRevoked
	}
	return nil
}

// revokeSiblings revokes every token of the owner except keep, retrying with
// exponential backoff.
func (s *RefreshTokenStore) revokeSiblings(ctx context.Context, tx repository.ITokenTx, keep *model.RefreshToken) error {
	backoff := retry.WithMaxRetries(s.cfg.Retries, retry.NewExponential(s.cfg.RetryDelay))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		revoked, err := tx.RevokeOthers(ctx, keep.UserID, keep.ID)
		if err != nil {
			logger.Log.WithError(err).WithFields(logrus.Fields{
				"user_id": keep.UserID,
				"attempt": attempt,
			}).Warn("Failed to revoke sibling refresh tokens")
			return retry.RetryableError(err)
		}
		if revoked > 0 {
			logger.Log.WithFields(logrus.Fields{
				"user_id": keep.UserID,
				"revoked": revoked,
			}).Info("Rotated refresh tokens")
		}
		return nil
	})
}

// Validate returns the stored record for token if it is usable. Checks run in
// order: existence, revocation, expiry.
func (s *RefreshTokenStore) Validate(ctx context.Context, token string) (*model.RefreshToken, error) {
	stored, err := s.repo.GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	if stored.Revoked {
		return nil, ErrTokenRevoked
	}
	if !stored.ExpiresAt.After(s.now()) {
		return nil, ErrTokenExpired
	}
	return stored, nil
}

// Revoke marks token as revoked. Revoking an already revoked token succeeds.
func (s *RefreshTokenStore) Revoke(ctx context.Context, token string) error {
	err := s.repo.Revoke(ctx, HashToken(token))
	if errors.Is(err, repository.ErrNotFound) {
		return ErrTokenNotFound
	}
	return err
}

// ActiveForUser lists the user's tokens that are neither revoked nor expired.
func (s *RefreshTokenStore) ActiveForUser(ctx context.Context, userID int) ([]*model.RefreshToken, error) {
	return s.repo.ListLiveByUserID(ctx, userID, s.now())
}
