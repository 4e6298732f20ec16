// file: service/auth_service.go

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go-task-api/logger"
	"go-task-api/model"
	"go-task-api/repository"

	"github.com/sirupsen/logrus"
)

// AuthResult is returned by login and registration.
type AuthResult struct {
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token"`
	User         model.UserSummary `json:"user"`
}

// TokenPair is returned by a refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// AuthService verifies identities and hands out access and refresh tokens.
type AuthService struct {
	users   repository.IUserRepository
	refresh *RefreshTokenStore
	access  *AccessTokenManager
	hasher  PasswordHasher

	dummyOnce sync.Once
	dummyHash string
}

func NewAuthService(users repository.IUserRepository, refresh *RefreshTokenStore, access *AccessTokenManager, hasher PasswordHasher) *AuthService {
	return &AuthService{
		users:   users,
		refresh: refresh,
		access:  access,
		hasher:  hasher,
	}
}

// Login checks the credentials and issues a fresh token pair. An unknown
// email and a wrong password fail the same way.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Burn a comparison so unknown emails take as long as known ones.
			s.hasher.Compare(s.dummy(), password)
			logger.Log.WithField("email", email).Info("Login attempt for unknown email")
			return nil, ErrAuthenticationFailed
		}
		return nil, err
	}

	if !s.hasher.Compare(user.Password, password) {
		logger.Log.WithField("user_id", user.ID).Info("Login attempt with wrong password")
		return nil, ErrAuthenticationFailed
	}

	return s.authenticate(ctx, user)
}

// Register creates a user with the default role and logs them in.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		Name:     name,
		Email:    email,
		Password: hash,
		Role:     model.RoleUser,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	logger.Log.WithFields(logrus.Fields{"user_id": user.ID}).Info("User registered")
	return s.authenticate(ctx, user)
}

// Refresh exchanges a valid refresh token for a new pair. Issuing the new
// refresh token revokes the presented one. Validate runs without the user
// lock, so the token is checked again inside it; concurrent refreshes of one
// token yield exactly one pair.
func (s *AuthService) Refresh(ctx context.Context, token string) (*TokenPair, error) {
	stored, err := s.refresh.Validate(ctx, token)
	if err != nil {
		if isTokenRejection(err) {
			logger.Log.WithError(err).Info("Refresh token rejected")
			return nil, ErrAuthenticationFailed
		}
		return nil, err
	}

	user, err := s.users.GetUserByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAuthenticationFailed
		}
		return nil, err
	}

	access, refresh, err := s.mint(ctx, user, token)
	if err != nil {
		if isTokenRejection(err) {
			logger.Log.WithError(err).WithField("user_id", user.ID).Info("Refresh token spent by a concurrent refresh")
			return nil, ErrAuthenticationFailed
		}
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Logout revokes the refresh token. Access tokens already handed out stay
// valid until they expire.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if err := s.refresh.Revoke(ctx, token); err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return ErrAuthenticationFailed
		}
		return err
	}
	return nil
}

// Sessions lists the user's live refresh tokens.
func (s *AuthService) Sessions(ctx context.Context, userID int) ([]*model.RefreshToken, error) {
	return s.refresh.ActiveForUser(ctx, userID)
}

func (s *AuthService) authenticate(ctx context.Context, user *model.User) (*AuthResult, error) {
	access, refresh, err := s.mint(ctx, user, "")
	if err != nil {
		return nil, err
	}
	return &AuthResult{AccessToken: access, RefreshToken: refresh, User: user.Summary()}, nil
}

// mint signs an access token and issues a refresh token. A non-empty
// replaces is the refresh token being rotated out. An incomplete rotation has
// already been logged by the store and does not fail the call.
func (s *AuthService) mint(ctx context.Context, user *model.User, replaces string) (string, string, error) {
	access, _, err := s.access.Generate(user)
	if err != nil {
		return "", "", err
	}

	var refresh *model.RefreshToken
	if replaces != "" {
		refresh, err = s.refresh.Rotate(ctx, user.ID, replaces)
	} else {
		refresh, err = s.refresh.Issue(ctx, user.ID, 0)
	}
	if err != nil && !errors.Is(err, ErrRotationIncomplete) {
		if errors.Is(err, ErrUserNotFound) {
			return "", "", ErrAuthenticationFailed
		}
		return "", "", err
	}
	return access, refresh.Token, nil
}

func (s *AuthService) dummy() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("not-a-real-password")
		if err != nil {
			logger.Log.WithError(err).Warn("Failed to prepare dummy password hash")
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func isTokenRejection(err error) bool {
	return errors.Is(err, ErrTokenNotFound) || errors.Is(err, ErrTokenRevoked) || errors.Is(err, ErrTokenExpired)
}
