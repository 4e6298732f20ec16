package service

import (
	"context"
	"errors"

	"go-task-api/logger"
	"go-task-api/model"
	"go-task-api/repository"

	"github.com/sirupsen/logrus"
)

// UserService handles user administration.
type UserService struct {
	userRepo repository.IUserRepository
}

func NewUserService(userRepo repository.IUserRepository) *UserService {
	return &UserService{userRepo: userRepo}
}

func (s *UserService) GetUser(ctx context.Context, id int) (*model.User, error) {
	user, err := s.userRepo.GetUserByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

func (s *UserService) ListUsers(ctx context.Context) ([]*model.User, error) {
	return s.userRepo.GetAllUsers(ctx)
}

// UpdateUserRole assigns one of the known roles to a user.
func (s *UserService) UpdateUserRole(ctx context.Context, userID int, role model.Role) error {
	if !role.Valid() {
		return ErrInvalidRole
	}

	if err := s.userRepo.UpdateUserRole(ctx, userID, role); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	logger.Log.WithFields(logrus.Fields{"user_id": userID, "role": role}).Info("User role updated")
	return nil
}
