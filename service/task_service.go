// file: service/task_service.go

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go-task-api/logger"
	"go-task-api/model"
	"go-task-api/repository"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// TaskService handles task business logic. When a cache client is set, each
// user's own task list is cached and invalidated on every write.
type TaskService struct {
	repo     repository.ITaskRepository
	cache    ICacheClient
	cacheTTL time.Duration
}

// NewTaskService creates a TaskService. cache may be nil to disable caching.
func NewTaskService(repo repository.ITaskRepository, cache ICacheClient, cacheTTL time.Duration) *TaskService {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &TaskService{repo: repo, cache: cache, cacheTTL: cacheTTL}
}

func taskCacheKey(userID int) string {
	return fmt.Sprintf("tasks:%d", userID)
}

func (s *TaskService) CreateTask(ctx context.Context, caller model.Identity, req model.CreateTaskRequest) (*model.Task, error) {
	if !caller.Role.Can(model.PermTasksWrite) {
		return nil, ErrPermissionDenied
	}

	status := req.Status
	if status == "" {
		status = model.TaskTodo
	}
	task := &model.Task{
		UserID:      caller.ID,
		Title:       req.Title,
		Description: req.Description,
		Status:      status,
	}
	if err := s.repo.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	s.invalidate(ctx, caller.ID)
	return task, nil
}

// ListTasks returns every task for callers allowed to read any task, and
// the caller's own tasks otherwise.
func (s *TaskService) ListTasks(ctx context.Context, caller model.Identity) ([]*model.Task, error) {
	if caller.Role.Can(model.PermTasksReadAny) {
		return s.repo.ListAllTasks(ctx)
	}
	if !caller.Role.Can(model.PermTasksRead) {
		return nil, ErrPermissionDenied
	}

	key := taskCacheKey(caller.ID)
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, key).Result()
		if err == nil {
			var tasks []*model.Task
			if err := json.Unmarshal([]byte(cached), &tasks); err == nil {
				return tasks, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			logger.Log.WithError(err).WithField("cache_key", key).Warn("Task cache read failed")
		}
	}

	tasks, err := s.repo.ListTasksByUserID(ctx, caller.ID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(tasks); err == nil {
			if err := s.cache.Set(ctx, key, data, s.cacheTTL).Err(); err != nil {
				logger.Log.WithError(err).WithField("cache_key", key).Warn("Task cache write failed")
			}
		}
	}
	return tasks, nil
}

func (s *TaskService) GetTask(ctx context.Context, caller model.Identity, id int) (*model.Task, error) {
	task, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canAccess(caller, task, model.PermTasksRead, model.PermTasksReadAny) {
		return nil, ErrPermissionDenied
	}
	return task, nil
}

// UpdateTask applies the non-nil fields of req.
func (s *TaskService) UpdateTask(ctx context.Context, caller model.Identity, id int, req model.UpdateTaskRequest) (*model.Task, error) {
	task, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canAccess(caller, task, model.PermTasksWrite, model.PermTasksWriteAny) {
		return nil, ErrPermissionDenied
	}

	if req.Title != nil {
		task.Title = *req.Title
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.Status != nil {
		task.Status = *req.Status
	}

	if err := s.repo.UpdateTask(ctx, task); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}

	s.invalidate(ctx, task.UserID)
	return task, nil
}

func (s *TaskService) DeleteTask(ctx context.Context, caller model.Identity, id int) error {
	task, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !canAccess(caller, task, model.PermTasksWrite, model.PermTasksWriteAny) {
		return ErrPermissionDenied
	}

	if err := s.repo.DeleteTask(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTaskNotFound
		}
		return err
	}

	s.invalidate(ctx, task.UserID)
	return nil
}

func (s *TaskService) load(ctx context.Context, id int) (*model.Task, error) {
	task, err := s.repo.GetTaskByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

func (s *TaskService) invalidate(ctx context.Context, userID int) {
	if s.cache == nil {
		return
	}
	key := taskCacheKey(userID)
	if err := s.cache.Del(ctx, key).Err(); err != nil {
		logger.Log.WithError(err).WithFields(logrus.Fields{"cache_key": key}).Warn("Task cache invalidation failed")
	}
}

// canAccess grants owners the own permission and everyone else the any permission.
func canAccess(caller model.Identity, task *model.Task, own, anyTask model.Permission) bool {
	if caller.Role.Can(anyTask) {
		return true
	}
	return task.UserID == caller.ID && caller.Role.Can(own)
}
