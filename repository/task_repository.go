package repository

import (
	"context"
	"database/sql"
	"errors"

	"go-task-api/logger"
	"go-task-api/model"

	"github.com/sirupsen/logrus"
)

// ITaskRepository defines the contract for task database operations.
type ITaskRepository interface {
	CreateTask(ctx context.Context, task *model.Task) error
	GetTaskByID(ctx context.Context, id int) (*model.Task, error)
	ListTasksByUserID(ctx context.Context, userID int) ([]*model.Task, error)
	ListAllTasks(ctx context.Context) ([]*model.Task, error)
	UpdateTask(ctx context.Context, task *model.Task) error
	DeleteTask(ctx context.Context, id int) error
}

type TaskRepository struct {
	DB *sql.DB
}

func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{DB: db}
}

const taskColumns = `id, user_id, title, description, status, created_at, updated_at`

// CreateTask adds a new task to the database.
func (r *TaskRepository) CreateTask(ctx context.Context, task *model.Task) error {
	log := logger.Log.WithFields(logrus.Fields{
		"user_id": task.UserID,
		"status":  task.Status,
	})
	log.Info("Executing query to create a new task")

	query := `INSERT INTO tasks (user_id, title, description, status) VALUES ($1, $2, $3, $4) RETURNING id, created_at, updated_at`
	err := r.DB.QueryRowContext(ctx, query, task.UserID, task.Title, task.Description, task.Status).
		Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		log.WithError(err).Error("Failed to execute create task query")
		return err
	}
	return nil
}

func (r *TaskRepository) GetTaskByID(ctx context.Context, id int) (*model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	var t model.Task
	err := r.DB.QueryRowContext(ctx, query, id).
		Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		logger.Log.WithError(err).WithField("task_id", id).Error("Failed to execute get task query")
		return nil, err
	}
	return &t, nil
}

// ListTasksByUserID retrieves all tasks owned by a user, newest first.
func (r *TaskRepository) ListTasksByUserID(ctx context.Context, userID int) ([]*model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	return r.list(ctx, query, userID)
}

// ListAllTasks retrieves every task. For admin use only.
func (r *TaskRepository) ListAllTasks(ctx context.Context) ([]*model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at DESC, id DESC`
	return r.list(ctx, query)
}

func (r *TaskRepository) list(ctx context.Context, query string, args ...any) ([]*model.Task, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		logger.Log.WithError(err).Error("Failed to execute task list query")
		return nil, err
	}
	defer rows.Close()

	tasks := []*model.Task{}
	for rows.Next() {
		var t model.Task
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			logger.Log.WithError(err).Error("Failed to scan task row")
			return nil, err
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

// UpdateTask writes title, description and status and refreshes UpdatedAt.
func (r *TaskRepository) UpdateTask(ctx context.Context, task *model.Task) error {
	query := `UPDATE tasks SET title = $1, description = $2, status = $3, updated_at = NOW() WHERE id = $4 RETURNING updated_at`
	err := r.DB.QueryRowContext(ctx, query, task.Title, task.Description, task.Status, task.ID).Scan(&task.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		logger.Log.WithError(err).WithField("task_id", task.ID).Error("Failed to execute update task query")
		return err
	}
	return nil
}

func (r *TaskRepository) DeleteTask(ctx context.Context, id int) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		logger.Log.WithError(err).WithField("task_id", id).Error("Failed to execute delete task query")
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
