package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go-task-api/common"
	"go-task-api/logger"
	"go-task-api/model"
	"go-task-api/service"

	"github.com/sirupsen/logrus"
)

// TaskManager is the part of service.TaskService used by TaskHandler.
type TaskManager interface {
	CreateTask(ctx context.Context, caller model.Identity, req model.CreateTaskRequest) (*model.Task, error)
	ListTasks(ctx context.Context, caller model.Identity) ([]*model.Task, error)
	GetTask(ctx context.Context, caller model.Identity, id int) (*model.Task, error)
	UpdateTask(ctx context.Context, caller model.Identity, id int, req model.UpdateTaskRequest) (*model.Task, error)
	DeleteTask(ctx context.Context, caller model.Identity, id int) error
}

type TaskHandler struct {
	tasks TaskManager
}

func NewTaskHandler(tasks TaskManager) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// CreateTask godoc
// @Summary      Create a task
// @Tags         tasks
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      model.CreateTaskRequest  true  "Task"
// @Success      201   {object}  model.Task
// @Failure      400   {object}  common.AppError
// @Router       /api/tasks [post]
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) *common.AppError {
	caller, ok := IdentityFromContext(r.Context())
	if !ok {
		return common.NewAppError(http.StatusUnauthorized, "Missing identity", nil)
	}

	var req model.CreateTaskRequest
	if appErr := common.ValidateAndDecode(w, r, &req); appErr != nil {
		return appErr
	}

	logger.Log.WithFields(logrus.Fields{"user_id": caller.ID}).Info("Create task request received")

	task, err := h.tasks.CreateTask(r.Context(), caller, req)
	if err != nil {
		return taskFailure(err, "Could not create task")
	}

	common.WriteJSON(w, http.StatusCreated, task)
	return nil
}

// ListTasks godoc
// @Summary      List tasks
// @Description  Own tasks, or every task for roles with tasks:read_any.
// @Tags         tasks
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}  model.Task
// @Router       /api/tasks [get]
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) *common.AppError {
	caller, ok := IdentityFromContext(r.Context())
	if !ok {
		return common.NewAppError(http.StatusUnauthorized, "Missing identity", nil)
	}

	tasks, err := h.tasks.ListTasks(r.Context(), caller)
	if err != nil {
		return taskFailure(err, "Could not retrieve tasks")
	}

	common.WriteJSON(w, http.StatusOK, tasks)
	return nil
}

// GetTask godoc
// @Summary      Get a task
// @Tags         tasks
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "Task ID"
// @Success      200  {object}  model.Task
// @Failure      403  {object}  common.AppError
// @Failure      404  {object}  common.AppError
// @Router       /api/tasks/{id} [get]
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) *common.AppError {
	caller, id, appErr := callerAndID(r)
	if appErr != nil {
		return appErr
	}

	task, err := h.tasks.GetTask(r.Context(), caller, id)
	if err != nil {
		return taskFailure(err, "Could not retrieve task")
	}

	common.WriteJSON(w, http.StatusOK, task)
	return nil
}

// UpdateTask godoc
// @Summary      Update a task
// @Tags         tasks
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      int                      true  "Task ID"
// @Param        body  body      model.UpdateTaskRequest  true  "Fields to change"
// @Success      200   {object}  model.Task
// @Failure      403   {object}  common.AppError
// @Failure      404   {object}  common.AppError
// @Router       /api/tasks/{id} [patch]
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) *common.AppError {
	caller, id, appErr := callerAndID(r)
	if appErr != nil {
		return appErr
	}

	var req model.UpdateTaskRequest
	if appErr := common.ValidateAndDecode(w, r, &req); appErr != nil {
		return appErr
	}

	task, err := h.tasks.UpdateTask(r.Context(), caller, id, req)
	if err != nil {
		return taskFailure(err, "Could not update task")
	}

	common.WriteJSON(w, http.StatusOK, task)
	return nil
}

// DeleteTask godoc
// @Summary      Delete a task
// @Tags         tasks
// @Security     BearerAuth
// @Param        id  path  int  true  "Task ID"
// @Success      204
// @Failure      403  {object}  common.AppError
// @Failure      404  {object}  common.AppError
// @Router       /api/tasks/{id} [delete]
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) *common.AppError {
	caller, id, appErr := callerAndID(r)
	if appErr != nil {
		return appErr
	}

	if err := h.tasks.DeleteTask(r.Context(), caller, id); err != nil {
		return taskFailure(err, "Could not delete task")
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func callerAndID(r *http.Request) (model.Identity, int, *common.AppError) {
	caller, ok := IdentityFromContext(r.Context())
	if !ok {
		return model.Identity{}, 0, common.NewAppError(http.StatusUnauthorized, "Missing identity", nil)
	}
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		return model.Identity{}, 0, common.NewAppError(http.StatusBadRequest, "Invalid task ID", err)
	}
	return caller, id, nil
}

func taskFailure(err error, message string) *common.AppError {
	switch {
	case errors.Is(err, service.ErrTaskNotFound):
		return common.NewAppError(http.StatusNotFound, "Task not found", err)
	case errors.Is(err, service.ErrPermissionDenied):
		return common.NewAppError(http.StatusForbidden, "Access denied", err)
	default:
		return common.NewAppError(http.StatusInternalServerError, message, err)
	}
}
