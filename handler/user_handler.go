package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go-task-api/common"
	"go-task-api/model"
	"go-task-api/service"
)

// UserManager is the part of service.UserService used by UserHandler.
type UserManager interface {
	ListUsers(ctx context.Context) ([]*model.User, error)
	UpdateUserRole(ctx context.Context, userID int, role model.Role) error
}

type UserHandler struct {
	users UserManager
}

func NewUserHandler(users UserManager) *UserHandler {
	return &UserHandler{users: users}
}

// ListUsers godoc
// @Summary      List all users
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   model.User
// @Failure      403  {object}  common.AppError
// @Router       /api/admin/users [get]
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) *common.AppError {
	users, err := h.users.ListUsers(r.Context())
	if err != nil {
		return common.NewAppError(http.StatusInternalServerError, "Could not retrieve users", err)
	}
	if users == nil {
		users = []*model.User{}
	}
	common.WriteJSON(w, http.StatusOK, users)
	return nil
}

// UpdateUserRole godoc
// @Summary      Change a user's role
// @Tags         admin
// @Accept       json
// @Security     BearerAuth
// @Param        id    path  int                          true  "User ID"
// @Param        body  body  model.UpdateUserRoleRequest  true  "New role"
// @Success      204
// @Failure      400  {object}  common.AppError
// @Failure      404  {object}  common.AppError
// @Router       /api/admin/users/{id}/role [patch]
func (h *UserHandler) UpdateUserRole(w http.ResponseWriter, r *http.Request) *common.AppError {
	userID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || userID <= 0 {
		return common.NewAppError(http.StatusBadRequest, "Invalid user ID", err)
	}

	var req model.UpdateUserRoleRequest
	if appErr := common.ValidateAndDecode(w, r, &req); appErr != nil {
		return appErr
	}

	if err := h.users.UpdateUserRole(r.Context(), userID, req.Role); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRole):
			return common.NewAppError(http.StatusBadRequest, "Invalid role specified", err)
		case errors.Is(err, service.ErrUserNotFound):
			return common.NewAppError(http.StatusNotFound, "User not found", err)
		default:
			return common.NewAppError(http.StatusInternalServerError, "Could not update user role", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}
