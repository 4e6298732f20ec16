package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go-task-api/common"
	"go-task-api/logger"
	"go-task-api/model"
	"go-task-api/service"
)

// Authenticator is the part of service.AuthService used by AuthHandler.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*service.AuthResult, error)
	Register(ctx context.Context, name, email, password string) (*service.AuthResult, error)
	Refresh(ctx context.Context, token string) (*service.TokenPair, error)
	Logout(ctx context.Context, token string) error
	Sessions(ctx context.Context, userID int) ([]*model.RefreshToken, error)
}

type AuthHandler struct {
	auth Authenticator
}

func NewAuthHandler(auth Authenticator) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// SessionResponse describes one live refresh session.
type SessionResponse struct {
	ID        int       `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Register godoc
// @Summary      Register a new user
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      model.RegisterRequest  true  "New user"
// @Success      201   {object}  service.AuthResult
// @Failure      400   {object}  common.AppError
// @Failure      409   {object}  common.AppError
// @Failure      429   {object}  common.TooManyRequestsBody
// @Router       /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) *common.AppError {
	var req model.RegisterRequest
	if appErr := common.ValidateAndDecode(w, r, &req); appErr != nil {
		return appErr
	}

	res, err := h.auth.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) {
			return common.NewAppError(http.StatusConflict, "Email is already registered", err)
		}
		return common.NewAppError(http.StatusInternalServerError, "Could not register user", err)
	}

	common.WriteJSON(w, http.StatusCreated, res)
	return nil
}

// Login godoc
// @Summary      Log in with email and password
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      model.LoginRequest  true  "Credentials"
// @Success      200   {object}  service.AuthResult
// @Failure      401   {object}  common.AppError
// @Failure      429   {object}  common.TooManyRequestsBody
// @Router       /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) *common.AppError {
	var req model.LoginRequest
	if appErr := common.ValidateAndDecode(w, r, &req); appErr != nil {
		return appErr
	}

	res, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		return authFailure(err)
	}

	common.WriteJSON(w, http.StatusOK, res)
	return nil
}

// RefreshToken godoc
// @Summary      Exchange a refresh token for a new token pair
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      model.RefreshTokenRequest  true  "Refresh token"
// @Success      200   {object}  service.TokenPair
// @Failure      401   {object}  common.AppError
// @Failure      429   {object}  common.TooManyRequestsBody
// @Router       /auth/refresh-token [post]
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) *common.AppError {
	var req model.RefreshTokenRequest
	if appErr := common.ValidateAndDecode(w, r, &req); appErr != nil {
		return appErr
	}

	pair, err := h.auth.Refresh(r.Context(), req.Token)
	if err != nil {
		return authFailure(err)
	}

	common.WriteJSON(w, http.StatusOK, pair)
	return nil
}

// BlacklistRefreshToken godoc
// @Summary      Revoke a refresh token
// @Tags         auth
// @Accept       json
// @Param        body  body  model.RefreshTokenRequest  true  "Refresh token"
// @Success      204
// @Failure      401   {object}  common.AppError
// @Router       /auth/refresh-token/blacklist [patch]
func (h *AuthHandler) BlacklistRefreshToken(w http.ResponseWriter, r *http.Request) *common.AppError {
	var req model.RefreshTokenRequest
	if appErr := common.ValidateAndDecode(w, r, &req); appErr != nil {
		return appErr
	}

	if err := h.auth.Logout(r.Context(), req.Token); err != nil {
		return authFailure(err)
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

// Me godoc
// @Summary      Show the authenticated caller
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  model.Identity
// @Failure      401  {object}  common.AppError
// @Router       /api/me [get]
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) *common.AppError {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		return common.NewAppError(http.StatusUnauthorized, "Missing identity", nil)
	}
	common.WriteJSON(w, http.StatusOK, id)
	return nil
}

// Sessions godoc
// @Summary      List the caller's live refresh sessions
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   SessionResponse
// @Failure      401  {object}  common.AppError
// @Router       /api/sessions [get]
func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) *common.AppError {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		return common.NewAppError(http.StatusUnauthorized, "Missing identity", nil)
	}

	tokens, err := h.auth.Sessions(r.Context(), id.ID)
	if err != nil {
		return common.NewAppError(http.StatusInternalServerError, "Could not list sessions", err)
	}

	sessions := make([]SessionResponse, 0, len(tokens))
	for _, t := range tokens {
		sessions = append(sessions, SessionResponse{ID: t.ID, CreatedAt: t.CreatedAt, ExpiresAt: t.ExpiresAt})
	}
	common.WriteJSON(w, http.StatusOK, sessions)
	return nil
}

func authFailure(err error) *common.AppError {
	if errors.Is(err, service.ErrAuthenticationFailed) {
		logger.Log.WithError(err).Debug("Authentication failed")
		return common.NewAppError(http.StatusUnauthorized, "AuthenticationFailed", nil)
	}
	return common.NewAppError(http.StatusInternalServerError, "Authentication is unavailable", err)
}
