package router

import (
	"net/http"

	"go-task-api/common"
	_ "go-task-api/docs"
	"go-task-api/handler"
	"go-task-api/model"
	"go-task-api/ratelimit"

	httpSwagger "github.com/swaggo/http-swagger/v2"
)

// Deps are the collaborators the route table is built from.
type Deps struct {
	Auth  *handler.AuthHandler
	Tasks *handler.TaskHandler
	Users *handler.UserHandler

	Tokens            handler.TokenParser
	Guard             handler.Admitter
	Rules             *ratelimit.RuleSet
	TrustProxyHeaders bool
}

func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()

	// limited applies the configured quota for the route template.
	limited := func(method, route string) func(http.Handler) http.Handler {
		return handler.RateLimitMiddleware(d.Guard, route, d.Rules.For(method, route), d.TrustProxyHeaders)
	}

	public := func(method, route string, h func(http.ResponseWriter, *http.Request) *common.AppError) {
		mux.Handle(method+" "+route, handler.Chain(handler.ErrorHandlingMiddleware(h), limited(method, route)))
	}
	protected := func(method, route string, h func(http.ResponseWriter, *http.Request) *common.AppError, mw ...func(http.Handler) http.Handler) {
		// Callers failing authentication are limited by address on the same route.
		authed := handler.AuthMiddleware(d.Tokens, limited(method, route))
		chain := append([]func(http.Handler) http.Handler{authed, limited(method, route)}, mw...)
		mux.Handle(method+" "+route, handler.Chain(handler.ErrorHandlingMiddleware(h), chain...))
	}

	mux.HandleFunc("GET /health", handler.HealthCheck)
	mux.Handle("GET /swagger/", httpSwagger.WrapHandler)

	public("POST", "/auth/register", d.Auth.Register)
	public("POST", "/auth/login", d.Auth.Login)
	public("POST", "/auth/refresh-token", d.Auth.RefreshToken)
	public("PATCH", "/auth/refresh-token/blacklist", d.Auth.BlacklistRefreshToken)

	protected("GET", "/api/me", d.Auth.Me)
	protected("GET", "/api/sessions", d.Auth.Sessions)

	protected("POST", "/api/tasks", d.Tasks.CreateTask, handler.RequirePermission(model.PermTasksWrite))
	protected("GET", "/api/tasks", d.Tasks.ListTasks, handler.RequirePermission(model.PermTasksRead))
	protected("GET", "/api/tasks/{id}", d.Tasks.GetTask, handler.RequirePermission(model.PermTasksRead))
	protected("PATCH", "/api/tasks/{id}", d.Tasks.UpdateTask, handler.RequirePermission(model.PermTasksWrite))
	protected("DELETE", "/api/tasks/{id}", d.Tasks.DeleteTask, handler.RequirePermission(model.PermTasksWrite))

	protected("GET", "/api/admin/users", d.Users.ListUsers, handler.RequirePermission(model.PermUsersManage))
	protected("PATCH", "/api/admin/users/{id}/role", d.Users.UpdateUserRole, handler.RequirePermission(model.PermUsersManage))

	return handler.RequestLogger(mux)
}
