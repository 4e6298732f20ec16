//go:build integration

// file: router/router_test.go

package router_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"go-task-api/app"
	"go-task-api/config"
	"go-task-api/db"
	"go-task-api/logger"
	"go-task-api/model"
	"go-task-api/service"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testApp *app.App
var testRedisClient *redis.Client

// TestMain expects a Postgres test database and a Redis instance, configured
// through config.yml or TASKAPI_* variables.
func TestMain(m *testing.M) {
	logger.Init()
	cfg, err := config.Load("../")
	if err != nil {
		log.Fatalf("could not load config: %v", err)
	}
	cfg.Database.Name += "_test"
	cfg.Database.MigrationsPath = "../db/migrations"
	cfg.Security.BcryptCost = 4
	cfg.RateLimit.Routes = nil
	cfg.RateLimit.DefaultLimit = 1000

	database, err := db.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("could not connect to test database: %v", err)
	}
	if err := db.RunMigrations(database, cfg.Database.MigrationsPath); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// Use a separate Redis DB for test isolation.
	redisCfg := cfg.Redis
	redisCfg.DB = 1
	testRedisClient, err = db.ConnectRedis(redisCfg)
	if err != nil {
		log.Fatalf("could not connect to test redis: %v", err)
	}

	testApp = app.New(cfg, database, testRedisClient)

	exitCode := m.Run()

	database.Close()
	testRedisClient.Close()
	os.Exit(exitCode)
}

// --- Test Helper Functions ---

func do(t *testing.T, method, target, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req, _ := http.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	testApp.Router.ServeHTTP(rr, req)
	return rr
}

func registerForTest(t *testing.T, email, password string) service.AuthResult {
	t.Helper()
	body := fmt.Sprintf(`{"email":"%s","name":"Test User","password":"%s"}`, email, password)
	rr := do(t, "POST", "/auth/register", body, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var res service.AuthResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	t.Cleanup(func() { cleanupUser(t, email) })
	return res
}

func cleanupUser(t *testing.T, email string) {
	_, err := testApp.DB.Exec("DELETE FROM users WHERE email = $1", email)
	assert.NoError(t, err, "Failed to clean up user")
}

func refresh(t *testing.T, token string) *httptest.ResponseRecorder {
	return do(t, "POST", "/auth/refresh-token", fmt.Sprintf(`{"token":"%s"}`, token), "")
}

// --- Test Suites ---

func TestHealthCheck_Integration(t *testing.T) {
	rr := do(t, "GET", "/health", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"API is healthy and running"}`, rr.Body.String())
}

func TestRegisterAndLogin_Integration(t *testing.T) {
	email := "login.test@example.com"
	res := registerForTest(t, email, "password123")
	assert.Equal(t, model.RoleUser, res.User.Role)

	rr := do(t, "POST", "/auth/register", `{"email":"login.test@example.com","name":"Again","password":"password123"}`, "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, "POST", "/auth/login", `{"email":"login.test@example.com","password":"password123"}`, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	wrong := do(t, "POST", "/auth/login", `{"email":"login.test@example.com","password":"wrongpassword"}`, "")
	unknown := do(t, "POST", "/auth/login", `{"email":"nobody@example.com","password":"wrongpassword"}`, "")
	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())
}

func TestRefreshRotation_Integration(t *testing.T) {
	res := registerForTest(t, "rotation@test.com", "password123")
	tokenA := res.RefreshToken

	rr := refresh(t, tokenA)
	require.Equal(t, http.StatusOK, rr.Code)
	var pair service.TokenPair
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &pair))
	tokenB := pair.RefreshToken

	assert.Equal(t, http.StatusUnauthorized, refresh(t, tokenA).Code)
	assert.Equal(t, http.StatusOK, refresh(t, tokenB).Code)

	var stored int
	err := testApp.DB.QueryRow(`SELECT COUNT(*) FROM refresh_tokens WHERE token_hash = $1`, tokenA).Scan(&stored)
	require.NoError(t, err)
	assert.Zero(t, stored, "plaintext tokens are never stored")
}

func TestConcurrentLogins_Integration(t *testing.T) {
	res := registerForTest(t, "concurrent@test.com", "password123")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			do(t, "POST", "/auth/login", `{"email":"concurrent@test.com","password":"password123"}`, "")
		}()
	}
	wg.Wait()

	var live int
	err := testApp.DB.QueryRow(
		`SELECT COUNT(*) FROM refresh_tokens WHERE user_id = $1 AND revoked = FALSE AND expires_at > NOW()`,
		res.User.ID,
	).Scan(&live)
	require.NoError(t, err)
	assert.Equal(t, 1, live)
}

func TestBlacklist_Integration(t *testing.T) {
	res := registerForTest(t, "blacklist@test.com", "password123")
	body := fmt.Sprintf(`{"token":"%s"}`, res.RefreshToken)

	assert.Equal(t, http.StatusNoContent, do(t, "PATCH", "/auth/refresh-token/blacklist", body, "").Code)
	assert.Equal(t, http.StatusNoContent, do(t, "PATCH", "/auth/refresh-token/blacklist", body, "").Code)
	assert.Equal(t, http.StatusUnauthorized, refresh(t, res.RefreshToken).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, "PATCH", "/auth/refresh-token/blacklist", `{"token":"unknown"}`, "").Code)

	// Access tokens stay valid until they expire.
	assert.Equal(t, http.StatusOK, do(t, "GET", "/api/me", "", res.AccessToken).Code)
}

func TestTasks_Caching_Integration(t *testing.T) {
	require.NoError(t, testRedisClient.FlushDB(context.Background()).Err())
	res := registerForTest(t, "tasks@test.com", "password123")
	token := res.AccessToken

	rr := do(t, "POST", "/api/tasks", `{"title":"first"}`, token)
	require.Equal(t, http.StatusCreated, rr.Code)
	var task model.Task
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &task))

	rr = do(t, "GET", "/api/tasks", "", token)
	assert.Equal(t, http.StatusOK, rr.Code)
	cacheKey := fmt.Sprintf("tasks:%d", res.User.ID)
	cached, err := testRedisClient.Get(context.Background(), cacheKey).Result()
	assert.NoError(t, err)
	assert.NotEmpty(t, cached)

	rr = do(t, "PATCH", fmt.Sprintf("/api/tasks/%d", task.ID), `{"status":"done"}`, token)
	assert.Equal(t, http.StatusOK, rr.Code)
	_, err = testRedisClient.Get(context.Background(), cacheKey).Result()
	assert.Equal(t, redis.Nil, err, "cache key should be deleted after a write")

	other := registerForTest(t, "other@test.com", "password123")
	rr = do(t, "GET", fmt.Sprintf("/api/tasks/%d", task.ID), "", other.AccessToken)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, "DELETE", fmt.Sprintf("/api/tasks/%d", task.ID), "", token)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestAdminRoutes_Integration(t *testing.T) {
	admin := registerForTest(t, "admin@test.com", "password123")
	regular := registerForTest(t, "user@test.com", "password123")
	_, err := testApp.DB.Exec(`UPDATE users SET role = 'admin' WHERE id = $1`, admin.User.ID)
	require.NoError(t, err)

	// Roles are read from the access token, so log in again after the change.
	rr := do(t, "POST", "/auth/login", `{"email":"admin@test.com","password":"password123"}`, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var login service.AuthResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &login))

	assert.Equal(t, http.StatusOK, do(t, "GET", "/api/admin/users", "", login.AccessToken).Code)
	assert.Equal(t, http.StatusForbidden, do(t, "GET", "/api/admin/users", "", regular.AccessToken).Code)

	target := fmt.Sprintf("/api/admin/users/%d/role", regular.User.ID)
	assert.Equal(t, http.StatusNoContent, do(t, "PATCH", target, `{"role":"admin"}`, login.AccessToken).Code)
}

func TestSweeper_Integration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		testApp.Limits.Run(ctx, 10*time.Millisecond, nil)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
