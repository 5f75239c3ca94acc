package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/kvsync/backend/internal/config"
	"github.com/kvsync/backend/internal/logging"
	"github.com/kvsync/backend/internal/model"
	"github.com/kvsync/backend/internal/service"
	"github.com/kvsync/backend/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAdmin   = "admin"
	testAdminPW = "correct-pw"
)

type testServer struct {
	mr     *miniredis.Miniredis
	router *gin.Engine
	svc    *service.AuthService
}

func newTestServer(t *testing.T, mutate ...func(*config.AuthConfig)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	st := store.NewRedisFromClient(client)

	cfg := config.AuthConfig{
		JWTSecret:           "handler-test-secret",
		TokenTTL:            "4h",
		VersionCacheTTL:     "5m",
		RevocationCacheSize: "100",
		PrimaryUsername:     testAdmin,
		PrimaryPassword:     testAdminPW,
		AdminUsername:       testAdmin,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	svc, err := service.NewAuthService(st, cfg)
	require.NoError(t, err)

	router := NewRouter(RouterConfig{
		Auth:           svc,
		Store:          st,
		Logger:         logging.Discard(),
		AllowedOrigins: []string{"https://app.example.com"},
	})
	return &testServer{mr: mr, router: router, svc: svc}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) login(t *testing.T, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(model.LoginRequest{Username: username, Password: password})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

func (s *testServer) token(t *testing.T) string {
	t.Helper()
	w := s.login(t, testAdmin, testAdminPW)
	require.Equal(t, http.StatusOK, w.Code)
	var resp model.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Token
}

func bearer(method, path, token string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func tokenCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == "authToken" {
			return c
		}
	}
	return nil
}

func TestLoginHandler(t *testing.T) {
	srv := newTestServer(t)

	w := srv.login(t, testAdmin, testAdminPW)
	require.Equal(t, http.StatusOK, w.Code)

	var resp model.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, int64((4 * time.Hour).Seconds()), resp.ExpiresIn)

	cookie := tokenCookie(w)
	require.NotNil(t, cookie)
	assert.Equal(t, resp.Token, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
}

func TestLoginHandlerFailures(t *testing.T) {
	srv := newTestServer(t)

	w := srv.login(t, testAdmin, "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var resp model.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "invalid username or password", resp.Error)
	assert.Nil(t, tokenCookie(w))

	unknown := srv.login(t, "nobody", "wrong")
	assert.Equal(t, w.Body.String(), unknown.Body.String())

	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, srv.do(req).Code)
}

func TestLoginHandlerWithoutSecret(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.AuthConfig) { cfg.JWTSecret = "" })

	w := srv.login(t, testAdmin, testAdminPW)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, srv.mr.Keys())
}

func TestAuthGateTokenSources(t *testing.T) {
	srv := newTestServer(t)
	token := srv.token(t)

	fromHeader := bearer(http.MethodGet, "/api/me", token)

	fromCookie := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	fromCookie.AddCookie(&http.Cookie{Name: "authToken", Value: token})

	fromQuery := httptest.NewRequest(http.MethodGet, "/api/me?token="+token, nil)

	for name, req := range map[string]*http.Request{
		"header": fromHeader,
		"cookie": fromCookie,
		"query":  fromQuery,
	} {
		t.Run(name, func(t *testing.T) {
			w := srv.do(req)
			require.Equal(t, http.StatusOK, w.Code)
			var resp model.MeResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, testAdmin, resp.Username)
		})
	}
}

func TestAuthGateHeaderWinsOverCookie(t *testing.T) {
	srv := newTestServer(t)
	token := srv.token(t)

	req := bearer(http.MethodGet, "/api/me", "garbage")
	req.AddCookie(&http.Cookie{Name: "authToken", Value: token})

	w := srv.do(req)
	assert.Equal(t, http.StatusFound, w.Code)
}

func TestAuthGateRedirect(t *testing.T) {
	srv := newTestServer(t)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/me", nil),
		bearer(http.MethodGet, "/api/me", "not-a-token"),
	} {
		w := srv.do(req)
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/login", w.Header().Get("Location"))

		cookie := tokenCookie(w)
		require.NotNil(t, cookie)
		assert.Empty(t, cookie.Value)
		assert.Negative(t, cookie.MaxAge)
	}
}

func TestLogoutHandler(t *testing.T) {
	srv := newTestServer(t)
	token := srv.token(t)

	w := srv.do(bearer(http.MethodPost, "/api/logout", token))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
	require.NotNil(t, tokenCookie(w))
	assert.Empty(t, tokenCookie(w).Value)

	assert.Equal(t, http.StatusFound, srv.do(bearer(http.MethodGet, "/api/me", token)).Code)

	again := srv.do(bearer(http.MethodPost, "/api/logout", token))
	assert.Equal(t, http.StatusOK, again.Code)

	anonymous := srv.do(httptest.NewRequest(http.MethodPost, "/api/logout", nil))
	assert.Equal(t, http.StatusOK, anonymous.Code)
}

func TestLogoutHandlerIgnoresStoreOutage(t *testing.T) {
	srv := newTestServer(t)
	token := srv.token(t)

	srv.mr.SetError("READONLY down")
	w := srv.do(bearer(http.MethodPost, "/api/logout", token))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
}

func TestRefreshHandler(t *testing.T) {
	srv := newTestServer(t)
	token := srv.token(t)

	w := srv.do(bearer(http.MethodPost, "/api/refresh-token", token))
	require.Equal(t, http.StatusOK, w.Code)
	var resp model.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEqual(t, token, resp.Token)
	require.NotNil(t, tokenCookie(w))
	assert.Equal(t, resp.Token, tokenCookie(w).Value)

	assert.Equal(t, http.StatusOK, srv.do(bearer(http.MethodGet, "/api/me", resp.Token)).Code)
	assert.Equal(t, http.StatusFound, srv.do(bearer(http.MethodGet, "/api/me", token)).Code)

	replay := srv.do(bearer(http.MethodPost, "/api/refresh-token", token))
	assert.Equal(t, http.StatusUnauthorized, replay.Code)
}

func TestForceReloginHandler(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.mr.Set("auth:alice", `{"username":"alice","password":"alice-password"}`))

	adminToken := srv.token(t)
	w := srv.login(t, "alice", "alice-password")
	require.Equal(t, http.StatusOK, w.Code)
	var alice model.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &alice))

	forbidden := srv.do(bearer(http.MethodPost, "/api/admin/force-relogin", alice.Token))
	assert.Equal(t, http.StatusForbidden, forbidden.Code)
	assert.JSONEq(t, `{"success":false,"error":"forbidden"}`, forbidden.Body.String())

	unauthorized := srv.do(bearer(http.MethodPost, "/api/admin/force-relogin", "garbage"))
	assert.Equal(t, http.StatusUnauthorized, unauthorized.Code)

	ok := srv.do(bearer(http.MethodPost, "/api/admin/force-relogin", adminToken))
	require.Equal(t, http.StatusOK, ok.Code)
	assert.JSONEq(t, `{"success":true,"newVersion":1}`, ok.Body.String())

	assert.Equal(t, http.StatusFound, srv.do(bearer(http.MethodGet, "/api/me", adminToken)).Code)
	assert.Equal(t, http.StatusFound, srv.do(bearer(http.MethodGet, "/api/me", alice.Token)).Code)

	fresh := srv.token(t)
	assert.Equal(t, http.StatusOK, srv.do(bearer(http.MethodGet, "/api/me", fresh)).Code)
}

func TestSessionsHandler(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.mr.Set("auth:alice", `{"username":"alice","password":"alice-password"}`))

	adminToken := srv.token(t)
	require.Equal(t, http.StatusOK, srv.login(t, "alice", "alice-password").Code)

	w := srv.do(bearer(http.MethodGet, "/api/admin/sessions", adminToken))
	require.Equal(t, http.StatusOK, w.Code)
	var resp model.SessionsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Sessions, 2)
	for _, s := range resp.Sessions {
		assert.NotEqual(t, adminToken, s.Token)
		assert.Contains(t, s.Token, "...")
	}

	assert.Equal(t, http.StatusUnauthorized, srv.do(bearer(http.MethodGet, "/api/admin/sessions", "")).Code)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ping", Ping)
	r.GET("/up", Healthz(pingerFunc(func(context.Context) error { return nil })))
	r.GET("/down", Healthz(pingerFunc(func(context.Context) error { return errors.New("refused") })))

	for path, want := range map[string]int{
		"/ping": http.StatusOK,
		"/up":   http.StatusOK,
		"/down": http.StatusServiceUnavailable,
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, w.Code, path)
	}
}

func TestRequestLoggerSetsRequestID(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w = srv.do(req)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

func TestCORSMiddleware(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/login", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := srv.do(req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = srv.do(req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
