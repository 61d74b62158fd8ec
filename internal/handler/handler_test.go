package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/config"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/domain"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/metrics"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

type testEnv struct {
	h     *Handler
	mock  sqlmock.Sqlmock
	redis *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := &config.Config{}
	cfg.JWT.Secret = "test-secret"
	cfg.JWT.Expiration = 1
	cfg.Redis.OperationTimeout = 5
	cfg.Database.QueryTimeout = 5
	cfg.Database.TransactionTimeout = 5
	cfg.InitialAdmin.UniqueUserID = "admin"

	h, err := NewHandler(cfg, repository.NewRepository(cfg, db), nil, rdb, metrics.New())
	require.NoError(t, err)
	h.RegisterRoutes()

	return &testEnv{h: h, mock: mock, redis: mr}
}

func (e *testEnv) token(t *testing.T, id int64, role domain.Role) string {
	t.Helper()

	ss, _, err := e.h.issueToken(&domain.User{ID: id, Role: role})
	require.NoError(t, err)
	return ss
}

func (e *testEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.AddCookie(&http.Cookie{Name: tokenCookieName, Value: token})
	}
	rec := httptest.NewRecorder()
	e.h.Mux.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()

	resp := Response{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestAuthRequiresCookie(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/knowledge", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "not logged in", decodeResponse(t, rec).Message)
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/knowledge", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// 用其它密钥签名的 token 同样无效
	other := newTestEnv(t)
	other.h.config.JWT.Secret = "another-secret"
	rec = env.do(http.MethodGet, "/knowledge", other.token(t, 1, domain.RoleController), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutRevokesToken(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, 7, domain.RoleConsultant)

	rec := env.do(http.MethodPost, "/auth/logout", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	keys := env.redis.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "jwt_denylist_"))
	assert.Greater(t, env.redis.TTL(keys[0]), time.Duration(0))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, tokenCookieName, cookies[0].Name)
	assert.Empty(t, cookies[0].Value)

	// 登出后同一个 token 不能再使用
	rec = env.do(http.MethodGet, "/knowledge", token, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token has been revoked", decodeResponse(t, rec).Message)
}

func TestRequirePermission(t *testing.T) {
	env := newTestEnv(t)

	for _, role := range []domain.Role{domain.RoleConsultant, domain.RoleStaff, domain.RoleValidator} {
		rec := env.do(http.MethodGet, "/users", env.token(t, 7, role), "")
		assert.Equal(t, http.StatusForbidden, rec.Code, role)
	}

	rec := env.do(http.MethodPost, "/platform/stats/refresh", env.token(t, 7, domain.RoleStaff), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestKnowledgeIDMustBeNumeric(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/knowledge/abc", env.token(t, 7, domain.RoleConsultant), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateKnowledgeValidation(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, 7, domain.RoleConsultant)

	rec := env.do(http.MethodPost, "/knowledge", token, `{"dataBody": "body", "classification": "Guide"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, decodeResponse(t, rec).Success)

	rec = env.do(http.MethodPost, "/knowledge", token, `{"heading": "h", "dataBody": "b", "classification": "c", "userRating": 7}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// validator 不能创建资源
	rec = env.do(http.MethodPost, "/knowledge", env.token(t, 8, domain.RoleValidator), `{"heading": "h", "dataBody": "b", "classification": "c"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateKnowledgeForDeletedOwner(t *testing.T) {
	env := newTestEnv(t)

	// 用户已被删除但令牌仍在有效期内
	env.mock.ExpectBegin()
	env.mock.ExpectQuery("INSERT INTO knowledge_resources").
		WillReturnError(&pgconn.PgError{Code: foreignKeyViolation, ConstraintName: "knowledge_resources_created_by_fkey"})
	env.mock.ExpectRollback()

	rec := env.do(http.MethodPost, "/knowledge", env.token(t, 42, domain.RoleConsultant), `{"heading": "h", "dataBody": "b", "classification": "c"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestGetAllUserInfoPaginates(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, 1, domain.RoleController)

	env.mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM users").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))
	env.mock.ExpectQuery("FROM users ORDER BY created_at DESC, id DESC LIMIT").
		WithArgs(2, 2).
		WillReturnRows(userRow(t, "secret"))

	rec := env.do(http.MethodGet, "/users?page=2&limit=2", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Users      []json.RawMessage `json:"users"`
			Pagination domain.Pagination `json:"pagination"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Data.Users, 1)
	assert.Equal(t, domain.Pagination{Page: 2, Limit: 2, Total: 3, Pages: 2}, resp.Data.Pagination)
	assert.NoError(t, env.mock.ExpectationsWereMet())

	rec = env.do(http.MethodGet, "/users?page=x", token, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func knowledgeRow(id int64, ownerID int64, state domain.ApprovalState, body string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "resource_code", "heading", "data_body", "classification", "approval_state", "revision_number",
		"user_rating", "access_count", "created_by", "created_at", "updated_at", "version",
		"owner_id", "full_name", "email", "role",
	}).AddRow(
		id, "RES-1", "Onboarding", body, "Guide", string(state), int64(1),
		4.5, int64(0), ownerID, now, now, int64(1),
		ownerID, "王伟", "wang@example.com", string(domain.RoleConsultant),
	)
}

func TestGetKnowledgeNotFound(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery("FROM knowledge_resources kr").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rec := env.do(http.MethodGet, "/knowledge/5", env.token(t, 7, domain.RoleConsultant), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetKnowledgeHiddenFromOtherConsultant(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery("FROM knowledge_resources kr").
		WithArgs(int64(5)).
		WillReturnRows(knowledgeRow(5, 7, domain.StateAuthorized, "body"))
	env.mock.ExpectQuery("SELECT keyword FROM knowledge_keywords").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"keyword"}))

	// consultant 只能看到自己创建的资源
	rec := env.do(http.MethodGet, "/knowledge/5", env.token(t, 9, domain.RoleConsultant), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetRenderedKnowledge(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery("FROM knowledge_resources kr").
		WithArgs(int64(5)).
		WillReturnRows(knowledgeRow(5, 7, domain.StatePending, "# Steps\n\n<script>alert(1)</script>"))
	env.mock.ExpectQuery("SELECT keyword FROM knowledge_keywords").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"keyword"}).AddRow("onboarding"))
	env.mock.ExpectQuery("UPDATE knowledge_resources").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"access_count"}).AddRow(int64(3)))

	rec := env.do(http.MethodGet, "/knowledge/5/rendered", env.token(t, 7, domain.RoleConsultant), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	html, _ := resp.Data["html"].(string)
	assert.Contains(t, html, "<h1>Steps</h1>")
	assert.NotContains(t, html, "<script>")
}

func userRow(t *testing.T, password string) *sqlmock.Rows {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)

	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "unique_user_id", "full_name", "email", "division", "role", "password_hash",
		"profile", "last_login_at", "created_at", "updated_at", "version",
	}).AddRow(int64(7), "wangwei01", "王伟", "wang@example.com", "Consulting", "consultant", string(hash),
		[]byte(`{"specialisationField": "Process"}`), nil, now, now, int64(1))
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery("FROM users WHERE email").WithArgs("wang@example.com").WillReturnRows(userRow(t, "secret"))
	env.mock.ExpectExec("UPDATE users").WillReturnResult(sqlmock.NewResult(0, 1))

	rec := env.do(http.MethodPost, "/auth/login", "", `{"email": "wang@example.com", "password": "secret"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, tokenCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	// 密码错误
	env.mock.ExpectQuery("FROM users WHERE email").WithArgs("wang@example.com").WillReturnRows(userRow(t, "secret"))

	rec = env.do(http.MethodPost, "/auth/login", "", `{"email": "wang@example.com", "password": "wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUpdateMyPassword(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, 7, domain.RoleConsultant)

	env.mock.ExpectQuery("FROM users WHERE id").WithArgs(int64(7)).WillReturnRows(userRow(t, "secret"))
	env.mock.ExpectQuery("UPDATE users").
		WithArgs(sqlmock.AnyArg(), int64(7), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at", "version"}).AddRow(time.Now(), int64(2)))

	rec := env.do(http.MethodPatch, "/my-info/password", token, `{"oldPassword": "secret", "newPassword": "secret2"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	// 旧密码错误时不会写库
	env.mock.ExpectQuery("FROM users WHERE id").WithArgs(int64(7)).WillReturnRows(userRow(t, "secret"))

	rec = env.do(http.MethodPatch, "/my-info/password", token, `{"oldPassword": "wrong", "newPassword": "secret2"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterRejectsPrivilegedRole(t *testing.T) {
	env := newTestEnv(t)

	body := `{"fullName": "李娜", "email": "li@example.com", "password": "secret1", "role": "controller"}`
	rec := env.do(http.MethodPost, "/auth/register", "", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectPing()
	rec := env.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	env.mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	rec = env.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	env.do(http.MethodGet, "/knowledge", "", "")

	rec := env.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `dkn_http_requests_total`)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: heading is required", domain.ErrValidation), http.StatusBadRequest},
		{domain.ErrInvalidState, http.StatusBadRequest},
		{domain.ErrUnauthenticated, http.StatusUnauthorized},
		{domain.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("%w: knowledge resource", domain.ErrNotFound), http.StatusNotFound},
		{domain.ErrDuplicate, http.StatusConflict},
		{domain.ErrConflict, http.StatusConflict},
		{&pgconn.PgError{Code: uniqueViolation}, http.StatusConflict},
		{&pgconn.PgError{Code: foreignKeyViolation, ConstraintName: "knowledge_resources_created_by_fkey"}, http.StatusNotFound},
		{&pgconn.PgError{Code: "23514"}, 0},
		{errors.New("boom"), 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
