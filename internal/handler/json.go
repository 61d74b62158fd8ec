package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/domain"
)

// Postgres 约束冲突的错误码
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

func (h *Handler) logInternalServerError(r *http.Request, err error) {
	slog.Error("服务器内部错误", "method", r.Method, "path", r.URL.Path, "error", err)
}

func (h *Handler) readJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logInternalServerError(r, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func (h *Handler) errorResponse(w http.ResponseWriter, r *http.Request, status int, msg string) {
	h.writeJSON(w, r, status, Response{
		Success: false,
		Message: msg,
		Data:    nil,
	})
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		h.errorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	h.errorResponse(w, r, http.StatusBadRequest, validationErrors[0].Translate(h.translator))
}

func (h *Handler) internalServerError(w http.ResponseWriter, r *http.Request, err error) {
	h.logInternalServerError(r, err)
	h.writeJSON(w, r, http.StatusInternalServerError, Response{
		Success: false,
		Message: "internal server error",
		Data:    nil,
	})
}

func (h *Handler) successResponse(w http.ResponseWriter, r *http.Request, msg string, data any) {
	h.writeJSON(w, r, http.StatusOK, Response{
		Success: true,
		Message: msg,
		Data:    data,
	})
}

func (h *Handler) createdResponse(w http.ResponseWriter, r *http.Request, msg string, data any) {
	h.writeJSON(w, r, http.StatusCreated, Response{
		Success: true,
		Message: msg,
		Data:    data,
	})
}

// statusFor 把领域错误映射为 HTTP 状态码，未知错误返回 0
func statusFor(err error) int {
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicate), errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.As(err, &pgErr) && pgErr.Code == uniqueViolation:
		return http.StatusConflict
	// 引用的用户或资源已被删除，例如已删除用户的令牌仍在有效期内
	case errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation:
		return http.StatusNotFound
	default:
		return 0
	}
}

// serviceError 统一处理 service 层返回的错误
func (h *Handler) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == 0 {
		h.internalServerError(w, r, err)
		return
	}
	h.errorResponse(w, r, status, err.Error())
}

// readPageParams 读取 page 和 limit 查询参数，格式错误时已写入 400 响应
func (h *Handler) readPageParams(w http.ResponseWriter, r *http.Request) (page, limit int, ok bool) {
	query := r.URL.Query()

	params := []struct {
		name string
		dst  *int
	}{
		{"page", &page},
		{"limit", &limit},
	}
	for _, p := range params {
		raw := query.Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			h.errorResponse(w, r, http.StatusBadRequest, "invalid "+p.name)
			return 0, 0, false
		}
		*p.dst = v
	}

	return page, limit, true
}
