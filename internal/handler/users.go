package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/domain"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/utils"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/workflow"
	"golang.org/x/crypto/bcrypt"
)

// userConstraintError 把用户表的唯一约束冲突转换为 409
func (h *Handler) userConstraintError(w http.ResponseWriter, r *http.Request, err error) {
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr):
		switch pgErr.ConstraintName {
		case "users_unique_user_id_key":
			h.errorResponse(w, r, http.StatusConflict, "unique user id already exists")
		case "users_email_key":
			h.errorResponse(w, r, http.StatusConflict, "email already exists")
		default:
			h.internalServerError(w, r, err)
		}
	default:
		h.serviceError(w, r, err)
	}
}

func (h *Handler) refreshPlatform() {
	if _, err := h.stats.RefreshPlatform(); err != nil {
		slog.Warn("刷新平台统计失败", slog.String("error", err.Error()))
	}
}

func (h *Handler) GetAllUserInfo(w http.ResponseWriter, r *http.Request) {
	page, limit, ok := h.readPageParams(w, r)
	if !ok {
		return
	}
	page, limit = workflow.NormalizePage(page, limit)

	users, total, err := h.repository.ListUsers(page, limit)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "users fetched", domain.UserPage{
		Users:      users,
		Pagination: domain.NewPagination(page, limit, total),
	})
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UniqueUserID string          `json:"uniqueUserID" validate:"required,alphanum,max=64"`
		FullName     string          `json:"fullName" validate:"required,max=128"`
		Email        string          `json:"email" validate:"required,email"`
		Division     string          `json:"division" validate:"max=128"`
		Role         string          `json:"role" validate:"required,oneof=consultant validator governance executive controller staff"`
		Profile      json.RawMessage `json:"profile"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	role := domain.Role(req.Role)
	profile, err := domain.DecodeProfile(role, req.Profile)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := domain.ValidateProfile(role, profile); err != nil {
		h.badRequest(w, r, err)
		return
	}

	// 生成随机密码
	password := utils.GenerateRandomPassword(h.config.NewUser.PasswordLength)

	// 对密码进行哈希
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	user := &domain.User{
		UniqueUserID: req.UniqueUserID,
		FullName:     req.FullName,
		Email:        req.Email,
		Division:     req.Division,
		Role:         role,
		PasswordHash: string(hashedPassword),
		Profile:      profile,
	}

	if err := h.repository.CreateUser(user); err != nil {
		h.userConstraintError(w, r, err)
		return
	}

	h.refreshPlatform()

	// 通过邮件把初始密码发给用户
	if h.mailer != nil {
		mailMessage := domain.MailMessage{
			Type: domain.MailTypeCreateUser,
			To:   user.Email,
			Data: domain.CreateUserMailData{
				FullName:     user.FullName,
				UniqueUserID: user.UniqueUserID,
				Password:     password,
			},
		}
		if err := h.mailer.Publish(mailMessage); err != nil {
			h.internalServerError(w, r, err)
			return
		}
	}

	h.createdResponse(w, r, "user created", user)
}

func (h *Handler) GetUserInfo(w http.ResponseWriter, r *http.Request) {
	user := r.Context().Value(UserInfoCtx).(*domain.User)
	h.successResponse(w, r, "user fetched", user)
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	user := r.Context().Value(UserInfoCtx).(*domain.User)

	if err := h.repository.DeleteUser(user.ID); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			h.errorResponse(w, r, http.StatusNotFound, "user not found")
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	h.refreshPlatform()

	h.successResponse(w, r, "user deleted", nil)
}
