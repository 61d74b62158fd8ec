package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/domain"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/utils"
	"golang.org/x/crypto/bcrypt"
)

type AuthClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func (h *Handler) issueToken(user *domain.User) (string, time.Time, error) {
	now := time.Now()
	expiration := now.Add(time.Duration(h.config.JWT.Expiration) * time.Hour)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AuthClaims{
		Role: string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Subject:   strconv.FormatInt(user.ID, 10),
		},
	})
	ss, err := token.SignedString([]byte(h.config.JWT.Secret))
	if err != nil {
		return "", time.Time{}, err
	}

	return ss, expiration, nil
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	// 验证邮箱和密码
	user, err := h.repository.GetUserByEmail(req.Email)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			h.errorResponse(w, r, http.StatusUnauthorized, "invalid email or password")
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		switch {
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			h.errorResponse(w, r, http.StatusUnauthorized, "invalid email or password")
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	if err := h.repository.UpdateLastLogin(user); err != nil {
		// 登录时间只用于展示，更新失败不影响登录
		slog.Warn("更新最后登录时间失败", slog.Int64("userID", user.ID), slog.String("error", err.Error()))
	}

	ss, expiration, err := h.issueToken(user)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	// 通过 http-only 的 cookie 返回给客户端
	cookie := &http.Cookie{
		Name:     tokenCookieName,
		Value:    ss,
		Expires:  expiration,
		Path:     "/",
		HttpOnly: true,
		Secure:   false,
	}

	if h.config.Environment == "production" {
		cookie.Secure = true
		cookie.SameSite = http.SameSiteStrictMode
	}

	http.SetCookie(w, cookie)

	h.successResponse(w, r, "login successful", user)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UniqueUserID string          `json:"uniqueUserID" validate:"omitempty,alphanum,max=64"`
		FullName     string          `json:"fullName" validate:"required,max=128"`
		Email        string          `json:"email" validate:"required,email"`
		Password     string          `json:"password" validate:"required,min=6"`
		Division     string          `json:"division" validate:"max=128"`
		Role         string          `json:"role" validate:"required,oneof=consultant staff"`
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

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	uniqueUserID := req.UniqueUserID
	if uniqueUserID == "" {
		uniqueUserID = utils.GenerateUniqueUserID(req.FullName)
	}

	user := &domain.User{
		UniqueUserID: uniqueUserID,
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

	h.createdResponse(w, r, "registration successful", user)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	// 把 token 放进黑名单直到它本身过期
	tokenID, _ := r.Context().Value(TokenIDCtxKey).(string)
	expiresAt, ok := r.Context().Value(TokenExpCtx).(time.Time)
	if tokenID != "" && ok {
		ttl := time.Until(expiresAt)
		if ttl > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), time.Duration(h.config.Redis.OperationTimeout)*time.Second)
			defer cancel()

			if err := h.redisClient.Set(ctx, denylistKey(tokenID), "1", ttl).Err(); err != nil {
				h.internalServerError(w, r, err)
				return
			}
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:    tokenCookieName,
		Value:   "",
		Expires: time.Now().Add(-time.Hour),
		Path:    "/",
	})

	h.successResponse(w, r, "logout successful", nil)
}
