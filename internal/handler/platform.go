package handler

import (
	"net/http"
)

// GetPlatformStats 每次请求都重新统计，并顺带刷新平台记录
func (h *Handler) GetPlatformStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Compute()
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "platform statistics fetched", stats)
}

func (h *Handler) RefreshPlatform(w http.ResponseWriter, r *http.Request) {
	platform, err := h.stats.RefreshPlatform()
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "platform refreshed", platform)
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.repository.Ping(); err != nil {
		h.logInternalServerError(r, err)
		h.errorResponse(w, r, http.StatusServiceUnavailable, "database unavailable")
		return
	}

	h.successResponse(w, r, "ok", nil)
}
