package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func resourceIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "resourceId"), 10, 64)
	return id, err == nil && id > 0
}

// AnalyzeKnowledge 对同一资源重复调用时返回第一次的分析结果
func (h *Handler) AnalyzeKnowledge(w http.ResponseWriter, r *http.Request) {
	resourceID, ok := resourceIDParam(r)
	if !ok {
		h.errorResponse(w, r, http.StatusBadRequest, "invalid knowledge resource id")
		return
	}

	analysis, created, err := h.analyzer.Analyze(resourceID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	if !created {
		h.successResponse(w, r, "analysis already exists", analysis)
		return
	}
	h.createdResponse(w, r, "analysis completed", analysis)
}

func (h *Handler) GetKnowledgeAnalysis(w http.ResponseWriter, r *http.Request) {
	resourceID, ok := resourceIDParam(r)
	if !ok {
		h.errorResponse(w, r, http.StatusBadRequest, "invalid knowledge resource id")
		return
	}

	analysis, err := h.analyzer.Get(resourceID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "analysis fetched", analysis)
}

func (h *Handler) GetAIModules(w http.ResponseWriter, r *http.Request) {
	modules, err := h.analyzer.Modules()
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "AI modules fetched", modules)
}
