package handler

import (
	"net/http"
	"strconv"

	"github.com/sysu-ecnc-dev/dkn/backend/internal/domain"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/workflow"
	"gitlab.com/golang-commonmark/markdown"
)

// 资源正文按 CommonMark 渲染，正文中的原始 HTML 会被转义
var markdownRenderer = markdown.New(markdown.HTML(false), markdown.Linkify(true), markdown.Typographer(true), markdown.MaxNesting(10))

func knowledgeIDFrom(r *http.Request) int64 {
	return r.Context().Value(KnowledgeCtx).(int64)
}

func (h *Handler) CreateKnowledge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Heading        string   `json:"heading" validate:"required,max=256"`
		DataBody       string   `json:"dataBody" validate:"required"`
		Classification string   `json:"classification" validate:"required,max=128"`
		UserRating     *float64 `json:"userRating" validate:"omitnil,gte=0,lte=5"`
		Keywords       []string `json:"keywords" validate:"max=50,dive,max=64"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	k, err := h.knowledge.Create(actorFrom(r.Context()), workflow.NewKnowledge{
		Heading:        req.Heading,
		DataBody:       req.DataBody,
		Classification: req.Classification,
		UserRating:     req.UserRating,
		Keywords:       req.Keywords,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.createdResponse(w, r, "knowledge resource created", k)
}

func (h *Handler) ListKnowledge(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := domain.KnowledgeFilter{
		Keyword:        query.Get("keyword"),
		Classification: query.Get("classification"),
		ApprovalState:  domain.ApprovalState(query.Get("approvalState")),
	}

	var ok bool
	if filter.Page, filter.Limit, ok = h.readPageParams(w, r); !ok {
		return
	}

	if raw := query.Get("createdBy"); raw != "" {
		createdBy, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.errorResponse(w, r, http.StatusBadRequest, "invalid createdBy")
			return
		}
		filter.CreatedBy = createdBy
	}

	page, err := h.knowledge.List(actorFrom(r.Context()), filter)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "knowledge resources fetched", page)
}

func (h *Handler) GetKnowledge(w http.ResponseWriter, r *http.Request) {
	k, err := h.knowledge.Get(actorFrom(r.Context()), knowledgeIDFrom(r))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "knowledge resource fetched", k)
}

// GetRenderedKnowledge 返回资源详情以及渲染成 HTML 的正文
func (h *Handler) GetRenderedKnowledge(w http.ResponseWriter, r *http.Request) {
	k, err := h.knowledge.Get(actorFrom(r.Context()), knowledgeIDFrom(r))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "knowledge resource rendered", map[string]any{
		"resource": k,
		"html":     markdownRenderer.RenderToString([]byte(k.DataBody)),
	})
}

func (h *Handler) UpdateKnowledge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Heading        *string   `json:"heading" validate:"omitnil,min=1,max=256"`
		DataBody       *string   `json:"dataBody" validate:"omitnil,min=1"`
		Classification *string   `json:"classification" validate:"omitnil,min=1,max=128"`
		UserRating     *float64  `json:"userRating" validate:"omitnil,gte=0,lte=5"`
		Keywords       *[]string `json:"keywords" validate:"omitnil,max=50,dive,max=64"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	k, err := h.knowledge.Update(actorFrom(r.Context()), knowledgeIDFrom(r), workflow.KnowledgePatch{
		Heading:        req.Heading,
		DataBody:       req.DataBody,
		Classification: req.Classification,
		UserRating:     req.UserRating,
		Keywords:       req.Keywords,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "knowledge resource updated", k)
}

func (h *Handler) DeleteKnowledge(w http.ResponseWriter, r *http.Request) {
	if err := h.knowledge.Delete(actorFrom(r.Context()), knowledgeIDFrom(r)); err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "knowledge resource deleted", nil)
}

func (h *Handler) ApproveKnowledge(w http.ResponseWriter, r *http.Request) {
	k, err := h.knowledge.Approve(actorFrom(r.Context()), knowledgeIDFrom(r))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "knowledge resource approved", k)
}

func (h *Handler) RejectKnowledge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason" validate:"max=1000"`
	}

	// 驳回理由可以不填，请求体为空时使用默认理由
	if r.ContentLength != 0 {
		if err := h.readJSON(r, &req); err != nil {
			h.badRequest(w, r, err)
			return
		}
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	k, reason, err := h.knowledge.Reject(actorFrom(r.Context()), knowledgeIDFrom(r), req.Reason)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "knowledge resource rejected", map[string]any{
		"resource": k,
		"reason":   reason,
	})
}

func (h *Handler) AuthorizeKnowledge(w http.ResponseWriter, r *http.Request) {
	k, err := h.knowledge.Authorize(actorFrom(r.Context()), knowledgeIDFrom(r))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "knowledge resource authorized", k)
}

func (h *Handler) GetKnowledgeRejections(w http.ResponseWriter, r *http.Request) {
	rejections, err := h.knowledge.Rejections(actorFrom(r.Context()), knowledgeIDFrom(r))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "rejections fetched", rejections)
}
