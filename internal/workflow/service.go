// Package workflow 实现知识资源的增删改查和审批流转。
//
// 审批状态只能按 Pending -> Approved -> Authorized 或 Pending -> Rejected 流转，
// 每一次流转都由存储层以 compare-and-set 的方式原子执行，并发请求只有一个能成功。
package workflow

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/domain"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/metrics"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/permission"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100

	DefaultRejectReason = "No reason provided"
)

type Store interface {
	CreateKnowledge(k *domain.KnowledgeResource, keywords []string) error
	GetKnowledgeByID(id int64) (*domain.KnowledgeResource, error)
	GetKnowledgeKeywords(id int64) ([]string, error)
	ListKnowledge(filter domain.KnowledgeFilter) ([]*domain.KnowledgeResource, int64, error)
	UpdateKnowledge(k *domain.KnowledgeResource, keywords []string) error
	DeleteKnowledge(id int64) error
	IncrementAccessCount(id int64) (int64, error)
	TransitionKnowledge(t domain.Transition) (*domain.KnowledgeResource, error)
	ListRejections(resourceID int64) ([]*domain.Rejection, error)
	GetUserByID(id int64) (*domain.User, error)
}

// PlatformRefresher 在资源数量变化后刷新平台计数器
type PlatformRefresher interface {
	RefreshPlatform() (*domain.Platform, error)
}

type Notifier interface {
	Publish(msg domain.MailMessage) error
}

// Actor 是发起操作的已认证用户
type Actor struct {
	UserID int64
	Role   domain.Role
}

type NewKnowledge struct {
	Heading        string
	DataBody       string
	Classification string
	UserRating     *float64
	Keywords       []string
}

// KnowledgePatch 中为 nil 的字段保持不变
type KnowledgePatch struct {
	Heading        *string
	DataBody       *string
	Classification *string
	UserRating     *float64
	Keywords       *[]string
}

type Service struct {
	store     Store
	refresher PlatformRefresher
	notifier  Notifier
	metrics   *metrics.Metrics
}

// NewService 中 refresher、notifier 和 m 都可以为 nil
func NewService(store Store, refresher PlatformRefresher, notifier Notifier, m *metrics.Metrics) *Service {
	return &Service{
		store:     store,
		refresher: refresher,
		notifier:  notifier,
		metrics:   m,
	}
}

func (s *Service) Create(actor Actor, in NewKnowledge) (*domain.KnowledgeResource, error) {
	if !permission.CanCreateKnowledge(actor.Role) {
		return nil, fmt.Errorf("%w: role %s cannot create knowledge resources", domain.ErrForbidden, actor.Role)
	}

	heading, err := requiredField("heading", in.Heading)
	if err != nil {
		return nil, err
	}
	body, err := requiredField("dataBody", in.DataBody)
	if err != nil {
		return nil, err
	}
	classification, err := requiredField("classification", in.Classification)
	if err != nil {
		return nil, err
	}

	var rating float64
	if in.UserRating != nil {
		if err := validateRating(*in.UserRating); err != nil {
			return nil, err
		}
		rating = *in.UserRating
	}

	k := &domain.KnowledgeResource{
		ResourceCode:   "RES-" + uuid.NewString(),
		Heading:        heading,
		DataBody:       body,
		Classification: classification,
		ApprovalState:  domain.StatePending,
		UserRating:     rating,
		CreatedBy:      actor.UserID,
	}

	if err := s.store.CreateKnowledge(k, NormalizeKeywords(in.Keywords)); err != nil {
		return nil, err
	}

	s.metrics.ObserveKnowledgeCreated()
	s.refreshPlatform()

	return k, nil
}

// Get 返回资源详情，每次成功读取都会让访问次数加一
func (s *Service) Get(actor Actor, id int64) (*domain.KnowledgeResource, error) {
	k, err := s.load(actor, id)
	if err != nil {
		return nil, err
	}

	count, err := s.store.IncrementAccessCount(id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	k.AccessCount = count

	return k, nil
}

func (s *Service) List(actor Actor, filter domain.KnowledgeFilter) (*domain.KnowledgePage, error) {
	visibility, err := VisibilityFor(actor)
	if err != nil {
		return nil, err
	}
	filter.Visibility = visibility

	if filter.ApprovalState != "" && !filter.ApprovalState.Valid() {
		return nil, fmt.Errorf("%w: unknown approval state %q", domain.ErrValidation, filter.ApprovalState)
	}
	filter.Keyword = strings.TrimSpace(filter.Keyword)
	filter.Page, filter.Limit = NormalizePage(filter.Page, filter.Limit)

	resources, total, err := s.store.ListKnowledge(filter)
	if err != nil {
		return nil, err
	}

	return &domain.KnowledgePage{
		Resources:  resources,
		Pagination: domain.NewPagination(filter.Page, filter.Limit, total),
	}, nil
}

// Update 修改资源内容，任何审批状态下都允许，但不会改变审批状态
func (s *Service) Update(actor Actor, id int64, patch KnowledgePatch) (*domain.KnowledgeResource, error) {
	k, err := s.store.GetKnowledgeByID(id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if !canModify(actor, k) {
		return nil, fmt.Errorf("%w: only the owner or a controller can update this resource", domain.ErrForbidden)
	}

	contentChanged := false
	if patch.Heading != nil {
		heading, err := requiredField("heading", *patch.Heading)
		if err != nil {
			return nil, err
		}
		contentChanged = contentChanged || heading != k.Heading
		k.Heading = heading
	}
	if patch.DataBody != nil {
		body, err := requiredField("dataBody", *patch.DataBody)
		if err != nil {
			return nil, err
		}
		contentChanged = contentChanged || body != k.DataBody
		k.DataBody = body
	}
	if patch.Classification != nil {
		classification, err := requiredField("classification", *patch.Classification)
		if err != nil {
			return nil, err
		}
		k.Classification = classification
	}
	if patch.UserRating != nil {
		if err := validateRating(*patch.UserRating); err != nil {
			return nil, err
		}
		k.UserRating = *patch.UserRating
	}

	if contentChanged {
		k.RevisionNumber++
	}

	var keywords []string
	if patch.Keywords != nil {
		keywords = NormalizeKeywords(*patch.Keywords)
	}

	if err := s.store.UpdateKnowledge(k, keywords); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: resource was modified concurrently", domain.ErrConflict)
		}
		return nil, err
	}

	return k, nil
}

func (s *Service) Delete(actor Actor, id int64) error {
	k, err := s.store.GetKnowledgeByID(id)
	if err != nil {
		return mapNotFound(err)
	}
	if !canModify(actor, k) {
		return fmt.Errorf("%w: only the owner or a controller can delete this resource", domain.ErrForbidden)
	}

	if err := s.store.DeleteKnowledge(id); err != nil {
		return mapNotFound(err)
	}

	s.refreshPlatform()
	return nil
}

// Approve 将 Pending 资源流转为 Approved，validator 审批时其 approvedSubmissions 加一
func (s *Service) Approve(actor Actor, id int64) (*domain.KnowledgeResource, error) {
	if !permission.CanApprove(actor.Role) {
		s.metrics.ObserveTransition("approve", "forbidden")
		return nil, fmt.Errorf("%w: role %s cannot approve", domain.ErrForbidden, actor.Role)
	}

	return s.transition("approve", domain.Transition{
		ResourceID:      id,
		From:            domain.StatePending,
		To:              domain.StateApproved,
		ActorID:         actor.UserID,
		CreditValidator: actor.Role == domain.RoleValidator,
	})
}

// Reject 将 Pending 资源流转为 Rejected，reason 为空时使用默认理由
func (s *Service) Reject(actor Actor, id int64, reason string) (*domain.KnowledgeResource, string, error) {
	if !permission.CanApprove(actor.Role) {
		s.metrics.ObserveTransition("reject", "forbidden")
		return nil, "", fmt.Errorf("%w: role %s cannot reject", domain.ErrForbidden, actor.Role)
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultRejectReason
	}

	k, err := s.transition("reject", domain.Transition{
		ResourceID: id,
		From:       domain.StatePending,
		To:         domain.StateRejected,
		ActorID:    actor.UserID,
		Reason:     reason,
	})
	if err != nil {
		return nil, "", err
	}

	return k, reason, nil
}

func (s *Service) Authorize(actor Actor, id int64) (*domain.KnowledgeResource, error) {
	if !permission.CanAuthorize(actor.Role) {
		s.metrics.ObserveTransition("authorize", "forbidden")
		return nil, fmt.Errorf("%w: role %s cannot authorize", domain.ErrForbidden, actor.Role)
	}

	return s.transition("authorize", domain.Transition{
		ResourceID: id,
		From:       domain.StateApproved,
		To:         domain.StateAuthorized,
		ActorID:    actor.UserID,
	})
}

// Rejections 返回资源的驳回记录，能看到资源的人就能看到驳回记录
func (s *Service) Rejections(actor Actor, id int64) ([]*domain.Rejection, error) {
	if _, err := s.load(actor, id); err != nil {
		return nil, err
	}

	return s.store.ListRejections(id)
}

func (s *Service) transition(name string, t domain.Transition) (*domain.KnowledgeResource, error) {
	k, err := s.store.TransitionKnowledge(t)
	if err != nil {
		err = mapNotFound(err)
		s.metrics.ObserveTransition(name, outcome(err))
		return nil, err
	}
	s.metrics.ObserveTransition(name, "success")

	keywords, err := s.store.GetKnowledgeKeywords(k.ID)
	if err != nil {
		slog.Warn("获取资源关键词失败", slog.Int64("id", k.ID), slog.String("error", err.Error()))
		keywords = []string{}
	}
	k.Keywords = keywords

	s.notifyOwner(k, t.Reason)
	return k, nil
}

// load 读取资源并检查可见性，不增加访问次数
func (s *Service) load(actor Actor, id int64) (*domain.KnowledgeResource, error) {
	k, err := s.store.GetKnowledgeByID(id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if !CanView(actor, k) {
		return nil, fmt.Errorf("%w: resource is not visible to role %s", domain.ErrForbidden, actor.Role)
	}
	return k, nil
}

func (s *Service) refreshPlatform() {
	if s.refresher == nil {
		return
	}
	if _, err := s.refresher.RefreshPlatform(); err != nil {
		slog.Warn("刷新平台统计失败", slog.String("error", err.Error()))
	}
}

// notifyOwner 通知资源创建者审批结果，失败只记录日志
func (s *Service) notifyOwner(k *domain.KnowledgeResource, reason string) {
	if s.notifier == nil {
		return
	}

	owner, err := s.store.GetUserByID(k.CreatedBy)
	if err != nil {
		slog.Warn("获取资源创建者失败", slog.Int64("userID", k.CreatedBy), slog.String("error", err.Error()))
		return
	}

	msg := domain.MailMessage{
		Type: domain.MailTypeKnowledgeDecision,
		To:   owner.Email,
		Data: domain.KnowledgeDecisionMailData{
			FullName:     owner.FullName,
			Heading:      k.Heading,
			ResourceCode: k.ResourceCode,
			State:        k.ApprovalState,
			Reason:       reason,
		},
	}
	if err := s.notifier.Publish(msg); err != nil {
		slog.Warn("发送审批结果邮件失败", slog.String("to", owner.Email), slog.String("error", err.Error()))
	}
}

// VisibilityFor 返回角色在列表查询中能看到的范围
func VisibilityFor(actor Actor) (domain.Visibility, error) {
	switch {
	case permission.CanReadAll(actor.Role):
		return domain.Visibility{All: true}, nil
	case permission.IsAllowed(actor.Role, permission.KnowledgeRead):
		return domain.Visibility{OwnerID: actor.UserID, States: []domain.ApprovalState{domain.StateAuthorized}}, nil
	case permission.IsAllowed(actor.Role, permission.KnowledgeReadOwn):
		return domain.Visibility{OwnerID: actor.UserID}, nil
	default:
		return domain.Visibility{}, fmt.Errorf("%w: role %s cannot read knowledge resources", domain.ErrForbidden, actor.Role)
	}
}

func CanView(actor Actor, k *domain.KnowledgeResource) bool {
	v, err := VisibilityFor(actor)
	if err != nil {
		return false
	}
	if v.All || k.CreatedBy == v.OwnerID {
		return true
	}
	for _, state := range v.States {
		if k.ApprovalState == state {
			return true
		}
	}
	return false
}

func canModify(actor Actor, k *domain.KnowledgeResource) bool {
	return actor.Role == domain.RoleController || (actor.UserID != 0 && actor.UserID == k.CreatedBy)
}

// NormalizeKeywords 去掉首尾空白、空关键词以及重复关键词，保持原有顺序
func NormalizeKeywords(keywords []string) []string {
	result := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, keyword := range keywords {
		keyword = strings.TrimSpace(keyword)
		if keyword == "" {
			continue
		}
		if _, ok := seen[keyword]; ok {
			continue
		}
		seen[keyword] = struct{}{}
		result = append(result, keyword)
	}
	return result
}

// NormalizePage 把页码和每页数量限制在合法范围内
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}

func requiredField(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: %s is required", domain.ErrValidation, name)
	}
	return value, nil
}

func validateRating(rating float64) error {
	// NaN 与任何数比较都为 false，必须写成区间内的正向判断
	if !(rating >= domain.MinRating && rating <= domain.MaxRating) {
		return fmt.Errorf("%w: userRating must be between %d and %d", domain.ErrValidation, domain.MinRating, domain.MaxRating)
	}
	return nil
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: knowledge resource", domain.ErrNotFound)
	}
	return err
}

func outcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
