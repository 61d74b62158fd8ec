// Package permission 将角色映射到允许的操作。所有函数都是纯函数，未知角色没有任何权限。
package permission

import (
	"slices"
	"strings"

	"github.com/sysu-ecnc-dev/dkn/backend/internal/domain"
)

type Action string

const (
	KnowledgeCreate    Action = "knowledge:create"
	KnowledgeRead      Action = "knowledge:read"
	KnowledgeReadOwn   Action = "knowledge:read:own"
	KnowledgeUpdateOwn Action = "knowledge:update:own"
	KnowledgeDeleteOwn Action = "knowledge:delete:own"
	KnowledgeApprove   Action = "knowledge:approve"
	KnowledgeReject    Action = "knowledge:reject"
	KnowledgeAuthorize Action = "knowledge:authorize"
	ComplianceView     Action = "compliance:view"
	AnalyticsView      Action = "analytics:view"
	PlatformMetrics    Action = "platform:metrics:view"
	TrainingView       Action = "training:view"
	UsersManage        Action = "users:manage"
	AIAnalyze          Action = "ai:analyze"
)

var rolePermissions = map[domain.Role][]Action{
	domain.RoleConsultant: {
		KnowledgeCreate,
		KnowledgeReadOwn,
		KnowledgeUpdateOwn,
		KnowledgeDeleteOwn,
	},
	domain.RoleStaff: {
		KnowledgeCreate,
		KnowledgeRead,
		KnowledgeUpdateOwn,
		KnowledgeDeleteOwn,
		TrainingView,
	},
	domain.RoleValidator: {
		KnowledgeRead,
		KnowledgeApprove,
		KnowledgeReject,
	},
	domain.RoleGovernance: {
		KnowledgeRead,
		KnowledgeAuthorize,
		ComplianceView,
	},
	domain.RoleExecutive: {
		KnowledgeRead,
		AnalyticsView,
		PlatformMetrics,
	},
	domain.RoleController: {
		"knowledge:*",
		"users:*",
		"platform:*",
		"compliance:*",
		"analytics:*",
		"training:*",
		"ai:*",
	},
}

// IsAllowed 判断角色能否执行某个操作，表中的 "<前缀>:*" 匹配该前缀下的所有操作
func IsAllowed(role domain.Role, action Action) bool {
	if role == domain.RoleController {
		return true
	}

	actions, ok := rolePermissions[role]
	if !ok {
		return false
	}

	if slices.Contains(actions, action) {
		return true
	}

	prefix, _, found := strings.Cut(string(action), ":")
	if !found {
		return false
	}
	return slices.Contains(actions, Action(prefix+":*"))
}

// Actions 返回角色的权限表副本
func Actions(role domain.Role) []Action {
	return slices.Clone(rolePermissions[role])
}

func CanApprove(role domain.Role) bool {
	return role == domain.RoleValidator || role == domain.RoleController
}

func CanAuthorize(role domain.Role) bool {
	return role == domain.RoleGovernance || role == domain.RoleController
}

func CanCreateKnowledge(role domain.Role) bool {
	return role == domain.RoleConsultant || role == domain.RoleStaff || role == domain.RoleController
}

func CanManageUsers(role domain.Role) bool {
	return role == domain.RoleController
}

// CanReadAll 为 true 时可以看到所有资源；staff 虽然有 knowledge:read，但只能看到已授权的资源
func CanReadAll(role domain.Role) bool {
	return role != domain.RoleStaff && IsAllowed(role, KnowledgeRead)
}
