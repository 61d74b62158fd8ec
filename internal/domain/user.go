package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type Role string

const (
	RoleConsultant Role = "consultant"
	RoleValidator  Role = "validator"
	RoleGovernance Role = "governance"
	RoleExecutive  Role = "executive"
	RoleController Role = "controller"
	RoleStaff      Role = "staff"
)

var Roles = []Role{
	RoleConsultant,
	RoleValidator,
	RoleGovernance,
	RoleExecutive,
	RoleController,
	RoleStaff,
}

func (r Role) Valid() bool {
	for _, role := range Roles {
		if role == r {
			return true
		}
	}
	return false
}

type User struct {
	ID           int64       `json:"id"`
	UniqueUserID string      `json:"uniqueUserID"`
	FullName     string      `json:"fullName"`
	Email        string      `json:"email"`
	Division     string      `json:"division"`
	Role         Role        `json:"role"`
	PasswordHash string      `json:"-"`
	Profile      RoleProfile `json:"profile"`
	LastLoginAt  *time.Time  `json:"lastLoginAt"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
	Version      int32       `json:"-"`
}

// UserSummary 是资源详情中附带的创建者信息
type UserSummary struct {
	ID       int64  `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
}

// RoleProfile 是按角色区分的附加字段，每种角色只携带自己的字段
type RoleProfile interface {
	Role() Role
}

type ConsultantProfile struct {
	SpecialisationField string `json:"specialisationField,omitempty"`
	AssignedProject     string `json:"assignedProject,omitempty"`
}

type ValidatorProfile struct {
	ApprovedSubmissions int64 `json:"approvedSubmissions"`
}

type GovernanceProfile struct {
	ComplianceScore    *int   `json:"complianceScore,omitempty"`
	InspectionInterval string `json:"inspectionInterval,omitempty"`
}

type ExecutiveProfile struct {
	PrivilegeLevel string `json:"privilegeLevel,omitempty"`
}

type ControllerProfile struct {
	ControlTier  *int     `json:"controlTier,omitempty"`
	AccessRights []string `json:"accessRights,omitempty"`
}

type StaffProfile struct {
	TrainingPhase string `json:"trainingPhase,omitempty"`
}

func (ConsultantProfile) Role() Role { return RoleConsultant }
func (ValidatorProfile) Role() Role  { return RoleValidator }
func (GovernanceProfile) Role() Role { return RoleGovernance }
func (ExecutiveProfile) Role() Role  { return RoleExecutive }
func (ControllerProfile) Role() Role { return RoleController }
func (StaffProfile) Role() Role      { return RoleStaff }

// NewProfile 返回指定角色的空附加字段
func NewProfile(role Role) (RoleProfile, error) {
	switch role {
	case RoleConsultant:
		return &ConsultantProfile{}, nil
	case RoleValidator:
		return &ValidatorProfile{}, nil
	case RoleGovernance:
		return &GovernanceProfile{}, nil
	case RoleExecutive:
		return &ExecutiveProfile{}, nil
	case RoleController:
		return &ControllerProfile{}, nil
	case RoleStaff:
		return &StaffProfile{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
}

// DecodeProfile 根据角色将数据库中的 JSON 解析为对应的附加字段
func DecodeProfile(role Role, raw []byte) (RoleProfile, error) {
	profile, err := NewProfile(role)
	if err != nil {
		return nil, err
	}

	if len(raw) == 0 || string(raw) == "null" {
		return profile, nil
	}

	if err := json.Unmarshal(raw, profile); err != nil {
		return nil, err
	}

	return profile, nil
}

// ValidateProfile 检查附加字段与角色是否匹配，以及各字段的取值范围
func ValidateProfile(role Role, profile RoleProfile) error {
	if profile == nil {
		return nil
	}
	if profile.Role() != role {
		return fmt.Errorf("%w: profile for role %q does not match role %q", ErrValidation, profile.Role(), role)
	}

	switch p := profile.(type) {
	case *GovernanceProfile:
		if p.ComplianceScore != nil && (*p.ComplianceScore < 0 || *p.ComplianceScore > 100) {
			return fmt.Errorf("%w: compliance score must be between 0 and 100", ErrValidation)
		}
	case *ControllerProfile:
		if p.ControlTier != nil && (*p.ControlTier < 1 || *p.ControlTier > 5) {
			return fmt.Errorf("%w: control tier must be between 1 and 5", ErrValidation)
		}
	}

	return nil
}

type UserPage struct {
	Users      []*User    `json:"users"`
	Pagination Pagination `json:"pagination"`
}
