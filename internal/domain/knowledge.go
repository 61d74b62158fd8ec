package domain

import "time"

type ApprovalState string

const (
	StatePending    ApprovalState = "Pending"
	StateApproved   ApprovalState = "Approved"
	StateAuthorized ApprovalState = "Authorized"
	StateRejected   ApprovalState = "Rejected"
)

var ApprovalStates = []ApprovalState{
	StatePending,
	StateApproved,
	StateAuthorized,
	StateRejected,
}

func (s ApprovalState) Valid() bool {
	for _, state := range ApprovalStates {
		if state == s {
			return true
		}
	}
	return false
}

// Terminal 表示该状态之后不再有任何审批流转
func (s ApprovalState) Terminal() bool {
	return s == StateAuthorized || s == StateRejected
}

const (
	MinRating = 0
	MaxRating = 5
)

type KnowledgeResource struct {
	ID             int64         `json:"id"`
	ResourceCode   string        `json:"resourceCode"`
	Heading        string        `json:"heading"`
	DataBody       string        `json:"dataBody"`
	Classification string        `json:"classification"`
	ApprovalState  ApprovalState `json:"approvalState"`
	RevisionNumber int32         `json:"revisionNumber"`
	UserRating     float64       `json:"userRating"`
	AccessCount    int64         `json:"accessCount"`
	CreatedBy      int64         `json:"createdBy"`
	Owner          *UserSummary  `json:"owner,omitempty"`
	Keywords       []string      `json:"keywords"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	Version        int32         `json:"-"`
}

// Transition 描述一次审批状态流转，由存储层以 compare-and-set 的方式原子执行
type Transition struct {
	ResourceID int64
	From       ApprovalState
	To         ApprovalState
	ActorID    int64
	// CreditValidator 为 true 时在同一事务中为操作者的 approvedSubmissions 加一
	CreditValidator bool
	// Reason 仅在 To 为 Rejected 时写入驳回记录
	Reason string
}

type Rejection struct {
	ID                  int64     `json:"id"`
	KnowledgeResourceID int64     `json:"knowledgeResourceID"`
	RejectedBy          int64     `json:"rejectedBy"`
	Reason              string    `json:"reason"`
	CreatedAt           time.Time `json:"createdAt"`
}

// Visibility 限定列表查询能看到的资源范围
type Visibility struct {
	All     bool
	OwnerID int64
	States  []ApprovalState // 非空时，除自己创建的资源外只能看到这些状态
}

type KnowledgeFilter struct {
	Keyword        string
	Classification string
	ApprovalState  ApprovalState
	CreatedBy      int64
	Page           int
	Limit          int
	Visibility     Visibility
}

type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

// NewPagination 按总数计算页数，limit 需已归一化为正数
func NewPagination(page, limit int, total int64) Pagination {
	pages := total / int64(limit)
	if total%int64(limit) != 0 {
		pages++
	}
	return Pagination{Page: page, Limit: limit, Total: total, Pages: pages}
}

type KnowledgePage struct {
	Resources  []*KnowledgeResource `json:"resources"`
	Pagination Pagination           `json:"pagination"`
}
