package domain

const (
	MailTypeCreateUser        = "create_user"
	MailTypeKnowledgeDecision = "knowledge_decision"
)

type MailMessage struct {
	Type string `json:"type"`
	To   string `json:"to"`
	Data any    `json:"data"`
}

type CreateUserMailData struct {
	FullName     string `json:"fullName"`
	UniqueUserID string `json:"uniqueUserID"`
	Password     string `json:"password"`
}

type KnowledgeDecisionMailData struct {
	FullName     string        `json:"fullName"`
	Heading      string        `json:"heading"`
	ResourceCode string        `json:"resourceCode"`
	State        ApprovalState `json:"state"`
	Reason       string        `json:"reason,omitempty"`
}
