package domain

import "time"

type Platform struct {
	ID                   int64     `json:"-"`
	PlatformCode         string    `json:"platformID"`
	ReleaseVersion       string    `json:"releaseVersion"`
	OperationalTime      int64     `json:"operationalTime"` // 秒
	RegisteredUsers      int64     `json:"registeredUsers"`
	StoredKnowledgeCount int64     `json:"storedKnowledgeCount"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

type GroupCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

type KnowledgeStats struct {
	Total      int64 `json:"total"`
	Pending    int64 `json:"pending"`
	Approved   int64 `json:"approved"`
	Authorized int64 `json:"authorized"`
	Rejected   int64 `json:"rejected"`
}

type UserStats struct {
	Total            int64        `json:"total"`
	RoleDistribution []GroupCount `json:"roleDistribution"`
}

type PlatformStats struct {
	Platform                  *Platform      `json:"platform"`
	KnowledgeStats            KnowledgeStats `json:"knowledgeStats"`
	UserStats                 UserStats      `json:"userStats"`
	KnowledgeByClassification []GroupCount   `json:"knowledgeByClassification"`
}
