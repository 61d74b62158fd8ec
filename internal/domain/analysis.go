package domain

import "time"

type AIModule struct {
	ID               int64              `json:"id"`
	ModuleCode       string             `json:"moduleID"`
	AlgorithmType    string             `json:"algorithmType"`
	PerformanceIndex float64            `json:"performanceIndex"`
	ModelUpdatedOn   time.Time          `json:"modelUpdatedOn"`
	Performance      *ModulePerformance `json:"performance,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

type ModulePerformance struct {
	TotalAnalyses int64   `json:"totalAnalyses"`
	AverageScore  float64 `json:"averageScore"`
	Accuracy      int     `json:"accuracy"`
}

// AnalysisResult 是评分函数的输出
type AnalysisResult struct {
	AnalysisScore   int      `json:"analysisScore"`
	Recommendations []string `json:"recommendations"`
	Tags            []string `json:"tags"`
	PopularityScore int      `json:"popularityScore"`
}

type AIAnalysis struct {
	ID                  int64 `json:"id"`
	AIModuleID          int64 `json:"aiModuleID"`
	KnowledgeResourceID int64 `json:"knowledgeResourceID"`
	AnalysisResult
	CreatedAt time.Time `json:"createdAt"`
}
