// Package scoring 给知识资源打分。Scorer 是可替换的评分函数，Analyzer 负责保证
// 同一个 (资源, 模块) 最多只有一份分析结果。
package scoring

import (
	"math"
	"unicode/utf8"

	"github.com/sysu-ecnc-dev/dkn/backend/internal/domain"
)

type Scorer interface {
	Score(k *domain.KnowledgeResource) domain.AnalysisResult
}

const (
	RecommendExpand          = "Consider expanding the content for better comprehensiveness"
	RecommendImprove         = "Content may need improvement based on user ratings"
	RecommendDiscoverability = "Content may benefit from better discoverability"
	RecommendNone            = "Content quality is good. Consider adding more examples."
)

// MockScorer 是确定性的评分函数，只依赖资源本身的字段
type MockScorer struct{}

func (MockScorer) Score(k *domain.KnowledgeResource) domain.AnalysisResult {
	bodyLen := utf8.RuneCountInString(k.DataBody)
	headingLen := utf8.RuneCountInString(k.Heading)

	score := 50
	if bodyLen > 500 {
		score += 10
	}
	if bodyLen > 1000 {
		score += 10
	}
	if headingLen > 10 && headingLen < 100 {
		score += 5
	}
	if k.UserRating > 3 {
		score += 10
	}
	if k.AccessCount > 10 {
		score += 5
	}

	recommendations := make([]string, 0, 3)
	if bodyLen < 500 {
		recommendations = append(recommendations, RecommendExpand)
	}
	if k.UserRating < 3 {
		recommendations = append(recommendations, RecommendImprove)
	}
	if k.AccessCount < 5 {
		recommendations = append(recommendations, RecommendDiscoverability)
	}
	if len(recommendations) == 0 {
		recommendations = append(recommendations, RecommendNone)
	}

	detail := "brief"
	if bodyLen > 1000 {
		detail = "detailed"
	}
	rated := "needs-review"
	if k.UserRating > 3 {
		rated = "highly-rated"
	}

	popularity := math.Floor(float64(k.AccessCount)*5 + k.UserRating*10 + float64(k.RevisionNumber)*2)

	return domain.AnalysisResult{
		AnalysisScore:   clamp(score, 0, 100),
		Recommendations: recommendations,
		Tags:            []string{k.Classification, "knowledge-base", detail, rated},
		PopularityScore: int(math.Min(100, popularity)),
	}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
