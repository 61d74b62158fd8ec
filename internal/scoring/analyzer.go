package scoring

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/sysu-ecnc-dev/dkn/backend/internal/domain"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/metrics"
)

const (
	DefaultModuleCode    = "AI-MODULE-1"
	DefaultAlgorithmType = "NLP Analysis"
)

type Store interface {
	GetKnowledgeByID(id int64) (*domain.KnowledgeResource, error)
	GetOrCreateModule(code string, algorithmType string) (*domain.AIModule, error)
	GetAllModules() ([]*domain.AIModule, error)
	UpdateModulePerformance(moduleID int64, performanceIndex float64) error
	GetModuleScoreSummary(moduleID int64) (int64, float64, error)
	GetAnalysis(resourceID int64, moduleID int64) (*domain.AIAnalysis, error)
	GetLatestAnalysis(resourceID int64) (*domain.AIAnalysis, error)
	InsertAnalysis(a *domain.AIAnalysis) (*domain.AIAnalysis, bool, error)
}

type Analyzer struct {
	store   Store
	scorer  Scorer
	metrics *metrics.Metrics
}

func NewAnalyzer(store Store, scorer Scorer, m *metrics.Metrics) *Analyzer {
	return &Analyzer{
		store:   store,
		scorer:  scorer,
		metrics: m,
	}
}

// Analyze 用默认模块分析资源。已经分析过时直接返回已有结果，created 为 false
func (a *Analyzer) Analyze(resourceID int64) (*domain.AIAnalysis, bool, error) {
	k, err := a.store.GetKnowledgeByID(resourceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, fmt.Errorf("%w: knowledge resource", domain.ErrNotFound)
		}
		return nil, false, err
	}

	module, err := a.store.GetOrCreateModule(DefaultModuleCode, DefaultAlgorithmType)
	if err != nil {
		return nil, false, err
	}

	existing, err := a.store.GetAnalysis(resourceID, module.ID)
	switch {
	case err == nil:
		a.metrics.ObserveAnalysis(false)
		return existing, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, false, err
	}

	analysis, created, err := a.store.InsertAnalysis(&domain.AIAnalysis{
		AIModuleID:          module.ID,
		KnowledgeResourceID: resourceID,
		AnalysisResult:      a.scorer.Score(k),
	})
	if err != nil {
		return nil, false, err
	}
	a.metrics.ObserveAnalysis(created)

	if created {
		if _, err := a.refreshModule(module.ID); err != nil {
			slog.Warn("更新 AI 模块性能指标失败", slog.Int64("moduleID", module.ID), slog.String("error", err.Error()))
		}
	}

	return analysis, created, nil
}

// Get 返回资源最近一次的分析结果
func (a *Analyzer) Get(resourceID int64) (*domain.AIAnalysis, error) {
	analysis, err := a.store.GetLatestAnalysis(resourceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no analysis for this resource", domain.ErrNotFound)
		}
		return nil, err
	}
	return analysis, nil
}

func (a *Analyzer) Modules() ([]*domain.AIModule, error) {
	modules, err := a.store.GetAllModules()
	if err != nil {
		return nil, err
	}

	for _, m := range modules {
		performance, err := a.performance(m.ID)
		if err != nil {
			return nil, err
		}
		m.Performance = performance
	}

	return modules, nil
}

func (a *Analyzer) performance(moduleID int64) (*domain.ModulePerformance, error) {
	total, average, err := a.store.GetModuleScoreSummary(moduleID)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return &domain.ModulePerformance{}, nil
	}

	return &domain.ModulePerformance{
		TotalAnalyses: total,
		AverageScore:  math.Round(average*100) / 100,
		Accuracy:      int(math.Min(100, math.Floor(average*0.85))),
	}, nil
}

// refreshModule 用平均分更新模块的 performance_index 和 model_updated_on
func (a *Analyzer) refreshModule(moduleID int64) (*domain.ModulePerformance, error) {
	performance, err := a.performance(moduleID)
	if err != nil {
		return nil, err
	}
	if err := a.store.UpdateModulePerformance(moduleID, performance.AverageScore); err != nil {
		return nil, err
	}
	return performance, nil
}
