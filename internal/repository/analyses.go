package repository

import (
	"encoding/json"
	"time"

	"github.com/sysu-ecnc-dev/dkn/backend/internal/domain"
)

const moduleColumns = `id, module_code, algorithm_type, performance_index, model_updated_on, created_at, updated_at`

const analysisColumns = `id, ai_module_id, knowledge_resource_id, analysis_score, recommendations, tags, popularity_score, created_at`

func scanModule(row rowScanner) (*domain.AIModule, error) {
	m := &domain.AIModule{}
	dst := []any{&m.ID, &m.ModuleCode, &m.AlgorithmType, &m.PerformanceIndex, &m.ModelUpdatedOn, &m.CreatedAt, &m.UpdatedAt}
	if err := row.Scan(dst...); err != nil {
		return nil, err
	}
	return m, nil
}

func scanAnalysis(row rowScanner) (*domain.AIAnalysis, error) {
	a := &domain.AIAnalysis{}
	var recommendations, tags []byte
	dst := []any{&a.ID, &a.AIModuleID, &a.KnowledgeResourceID, &a.AnalysisScore, &recommendations, &tags, &a.PopularityScore, &a.CreatedAt}
	if err := row.Scan(dst...); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(recommendations, &a.Recommendations); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tags, &a.Tags); err != nil {
		return nil, err
	}

	return a, nil
}

// GetOrCreateModule 返回指定编号的 AI 模块，不存在时创建
func (r *Repository) GetOrCreateModule(code string, algorithmType string) (*domain.AIModule, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	insert := `
		INSERT INTO ai_modules (module_code, algorithm_type)
		VALUES ($1, $2)
		ON CONFLICT (module_code) DO NOTHING
	`
	if _, err := r.dbpool.ExecContext(ctx, insert, code, algorithmType); err != nil {
		return nil, err
	}

	query := `SELECT ` + moduleColumns + ` FROM ai_modules WHERE module_code = $1`
	return scanModule(r.dbpool.QueryRowContext(ctx, query, code))
}

func (r *Repository) GetAllModules() ([]*domain.AIModule, error) {
	query := `SELECT ` + moduleColumns + ` FROM ai_modules ORDER BY id`

	ctx, cancel := r.queryContext()
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	modules := make([]*domain.AIModule, 0)
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return modules, nil
}

func (r *Repository) UpdateModulePerformance(moduleID int64, performanceIndex float64) error {
	query := `
		UPDATE ai_modules
		SET performance_index = $1, model_updated_on = $2, updated_at = NOW()
		WHERE id = $3
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	if _, err := r.dbpool.ExecContext(ctx, query, performanceIndex, time.Now(), moduleID); err != nil {
		return err
	}

	return nil
}

// GetModuleScoreSummary 返回模块的分析次数和平均分
func (r *Repository) GetModuleScoreSummary(moduleID int64) (int64, float64, error) {
	query := `
		SELECT COUNT(*), COALESCE(AVG(analysis_score), 0)::float8
		FROM ai_knowledge_analyses
		WHERE ai_module_id = $1
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	var total int64
	var average float64
	if err := r.dbpool.QueryRowContext(ctx, query, moduleID).Scan(&total, &average); err != nil {
		return 0, 0, err
	}

	return total, average, nil
}

func (r *Repository) GetAnalysis(resourceID int64, moduleID int64) (*domain.AIAnalysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM ai_knowledge_analyses WHERE knowledge_resource_id = $1 AND ai_module_id = $2`

	ctx, cancel := r.queryContext()
	defer cancel()

	return scanAnalysis(r.dbpool.QueryRowContext(ctx, query, resourceID, moduleID))
}

func (r *Repository) GetLatestAnalysis(resourceID int64) (*domain.AIAnalysis, error) {
	query := `
		SELECT ` + analysisColumns + `
		FROM ai_knowledge_analyses
		WHERE knowledge_resource_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	return scanAnalysis(r.dbpool.QueryRowContext(ctx, query, resourceID))
}

// InsertAnalysis 写入分析结果，(资源, 模块) 已存在时不做任何修改并返回已有记录
func (r *Repository) InsertAnalysis(a *domain.AIAnalysis) (*domain.AIAnalysis, bool, error) {
	recommendations, err := json.Marshal(a.Recommendations)
	if err != nil {
		return nil, false, err
	}
	tags, err := json.Marshal(a.Tags)
	if err != nil {
		return nil, false, err
	}

	query := `
		INSERT INTO ai_knowledge_analyses (ai_module_id, knowledge_resource_id, analysis_score, recommendations, tags, popularity_score)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (knowledge_resource_id, ai_module_id) DO NOTHING
		RETURNING ` + analysisColumns

	ctx, cancel := r.queryContext()
	defer cancel()

	args := []any{a.AIModuleID, a.KnowledgeResourceID, a.AnalysisScore, recommendations, tags, a.PopularityScore}
	stored, err := scanAnalysis(r.dbpool.QueryRowContext(ctx, query, args...))
	if err == nil {
		return stored, true, nil
	}
	if !isNoRows(err) {
		return nil, false, err
	}

	// 并发请求已经写入了同一对 (资源, 模块)
	existing, err := r.GetAnalysis(a.KnowledgeResourceID, a.AIModuleID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}
