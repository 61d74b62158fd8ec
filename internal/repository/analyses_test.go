package repository

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/domain"
)

var analysisRowColumns = []string{"id", "ai_module_id", "knowledge_resource_id", "analysis_score", "recommendations", "tags", "popularity_score", "created_at"}

func newAnalysis() *domain.AIAnalysis {
	return &domain.AIAnalysis{
		AIModuleID:          1,
		KnowledgeResourceID: 2,
		AnalysisResult: domain.AnalysisResult{
			AnalysisScore:   55,
			Recommendations: []string{"expand"},
			Tags:            []string{"Guide", "knowledge-base"},
			PopularityScore: 10,
		},
	}
}

func TestInsertAnalysisCreated(t *testing.T) {
	repo, mock := newMockRepository(t)
	now := time.Now()

	mock.ExpectQuery(`ON CONFLICT \(knowledge_resource_id, ai_module_id\) DO NOTHING`).
		WithArgs(int64(1), int64(2), 55, []byte(`["expand"]`), []byte(`["Guide","knowledge-base"]`), 10).
		WillReturnRows(sqlmock.NewRows(analysisRowColumns).
			AddRow(9, 1, 2, 55, []byte(`["expand"]`), []byte(`["Guide","knowledge-base"]`), 10, now))

	stored, created, err := repo.InsertAnalysis(newAnalysis())
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(9), stored.ID)
	assert.Equal(t, []string{"Guide", "knowledge-base"}, stored.Tags)
}

func TestInsertAnalysisConflictReturnsExisting(t *testing.T) {
	repo, mock := newMockRepository(t)
	now := time.Now()

	mock.ExpectQuery(`ON CONFLICT`).
		WillReturnRows(sqlmock.NewRows(analysisRowColumns))
	mock.ExpectQuery(`FROM ai_knowledge_analyses WHERE knowledge_resource_id = \$1 AND ai_module_id = \$2`).
		WithArgs(int64(2), int64(1)).
		WillReturnRows(sqlmock.NewRows(analysisRowColumns).
			AddRow(4, 1, 2, 70, []byte(`["other"]`), []byte(`[]`), 30, now))

	stored, created, err := repo.InsertAnalysis(newAnalysis())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(4), stored.ID)
	assert.Equal(t, 70, stored.AnalysisScore)
	assert.Equal(t, []string{"other"}, stored.Recommendations)
}

func TestGetModuleScoreSummary(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\), COALESCE\(AVG\(analysis_score\), 0\)::float8`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count", "avg"}).AddRow(3, 61.5))

	total, avg, err := repo.GetModuleScoreSummary(1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, 61.5, avg)
}

func TestGetOrCreatePlatform(t *testing.T) {
	repo, mock := newMockRepository(t)
	now := time.Now()

	mock.ExpectExec(`INSERT INTO platform`).
		WithArgs("PLATFORM-1", "1.0.0").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM platform WHERE id = 1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "platform_code", "release_version", "operational_time", "registered_users", "stored_knowledge_count", "created_at", "updated_at"}).
			AddRow(1, "PLATFORM-1", "1.0.0", 120, 3, 2, now, now))

	p, err := repo.GetOrCreatePlatform()
	require.NoError(t, err)
	assert.Equal(t, "PLATFORM-1", p.PlatformCode)
	assert.Equal(t, int64(3), p.RegisteredUsers)
}
