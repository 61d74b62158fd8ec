package repository

import (
	"github.com/sysu-ecnc-dev/dkn/backend/internal/domain"
)

// GetOrCreatePlatform 返回唯一的平台记录，首次访问时创建
func (r *Repository) GetOrCreatePlatform() (*domain.Platform, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	insert := `
		INSERT INTO platform (id, platform_code, release_version)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := r.dbpool.ExecContext(ctx, insert, r.cfg.Platform.Code, r.cfg.Platform.ReleaseVersion); err != nil {
		return nil, err
	}

	query := `
		SELECT id, platform_code, release_version, operational_time, registered_users, stored_knowledge_count, created_at, updated_at
		FROM platform WHERE id = 1
	`

	p := &domain.Platform{}
	dst := []any{&p.ID, &p.PlatformCode, &p.ReleaseVersion, &p.OperationalTime, &p.RegisteredUsers, &p.StoredKnowledgeCount, &p.CreatedAt, &p.UpdatedAt}
	if err := r.dbpool.QueryRowContext(ctx, query).Scan(dst...); err != nil {
		return nil, err
	}

	return p, nil
}

// UpdatePlatformCounters 直接覆盖计数器，所有写入者都从同一份数据源重新计算，后写者覆盖即可
func (r *Repository) UpdatePlatformCounters(p *domain.Platform) error {
	query := `
		UPDATE platform
		SET
			operational_time = $1,
			registered_users = $2,
			stored_knowledge_count = $3,
			updated_at = NOW()
		WHERE id = 1
		RETURNING updated_at
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	args := []any{p.OperationalTime, p.RegisteredUsers, p.StoredKnowledgeCount}
	if err := r.dbpool.QueryRowContext(ctx, query, args...).Scan(&p.UpdatedAt); err != nil {
		return err
	}

	return nil
}
