package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/sysu-ecnc-dev/dkn/backend/internal/domain"
)

const knowledgeColumns = `kr.id, kr.resource_code, kr.heading, kr.data_body, kr.classification, kr.approval_state, kr.revision_number, kr.user_rating, kr.access_count, kr.created_by, kr.created_at, kr.updated_at, kr.version`

const ownerColumns = `u.id, u.full_name, u.email, u.role`

func knowledgeDst(k *domain.KnowledgeResource) []any {
	return []any{
		&k.ID,
		&k.ResourceCode,
		&k.Heading,
		&k.DataBody,
		&k.Classification,
		&k.ApprovalState,
		&k.RevisionNumber,
		&k.UserRating,
		&k.AccessCount,
		&k.CreatedBy,
		&k.CreatedAt,
		&k.UpdatedAt,
		&k.Version,
	}
}

func scanKnowledgeWithOwner(row rowScanner) (*domain.KnowledgeResource, error) {
	k := &domain.KnowledgeResource{Owner: &domain.UserSummary{}}
	dst := append(knowledgeDst(k), &k.Owner.ID, &k.Owner.FullName, &k.Owner.Email, &k.Owner.Role)
	if err := row.Scan(dst...); err != nil {
		return nil, err
	}
	return k, nil
}

func (r *Repository) CreateKnowledge(k *domain.KnowledgeResource, keywords []string) error {
	ctx, cancel := r.transactionContext()
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		INSERT INTO knowledge_resources (resource_code, heading, data_body, classification, approval_state, user_rating, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, revision_number, access_count, created_at, updated_at, version
	`

	args := []any{k.ResourceCode, k.Heading, k.DataBody, k.Classification, k.ApprovalState, k.UserRating, k.CreatedBy}
	dst := []any{&k.ID, &k.RevisionNumber, &k.AccessCount, &k.CreatedAt, &k.UpdatedAt, &k.Version}
	if err := tx.QueryRowContext(ctx, query, args...).Scan(dst...); err != nil {
		return err
	}

	if err := insertKeywords(ctx, tx, k.ID, keywords); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	k.Keywords = keywords
	return nil
}

func insertKeywords(ctx context.Context, tx *sql.Tx, resourceID int64, keywords []string) error {
	for _, keyword := range keywords {
		query := `INSERT INTO knowledge_keywords (knowledge_resource_id, keyword) VALUES ($1, $2)`
		if _, err := tx.ExecContext(ctx, query, resourceID, keyword); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) GetKnowledgeByID(id int64) (*domain.KnowledgeResource, error) {
	query := `
		SELECT ` + knowledgeColumns + `, ` + ownerColumns + `
		FROM knowledge_resources kr
		JOIN users u ON u.id = kr.created_by
		WHERE kr.id = $1
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	k, err := scanKnowledgeWithOwner(r.dbpool.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}

	keywords, err := r.GetKnowledgeKeywords(id)
	if err != nil {
		return nil, err
	}
	k.Keywords = keywords

	return k, nil
}

func (r *Repository) GetKnowledgeKeywords(id int64) ([]string, error) {
	query := `SELECT keyword FROM knowledge_keywords WHERE knowledge_resource_id = $1 ORDER BY id`

	ctx, cancel := r.queryContext()
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keywords := make([]string, 0)
	for rows.Next() {
		var keyword string
		if err := rows.Scan(&keyword); err != nil {
			return nil, err
		}
		keywords = append(keywords, keyword)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return keywords, nil
}

// knowledgeWhere 根据过滤条件拼接 WHERE 子句，参数从 $1 开始编号
func knowledgeWhere(filter domain.KnowledgeFilter) (string, []any) {
	conds := []string{}
	args := []any{}

	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Keyword != "" {
		pattern := "%" + escapeLike(filter.Keyword) + "%"
		conds = append(conds, "kr.id IN (SELECT knowledge_resource_id FROM knowledge_keywords WHERE keyword ILIKE "+next(pattern)+")")
	}
	if filter.Classification != "" {
		conds = append(conds, "kr.classification = "+next(filter.Classification))
	}
	if filter.ApprovalState != "" {
		conds = append(conds, "kr.approval_state = "+next(filter.ApprovalState))
	}
	if filter.CreatedBy != 0 {
		conds = append(conds, "kr.created_by = "+next(filter.CreatedBy))
	}

	v := filter.Visibility
	if !v.All {
		owner := "kr.created_by = " + next(v.OwnerID)
		if len(v.States) > 0 {
			placeholders := make([]string, len(v.States))
			for i, state := range v.States {
				placeholders[i] = next(state)
			}
			conds = append(conds, "("+owner+" OR kr.approval_state IN ("+strings.Join(placeholders, ", ")+"))")
		} else {
			conds = append(conds, owner)
		}
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *Repository) ListKnowledge(filter domain.KnowledgeFilter) ([]*domain.KnowledgeResource, int64, error) {
	where, args := knowledgeWhere(filter)

	ctx, cancel := r.queryContext()
	defer cancel()

	var total int64
	countQuery := `SELECT COUNT(*) FROM knowledge_resources kr` + where
	if err := r.dbpool.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	offset := (filter.Page - 1) * filter.Limit
	query := fmt.Sprintf(`
		SELECT %s, %s
		FROM knowledge_resources kr
		JOIN users u ON u.id = kr.created_by%s
		ORDER BY kr.created_at DESC, kr.id DESC
		LIMIT $%d OFFSET $%d
	`, knowledgeColumns, ownerColumns, where, len(args)+1, len(args)+2)

	rows, err := r.dbpool.QueryContext(ctx, query, append(args, filter.Limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	resources := make([]*domain.KnowledgeResource, 0)
	byID := make(map[int64]*domain.KnowledgeResource)
	for rows.Next() {
		k, err := scanKnowledgeWithOwner(rows)
		if err != nil {
			return nil, 0, err
		}
		k.Keywords = []string{}
		resources = append(resources, k)
		byID[k.ID] = k
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if len(resources) == 0 {
		return resources, total, nil
	}

	// 一次性取出当前页所有资源的关键词
	placeholders := make([]string, len(resources))
	ids := make([]any, len(resources))
	for i, k := range resources {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		ids[i] = k.ID
	}

	keywordQuery := `
		SELECT knowledge_resource_id, keyword
		FROM knowledge_keywords
		WHERE knowledge_resource_id IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY id
	`

	keywordRows, err := r.dbpool.QueryContext(ctx, keywordQuery, ids...)
	if err != nil {
		return nil, 0, err
	}
	defer keywordRows.Close()

	for keywordRows.Next() {
		var resourceID int64
		var keyword string
		if err := keywordRows.Scan(&resourceID, &keyword); err != nil {
			return nil, 0, err
		}
		if k, ok := byID[resourceID]; ok {
			k.Keywords = append(k.Keywords, keyword)
		}
	}

	if err := keywordRows.Err(); err != nil {
		return nil, 0, err
	}

	return resources, total, nil
}

// UpdateKnowledge 更新资源内容，keywords 为 nil 时保留原有关键词
func (r *Repository) UpdateKnowledge(k *domain.KnowledgeResource, keywords []string) error {
	ctx, cancel := r.transactionContext()
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// 审批状态不在这里更新，避免覆盖并发的审批流转
	query := `
		UPDATE knowledge_resources
		SET
			heading = $1,
			data_body = $2,
			classification = $3,
			user_rating = $4,
			revision_number = $5,
			updated_at = NOW(),
			version = version + 1
		WHERE id = $6 AND version = $7
		RETURNING approval_state, access_count, updated_at, version
	`

	args := []any{k.Heading, k.DataBody, k.Classification, k.UserRating, k.RevisionNumber, k.ID, k.Version}
	dst := []any{&k.ApprovalState, &k.AccessCount, &k.UpdatedAt, &k.Version}
	if err := tx.QueryRowContext(ctx, query, args...).Scan(dst...); err != nil {
		return err
	}

	if keywords != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM knowledge_keywords WHERE knowledge_resource_id = $1`, k.ID); err != nil {
			return err
		}
		if err := insertKeywords(ctx, tx, k.ID, keywords); err != nil {
			return err
		}
		k.Keywords = keywords
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	return nil
}

func (r *Repository) DeleteKnowledge(id int64) error {
	ctx, cancel := r.queryContext()
	defer cancel()

	// 关键词、驳回记录和分析结果通过外键级联删除
	res, err := r.dbpool.ExecContext(ctx, `DELETE FROM knowledge_resources WHERE id = $1`, id)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (r *Repository) IncrementAccessCount(id int64) (int64, error) {
	query := `
		UPDATE knowledge_resources
		SET access_count = access_count + 1
		WHERE id = $1
		RETURNING access_count
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	var count int64
	if err := r.dbpool.QueryRowContext(ctx, query, id).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

// TransitionKnowledge 以 compare-and-set 的方式流转审批状态：
// 只有当前状态等于 t.From 时才会更新，并发的两次流转只有一次能成功
func (r *Repository) TransitionKnowledge(t domain.Transition) (*domain.KnowledgeResource, error) {
	ctx, cancel := r.transactionContext()
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		UPDATE knowledge_resources AS kr
		SET approval_state = $1, updated_at = NOW(), version = kr.version + 1
		WHERE kr.id = $2 AND kr.approval_state = $3
		RETURNING ` + knowledgeColumns

	k := &domain.KnowledgeResource{}
	if err := tx.QueryRowContext(ctx, query, t.To, t.ResourceID, t.From).Scan(knowledgeDst(k)...); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		// 区分资源不存在和状态不匹配
		var current domain.ApprovalState
		if err := tx.QueryRowContext(ctx, `SELECT approval_state FROM knowledge_resources WHERE id = $1`, t.ResourceID).Scan(&current); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: resource is %s, expected %s", domain.ErrInvalidState, current, t.From)
	}

	if t.CreditValidator {
		query := `
			UPDATE users
			SET
				profile = jsonb_set(profile, '{approvedSubmissions}', to_jsonb(COALESCE((profile->>'approvedSubmissions')::bigint, 0) + 1)),
				updated_at = NOW()
			WHERE id = $1 AND role = 'validator'
		`
		if _, err := tx.ExecContext(ctx, query, t.ActorID); err != nil {
			return nil, err
		}
	}

	if t.To == domain.StateRejected {
		query := `
			INSERT INTO knowledge_rejections (knowledge_resource_id, rejected_by, reason)
			VALUES ($1, $2, $3)
		`
		if _, err := tx.ExecContext(ctx, query, t.ResourceID, t.ActorID, t.Reason); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return k, nil
}

func (r *Repository) ListRejections(resourceID int64) ([]*domain.Rejection, error) {
	query := `
		SELECT id, knowledge_resource_id, COALESCE(rejected_by, 0), reason, created_at
		FROM knowledge_rejections
		WHERE knowledge_resource_id = $1
		ORDER BY created_at DESC
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rejections := make([]*domain.Rejection, 0)
	for rows.Next() {
		rej := &domain.Rejection{}
		if err := rows.Scan(&rej.ID, &rej.KnowledgeResourceID, &rej.RejectedBy, &rej.Reason, &rej.CreatedAt); err != nil {
			return nil, err
		}
		rejections = append(rejections, rej)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return rejections, nil
}

func (r *Repository) CountKnowledge() (int64, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	var count int64
	if err := r.dbpool.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_resources`).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

func (r *Repository) CountKnowledgeByState() ([]domain.GroupCount, error) {
	return r.groupCount(`SELECT approval_state, COUNT(*) FROM knowledge_resources GROUP BY approval_state`)
}

func (r *Repository) CountKnowledgeByClassification() ([]domain.GroupCount, error) {
	return r.groupCount(`SELECT classification, COUNT(*) FROM knowledge_resources GROUP BY classification ORDER BY classification`)
}
