package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sysu-ecnc-dev/dkn/backend/internal/domain"
)

const userColumns = `id, unique_user_id, full_name, email, division, role, password_hash, profile, last_login_at, created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	user := &domain.User{}
	var profile []byte
	var lastLoginAt sql.NullTime

	dst := []any{
		&user.ID,
		&user.UniqueUserID,
		&user.FullName,
		&user.Email,
		&user.Division,
		&user.Role,
		&user.PasswordHash,
		&profile,
		&lastLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.Version,
	}
	if err := row.Scan(dst...); err != nil {
		return nil, err
	}

	if lastLoginAt.Valid {
		user.LastLoginAt = &lastLoginAt.Time
	}

	p, err := domain.DecodeProfile(user.Role, profile)
	if err != nil {
		return nil, err
	}
	user.Profile = p

	return user, nil
}

func (r *Repository) GetUserByID(id int64) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	ctx, cancel := r.queryContext()
	defer cancel()

	return scanUser(r.dbpool.QueryRowContext(ctx, query, id))
}

func (r *Repository) GetUserByEmail(email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	ctx, cancel := r.queryContext()
	defer cancel()

	return scanUser(r.dbpool.QueryRowContext(ctx, query, email))
}

func (r *Repository) GetAllUsers() ([]*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC`

	ctx, cancel := r.queryContext()
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]*domain.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

// ListUsers 返回一页用户和用户总数，page 从 1 开始
func (r *Repository) ListUsers(page, limit int) ([]*domain.User, int64, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	var total int64
	if err := r.dbpool.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`

	rows, err := r.dbpool.QueryContext(ctx, query, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := make([]*domain.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return users, total, nil
}

func (r *Repository) CreateUser(user *domain.User) error {
	if user.Profile == nil {
		p, err := domain.NewProfile(user.Role)
		if err != nil {
			return err
		}
		user.Profile = p
	}

	profile, err := json.Marshal(user.Profile)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO users (unique_user_id, full_name, email, division, role, password_hash, profile)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at, version
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	args := []any{user.UniqueUserID, user.FullName, user.Email, user.Division, user.Role, user.PasswordHash, profile}
	dst := []any{&user.ID, &user.CreatedAt, &user.UpdatedAt, &user.Version}
	if err := r.dbpool.QueryRowContext(ctx, query, args...).Scan(dst...); err != nil {
		return err
	}

	return nil
}

func (r *Repository) UpdateLastLogin(user *domain.User) error {
	query := `
		UPDATE users
		SET last_login_at = $1
		WHERE id = $2
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	now := time.Now()
	if _, err := r.dbpool.ExecContext(ctx, query, now, user.ID); err != nil {
		return err
	}

	user.LastLoginAt = &now
	return nil
}

// UpdatePassword 以乐观锁更新密码，版本号不匹配时返回 sql.ErrNoRows
func (r *Repository) UpdatePassword(user *domain.User) error {
	query := `
		UPDATE users
		SET password_hash = $1, updated_at = NOW(), version = version + 1
		WHERE id = $2 AND version = $3
		RETURNING updated_at, version
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	args := []any{user.PasswordHash, user.ID, user.Version}
	dst := []any{&user.UpdatedAt, &user.Version}
	if err := r.dbpool.QueryRowContext(ctx, query, args...).Scan(dst...); err != nil {
		return err
	}

	return nil
}

func (r *Repository) DeleteUser(id int64) error {
	query := `DELETE FROM users WHERE id = $1`

	ctx, cancel := r.queryContext()
	defer cancel()

	res, err := r.dbpool.ExecContext(ctx, query, id)
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

func (r *Repository) CountUsers() (int64, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	var count int64
	if err := r.dbpool.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

// EarliestUserCreatedAt 返回最早注册用户的创建时间，没有用户时返回 nil
func (r *Repository) EarliestUserCreatedAt() (*time.Time, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	var earliest sql.NullTime
	if err := r.dbpool.QueryRowContext(ctx, `SELECT MIN(created_at) FROM users`).Scan(&earliest); err != nil {
		return nil, err
	}

	if !earliest.Valid {
		return nil, nil
	}
	return &earliest.Time, nil
}

func (r *Repository) CountUsersByRole() ([]domain.GroupCount, error) {
	return r.groupCount(`SELECT role, COUNT(*) FROM users GROUP BY role ORDER BY role`)
}

func (r *Repository) groupCount(query string) ([]domain.GroupCount, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make([]domain.GroupCount, 0)
	for rows.Next() {
		var gc domain.GroupCount
		if err := rows.Scan(&gc.Key, &gc.Count); err != nil {
			return nil, err
		}
		counts = append(counts, gc)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return counts, nil
}
