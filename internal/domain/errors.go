package domain

import "errors"

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid approval state")
	ErrValidation      = errors.New("validation failed")
	ErrDuplicate       = errors.New("duplicate")
	// ErrConflict 表示乐观锁版本号不一致，客户端应重试
	ErrConflict = errors.New("conflict")
)
