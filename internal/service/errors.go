package service

import "errors"

// 业务错误。服务层用 fmt.Errorf("...: %w", ErrX) 包装，handler 统一映射为响应。
var (
	ErrValidation           = errors.New("validation error")
	ErrNotFound             = errors.New("not found")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrUnauthorized         = errors.New("invalid credentials")
	ErrSessionExpired       = errors.New("payment session expired")
	ErrVerificationMismatch = errors.New("payment verification mismatch")
	ErrExternalService      = errors.New("external service error")
	ErrEmptyHistory         = errors.New("no conversation to summarize")
	ErrConflict             = errors.New("conflict")
)
