package model

import "errors"

var (
	// ErrInvalidRecord 记录缺少必填字段（channel_id）
	ErrInvalidRecord = errors.New("invalid record")
	// ErrNotFound 待审核条目不存在或已处理
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied 调用者不在管理员名单内
	ErrPermissionDenied = errors.New("permission denied")
	// ErrExternalUnavailable 平台或存储 I/O 失败
	ErrExternalUnavailable = errors.New("external service unavailable")
)
