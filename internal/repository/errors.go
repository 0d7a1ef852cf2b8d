package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// 一意制約違反（冪等キーの同時挿入など）
	ErrDuplicate = errors.New("duplicate")
)
