package repository

import (
	"errors"

	repo "ec-checkout/internal/repository"

	"gorm.io/gorm"
)

// gormのエラーをリポジトリのエラーに寄せる（TranslateError: true 前提）
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return repo.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return repo.ErrDuplicate
	default:
		return err
	}
}
