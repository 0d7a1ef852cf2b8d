package repository

import (
	"context"

	"ec-checkout/internal/domain/model"
	repo "ec-checkout/internal/repository"

	"gorm.io/gorm"
)

type addressGormRepository struct {
	db *gorm.DB
}

// DI
func NewAddressGormRepository(db *gorm.DB) repo.AddressRepository {
	return &addressGormRepository{db: db}
}

// 注文の配送先を作成
func (r *addressGormRepository) Create(ctx context.Context, address model.Address) (int64, error) {
	if err := r.db.WithContext(ctx).Create(&address).Error; err != nil {
		return 0, translate(err)
	}
	return address.ID, nil
}

// 住所IDで1件取得
func (r *addressGormRepository) FindByID(ctx context.Context, addressID int64) (model.Address, error) {
	var a model.Address
	if err := r.db.WithContext(ctx).First(&a, addressID).Error; err != nil {
		return model.Address{}, translate(err)
	}
	return a, nil
}
