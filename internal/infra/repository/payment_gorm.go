package repository

import (
	"context"

	"ec-checkout/internal/domain/model"
	repo "ec-checkout/internal/repository"

	"gorm.io/gorm"
)

type paymentGormRepository struct {
	db *gorm.DB
}

func NewPaymentGormRepository(db *gorm.DB) repo.PaymentRepository {
	return &paymentGormRepository{db: db}
}

func (r *paymentGormRepository) Create(ctx context.Context, p model.Payment) (int64, error) {
	if err := r.db.WithContext(ctx).Create(&p).Error; err != nil {
		return 0, translate(err)
	}
	return p.ID, nil
}

func (r *paymentGormRepository) FindByOrderID(ctx context.Context, orderID int64) (model.Payment, error) {
	var p model.Payment
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&p).Error; err != nil {
		return model.Payment{}, translate(err)
	}
	return p, nil
}

type shipmentGormRepository struct {
	db *gorm.DB
}

func NewShipmentGormRepository(db *gorm.DB) repo.ShipmentRepository {
	return &shipmentGormRepository{db: db}
}

func (r *shipmentGormRepository) Create(ctx context.Context, s model.Shipment) (int64, error) {
	if err := r.db.WithContext(ctx).Create(&s).Error; err != nil {
		return 0, translate(err)
	}
	return s.ID, nil
}

func (r *shipmentGormRepository) FindByOrderID(ctx context.Context, orderID int64) (model.Shipment, error) {
	var s model.Shipment
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&s).Error; err != nil {
		return model.Shipment{}, translate(err)
	}
	return s, nil
}
