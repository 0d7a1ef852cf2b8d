package repository

import (
	"context"
	"errors"
	"time"

	"ec-checkout/internal/domain/model"
	repo "ec-checkout/internal/repository"

	"gorm.io/gorm"
)

type paymentEventGormRepository struct {
	db *gorm.DB
}

func NewPaymentEventGormRepository(db *gorm.DB) repo.PaymentEventRepository {
	return &paymentEventGormRepository{db: db}
}

func (r *paymentEventGormRepository) FindByProviderEventID(ctx context.Context, provider string, providerEventID string) (model.PaymentEvent, bool, error) {
	var ev model.PaymentEvent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		First(&ev).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.PaymentEvent{}, false, nil
	}
	if err != nil {
		return model.PaymentEvent{}, false, err
	}
	return ev, true, nil
}

// (provider, provider_event_id)のunique制約に当たればErrDuplicate
func (r *paymentEventGormRepository) Create(ctx context.Context, ev model.PaymentEvent) (int64, error) {
	if err := r.db.WithContext(ctx).Create(&ev).Error; err != nil {
		return 0, translate(err)
	}
	return ev.ID, nil
}

// RECEIVEDのときだけ更新
func (r *paymentEventGormRepository) UpdateStatus(ctx context.Context, eventID int64, u repo.PaymentEventUpdate) (bool, error) {
	updates := map[string]interface{}{
		"status": u.Status,
	}
	if u.CheckoutSessionID != nil {
		updates["checkout_session_id"] = *u.CheckoutSessionID
	}
	if u.ProcessedAt != nil {
		updates["processed_at"] = *u.ProcessedAt
	}

	res := r.db.WithContext(ctx).
		Model(&model.PaymentEvent{}).
		Where("id = ? AND status = ?", eventID, model.PaymentEventReceived).
		Updates(updates)

	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *paymentEventGormRepository) RecordError(ctx context.Context, eventID int64, msg string) error {
	res := r.db.WithContext(ctx).
		Model(&model.PaymentEvent{}).
		Where("id = ?", eventID).
		Update("last_error", msg)

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *paymentEventGormRepository) ListReceivedBefore(ctx context.Context, before time.Time, limit int) ([]model.PaymentEvent, error) {
	q := r.db.WithContext(ctx).
		Where("status = ? AND received_at < ?", model.PaymentEventReceived, before).
		Order("id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var list []model.PaymentEvent
	if err := q.Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
