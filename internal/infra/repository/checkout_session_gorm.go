package repository

import (
	"context"
	"time"

	"ec-checkout/internal/domain/model"

	"gorm.io/gorm"
)

type CheckoutSessionGormRepository struct {
	db *gorm.DB
}

func NewCheckoutSessionGormRepository(db *gorm.DB) *CheckoutSessionGormRepository {
	return &CheckoutSessionGormRepository{db: db}
}

func (r *CheckoutSessionGormRepository) Create(ctx context.Context, s model.CheckoutSession) error {
	return translate(r.db.WithContext(ctx).Create(&s).Error)
}

func (r *CheckoutSessionGormRepository) FindByID(ctx context.Context, sessionID string) (model.CheckoutSession, error) {
	var s model.CheckoutSession
	if err := r.db.WithContext(ctx).Where("id = ?", sessionID).First(&s).Error; err != nil {
		return model.CheckoutSession{}, translate(err)
	}
	return s, nil
}

func (r *CheckoutSessionGormRepository) FindByExternalRef(ctx context.Context, provider string, externalRef string) (model.CheckoutSession, error) {
	var s model.CheckoutSession
	err := r.db.WithContext(ctx).
		Where("provider = ? AND external_ref = ?", provider, externalRef).
		First(&s).Error
	if err != nil {
		return model.CheckoutSession{}, translate(err)
	}
	return s, nil
}

// from→to（条件付きUPDATE）。同時に来たWebhookのうち1つだけが通る。
func (r *CheckoutSessionGormRepository) TransitionStatus(ctx context.Context, sessionID string, from model.CheckoutSessionStatus, to model.CheckoutSessionStatus, at time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": at,
	}
	if to == model.CheckoutSessionCompleted {
		updates["completed_at"] = at
	}

	res := r.db.WithContext(ctx).
		Model(&model.CheckoutSession{}).
		Where("id = ? AND status = ?", sessionID, from).
		Updates(updates)

	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *CheckoutSessionGormRepository) ExpirePendingByCartID(ctx context.Context, cartID int64, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&model.CheckoutSession{}).
		Where("cart_id = ? AND status = ?", cartID, model.CheckoutSessionPending).
		Updates(map[string]interface{}{
			"status":     model.CheckoutSessionExpired,
			"updated_at": at,
		})

	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// 期限切れのPENDING（古い順）
func (r *CheckoutSessionGormRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.CheckoutSession, error) {
	q := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", model.CheckoutSessionPending, now).
		Order("expires_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var list []model.CheckoutSession
	if err := q.Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
