package repository

import (
	"context"
	"time"

	"ec-checkout/internal/domain/model"

	"gorm.io/gorm"
)

// cartsとcart_itemsの両方を扱う
type CartGormRepository struct {
	db *gorm.DB
}

// DI
func NewCartGormRepository(db *gorm.DB) *CartGormRepository {
	return &CartGormRepository{db: db}
}

func (r *CartGormRepository) FindByID(ctx context.Context, cartID int64) (model.Cart, error) {
	var cart model.Cart
	if err := r.db.WithContext(ctx).Where("id = ?", cartID).First(&cart).Error; err != nil {
		return model.Cart{}, translate(err)
	}
	return cart, nil
}

// ユーザーのOPEN/CHECKOUT_PENDINGカート（最新）を取得
func (r *CartGormRepository) FindCurrentByUserID(ctx context.Context, userID int64) (model.Cart, error) {
	var cart model.Cart

	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, []model.CartStatus{model.CartStatusOpen, model.CartStatusCheckoutPending}).
		Order("id desc").
		First(&cart).Error
	if err != nil {
		return model.Cart{}, translate(err)
	}
	return cart, nil
}

// OPEN→CHECKOUT_PENDING（条件付きUPDATE）
// pending_sinceがstaleBeforeより古いCHECKOUT_PENDINGも取り直す
// 明細が空になったカートは取らない
func (r *CartGormRepository) ClaimForCheckout(ctx context.Context, cartID int64, now time.Time, staleBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Cart{}).
		Where("id = ?", cartID).
		Where("status = ? OR (status = ? AND pending_since < ?)",
			model.CartStatusOpen, model.CartStatusCheckoutPending, staleBefore).
		Where("EXISTS (SELECT 1 FROM cart_items WHERE cart_items.cart_id = carts.id)").
		Updates(map[string]interface{}{
			"status":        model.CartStatusCheckoutPending,
			"pending_since": now,
			"updated_at":    now,
		})

	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// from→to（条件付きUPDATE）
func (r *CartGormRepository) TransitionStatus(ctx context.Context, cartID int64, from model.CartStatus, to model.CartStatus) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	if to != model.CartStatusCheckoutPending {
		updates["pending_since"] = nil
	}

	res := r.db.WithContext(ctx).
		Model(&model.Cart{}).
		Where("id = ? AND status = ?", cartID, from).
		Updates(updates)

	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// カート明細を一覧取得
func (r *CartGormRepository) ListByCartID(ctx context.Context, cartID int64) ([]model.CartItem, error) {
	var items []model.CartItem

	if err := r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Order("id asc").
		Find(&items).Error; err != nil {
		return []model.CartItem{}, err
	}

	return items, nil
}
