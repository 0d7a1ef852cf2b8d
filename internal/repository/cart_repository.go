package repository

import (
	"context"
	"time"

	"ec-checkout/internal/domain/model"
)

type CartRepository interface {
	FindByID(ctx context.Context, cartID int64) (model.Cart, error)

	// ユーザーのOPEN/CHECKOUT_PENDINGカート（最新）
	FindCurrentByUserID(ctx context.Context, userID int64) (model.Cart, error)

	// OPEN→CHECKOUT_PENDING のCAS。
	// staleBefore より古いCHECKOUT_PENDINGも取り直せる。取れなければfalse。
	ClaimForCheckout(ctx context.Context, cartID int64, now time.Time, staleBefore time.Time) (bool, error)

	// from→to のCAS。CHECKOUT_PENDING以外にするときはpending_sinceを消す。
	TransitionStatus(ctx context.Context, cartID int64, from model.CartStatus, to model.CartStatus) (bool, error)
}
