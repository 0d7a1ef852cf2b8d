package repository

import (
	"context"

	"ec-checkout/internal/domain/model"
)

type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (model.Coupon, error)
}
