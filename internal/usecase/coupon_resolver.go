package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"ec-checkout/internal/domain/model"
	repo "ec-checkout/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// クーポン適用後の金額（最小通貨単位）
type CouponQuote struct {
	Code     *string
	Subtotal int64
	Discount int64
	Amount   int64
}

// クーポンの検証と値引き計算。同じ入力なら同じ結果。
type CouponResolver struct {
	coupons repo.CouponRepository
	log     *zap.Logger
}

func NewCouponResolver(coupons repo.CouponRepository, log *zap.Logger) *CouponResolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &CouponResolver{coupons: coupons, log: log}
}

// codeが空ならクーポンなし
func (r *CouponResolver) Resolve(ctx context.Context, code string, subtotal int64, now time.Time) (CouponQuote, error) {
	if subtotal <= 0 {
		return CouponQuote{}, validationError("cart total must be positive")
	}

	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return CouponQuote{Subtotal: subtotal, Amount: subtotal}, nil
	}

	c, err := r.coupons.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return CouponQuote{}, validationError("coupon not found")
		}
		r.log.Error("coupon lookup failed", zap.String("coupon", code), zap.Error(err))
		return CouponQuote{}, internalError("db error", err)
	}

	if err := checkCoupon(c, subtotal, now); err != nil {
		return CouponQuote{}, err
	}

	discount, err := discountFor(c, subtotal)
	if err != nil {
		return CouponQuote{}, err
	}

	amount := subtotal - discount
	if amount <= 0 {
		return CouponQuote{}, validationError("amount after discount must be positive")
	}

	return CouponQuote{
		Code:     &c.Code,
		Subtotal: subtotal,
		Discount: discount,
		Amount:   amount,
	}, nil
}

func checkCoupon(c model.Coupon, subtotal int64, now time.Time) error {
	if !c.IsActive {
		return validationError("coupon is not active")
	}
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return validationError("coupon is not yet valid")
	}
	if c.ValidTo != nil && !now.Before(*c.ValidTo) {
		return validationError("coupon has expired")
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return validationError("coupon usage limit reached")
	}
	if subtotal < c.MinOrderAmount {
		return validationError("order amount below coupon minimum")
	}
	return nil
}

// 端数は四捨五入（half-up）。値引きは小計を超えない。
func discountFor(c model.Coupon, subtotal int64) (int64, error) {
	var discount int64
	switch c.DiscountType {
	case model.DiscountPercent:
		if !c.PercentOff.IsPositive() || c.PercentOff.GreaterThan(hundred) {
			return 0, validationError("coupon is misconfigured")
		}
		discount = decimal.NewFromInt(subtotal).
			Mul(c.PercentOff).
			Div(hundred).
			Round(0).
			IntPart()
	case model.DiscountFixed:
		if c.AmountOff <= 0 {
			return 0, validationError("coupon is misconfigured")
		}
		discount = c.AmountOff
	default:
		return 0, validationError("coupon is misconfigured")
	}

	if discount > subtotal {
		discount = subtotal
	}
	return discount, nil
}
