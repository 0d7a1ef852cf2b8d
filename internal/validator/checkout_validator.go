package validator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"ec-checkout/internal/provider"
	"ec-checkout/internal/usecase"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrInvalidCoupon   = errors.New("invalid coupon code")
)

const maxCouponCodeLen = 64

var (
	phoneRe  = regexp.MustCompile(`^\+?[0-9]{9,15}$`)
	couponRe = regexp.MustCompile(`^[A-Z0-9_-]+$`)
)

type checkoutValidator struct {
	providers *provider.Registry
}

// Usecaseは interface を依存注入
func NewCheckoutValidator(providers *provider.Registry) usecase.CheckoutValidator {
	return &checkoutValidator{providers: providers}
}

// チェックアウト開始の入力を検証
func (v *checkoutValidator) ValidateCreate(ctx context.Context, in usecase.CreateCheckoutInput) error {
	a, ok := v.providers.Get(strings.TrimSpace(in.Provider))
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, in.Provider)
	}

	if in.CouponCode != "" {
		code := NormalizeCouponCode(in.CouponCode)
		if len(code) > maxCouponCodeLen || !couponRe.MatchString(code) {
			return ErrInvalidCoupon
		}
	}

	// プロバイダ固有パラメータ
	return a.ValidateParams(provider.Params{
		PhoneNumber: in.PhoneNumber,
		MNO:         in.MNO,
	})
}

// 空白・区切りを除いて判定する
func IsPhoneNumber(s string) bool {
	return phoneRe.MatchString(NormalizePhoneNumber(s))
}

// "+254 712-345-678" → "+254712345678"
func NormalizePhoneNumber(s string) string {
	s = strings.TrimSpace(s)
	r := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	return r.Replace(s)
}

// 大文字・前後空白なし
func NormalizeCouponCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
