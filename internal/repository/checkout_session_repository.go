package repository

import (
	"context"
	"time"

	"ec-checkout/internal/domain/model"
)

type CheckoutSessionRepository interface {
	Create(ctx context.Context, s model.CheckoutSession) error
	FindByID(ctx context.Context, sessionID string) (model.CheckoutSession, error)

	// プロバイダのセッション参照から引く
	FindByExternalRef(ctx context.Context, provider string, externalRef string) (model.CheckoutSession, error)

	// from→to のCAS。取れなければfalse。
	TransitionStatus(ctx context.Context, sessionID string, from model.CheckoutSessionStatus, to model.CheckoutSessionStatus, at time.Time) (bool, error)

	// カートのPENDINGセッションをまとめてEXPIREDに
	ExpirePendingByCartID(ctx context.Context, cartID int64, at time.Time) (int64, error)

	// 期限切れのPENDING（スイーパー用）
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.CheckoutSession, error)
}
