package repository

import (
	"context"

	"ec-checkout/internal/domain/model"
)

type OrderRepository interface {
	Create(ctx context.Context, order model.Order) (int64, error)
	FindByID(ctx context.Context, orderID int64) (model.Order, error)

	// 冪等確認用（セッション1件につき注文1件）
	FindByCheckoutSessionID(ctx context.Context, sessionID string) (model.Order, bool, error)

	CountByUserID(ctx context.Context, userID int64) (int64, error)
}
