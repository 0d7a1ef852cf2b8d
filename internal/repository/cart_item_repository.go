package repository

import (
	"context"

	"ec-checkout/internal/domain/model"
)

// 明細の変更はカートAPI（外部）が行う。ここは読み取りのみ。
type CartItemRepository interface {
	ListByCartID(ctx context.Context, cartID int64) ([]model.CartItem, error)
}
