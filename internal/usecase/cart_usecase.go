package usecase

import (
	"context"
	"errors"
	"net/http"

	"ec-checkout/internal/domain/model"
	repo "ec-checkout/internal/repository"
)

// CartUsecase は /cart の読み取りです。
// 明細の追加・変更はカートAPI側の責務なので、ここでは状態と小計だけ返します。
type CartUsecase struct {
	cartRepo     repo.CartRepository
	cartItemRepo repo.CartItemRepository
}

func NewCartUsecase(cartRepo repo.CartRepository, cartItemRepo repo.CartItemRepository) *CartUsecase {
	return &CartUsecase{
		cartRepo:     cartRepo,
		cartItemRepo: cartItemRepo,
	}
}

type CartItemResponse struct {
	ID        int64 `json:"id"`
	VariantID int64 `json:"variantId"`
	UnitPrice int64 `json:"unitPrice"`
	Quantity  int64 `json:"quantity"`
	LineTotal int64 `json:"lineTotal"`
}

type CartResponse struct {
	ID       int64              `json:"id"`
	Status   model.CartStatus   `json:"status"`
	Items    []CartItemResponse `json:"items"`
	Subtotal int64              `json:"subtotal"`
	// CHECKOUT_PENDINGの間はtrue（決済待ち）
	Locked bool `json:"locked"`
}

// GetCart は現在のカート（OPEN / CHECKOUT_PENDING）を返す。
func (u *CartUsecase) GetCart(ctx context.Context, userID int64) (CartResponse, error) {
	if userID <= 0 {
		return CartResponse{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	cart, err := u.cartRepo.FindCurrentByUserID(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return CartResponse{}, notFoundError()
	}
	if err != nil {
		return CartResponse{}, internalError("db error", err)
	}

	items, err := u.cartItemRepo.ListByCartID(ctx, cart.ID)
	if err != nil {
		return CartResponse{}, internalError("db error", err)
	}

	out := CartResponse{
		ID:     cart.ID,
		Status: cart.Status,
		Items:  make([]CartItemResponse, 0, len(items)),
		Locked: cart.Status == model.CartStatusCheckoutPending,
	}
	for _, it := range items {
		line := it.LineTotal()
		out.Items = append(out.Items, CartItemResponse{
			ID:        it.ID,
			VariantID: it.VariantID,
			UnitPrice: it.UnitPriceSnapshot,
			Quantity:  it.Quantity,
			LineTotal: line,
		})
		out.Subtotal += line
	}
	return out, nil
}
