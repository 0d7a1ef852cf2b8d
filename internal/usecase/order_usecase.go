package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"ec-checkout/internal/domain/model"
	repo "ec-checkout/internal/repository"

	"github.com/google/uuid"
)

// 決済完了後に作られた注文の参照
type OrderUsecase struct {
	tx repo.TransactionManager
}

func NewOrderUsecase(tx repo.TransactionManager) *OrderUsecase {
	return &OrderUsecase{tx: tx}
}

type OrderItemOutput struct {
	VariantID int64 `json:"variantId"`
	Price     int64 `json:"price"`
	Quantity  int64 `json:"quantity"`
}

type OrderPaymentOutput struct {
	Provider       string              `json:"provider"`
	ExternalRef    string              `json:"externalRef"`
	Amount         int64               `json:"amount"`
	Status         model.PaymentStatus `json:"status"`
	ReviewRequired bool                `json:"reviewRequired"`
}

type AddressOutput struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"`
}

type OrderOutput struct {
	ID                int64                `json:"id"`
	CheckoutSessionID string               `json:"checkoutSessionId"`
	Status            model.OrderStatus    `json:"status"`
	Subtotal          int64                `json:"subtotal"`
	Discount          int64                `json:"discount"`
	TotalPrice        int64                `json:"totalPrice"`
	Currency          string               `json:"currency"`
	CouponCode        *string              `json:"couponCode,omitempty"`
	CreatedAt         time.Time            `json:"createdAt"`
	Items             []OrderItemOutput    `json:"items"`
	Payment           *OrderPaymentOutput  `json:"payment,omitempty"`
	ShipmentStatus    model.ShipmentStatus `json:"shipmentStatus,omitempty"`
	ShippingAddress   *AddressOutput       `json:"shippingAddress,omitempty"`
}

func (u *OrderUsecase) GetOrder(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, validationError("invalid id")
	}

	return u.read(ctx, userID, func(r repo.TxRepos) (model.Order, error) {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return model.Order{}, notFoundError()
		}
		return o, err
	})
}

// チェックアウト後のポーリング用（セッションIDから注文を引く）
func (u *OrderUsecase) GetOrderBySession(ctx context.Context, userID int64, sessionID string) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return OrderOutput{}, validationError("invalid session id")
	}
	if _, err := uuid.Parse(sessionID); err != nil {
		return OrderOutput{}, notFoundError()
	}

	return u.read(ctx, userID, func(r repo.TxRepos) (model.Order, error) {
		o, found, err := r.Orders().FindByCheckoutSessionID(ctx, sessionID)
		if err != nil {
			return model.Order{}, err
		}
		if !found {
			return model.Order{}, notFoundError()
		}
		return o, nil
	})
}

// 注文と明細・支払い・配送を同じスナップショットで読む
func (u *OrderUsecase) read(ctx context.Context, userID int64, find func(r repo.TxRepos) (model.Order, error)) (OrderOutput, error) {
	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := find(r)
		if err != nil {
			return err
		}
		//他人の注文は存在しない扱い
		if o.UserID != userID {
			return notFoundError()
		}

		items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
		if err != nil {
			return err
		}

		out = OrderOutput{
			ID:                o.ID,
			CheckoutSessionID: o.CheckoutSessionID,
			Status:            o.Status,
			Subtotal:          o.Subtotal,
			Discount:          o.Discount,
			TotalPrice:        o.TotalPrice,
			Currency:          o.Currency,
			CouponCode:        o.CouponCode,
			CreatedAt:         o.CreatedAt,
			Items:             make([]OrderItemOutput, 0, len(items)),
		}
		for _, it := range items {
			out.Items = append(out.Items, OrderItemOutput{
				VariantID: it.VariantID,
				Price:     it.UnitPriceSnapshot,
				Quantity:  it.Quantity,
			})
		}

		p, err := r.Payments().FindByOrderID(ctx, o.ID)
		switch {
		case err == nil:
			out.Payment = &OrderPaymentOutput{
				Provider:       p.Provider,
				ExternalRef:    p.ExternalRef,
				Amount:         p.Amount,
				Status:         p.Status,
				ReviewRequired: p.ReviewRequired,
			}
		case !errors.Is(err, repo.ErrNotFound):
			return err
		}

		sh, err := r.Shipments().FindByOrderID(ctx, o.ID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out.ShipmentStatus = sh.Status

		addr, err := r.Addresses().FindByID(ctx, sh.AddressID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out.ShippingAddress = &AddressOutput{
			Name:       addr.Name,
			Phone:      addr.Phone,
			Line1:      addr.Line1,
			Line2:      addr.Line2,
			City:       addr.City,
			State:      addr.State,
			PostalCode: addr.PostalCode,
			Country:    addr.Country,
		}
		return nil
	})
	if err != nil {
		if _, ok := AsHTTPError(err); ok {
			return OrderOutput{}, err
		}
		return OrderOutput{}, internalError("db error", err)
	}
	return out, nil
}
