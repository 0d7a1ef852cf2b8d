package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ec-checkout/internal/domain/model"
	"ec-checkout/internal/provider"
	repo "ec-checkout/internal/repository"

	"go.uber.org/zap"
)

var errEmptySnapshot = errors.New("checkout session has no items")

type FulfillmentResult struct {
	Order    model.Order
	Items    []model.OrderItem
	Payment  model.Payment
	Shipment model.Shipment
	Address  model.Address
	// 決済額がセッション額と違う（Payment.ReviewRequired=true）
	AmountMismatch bool
}

// 決済成功時にOrder/Payment/Address/Shipmentを作る。
// 呼び出し側（Webhook処理）のトランザクション内でだけ使う。
type FulfillmentWriter struct {
	clock Clock
	log   *zap.Logger
}

func NewFulfillmentWriter(clock Clock, log *zap.Logger) *FulfillmentWriter {
	if log == nil {
		log = zap.NewNop()
	}
	return &FulfillmentWriter{clock: clock, log: log}
}

func (w *FulfillmentWriter) MaterializeOrder(ctx context.Context, r repo.TxRepos, s model.CheckoutSession, ev provider.VerifiedEvent) (FulfillmentResult, error) {
	now := w.clock.Now()

	// 明細はセッション作成時点のもの（カートは見ない）
	snapshot, err := s.Items()
	if err != nil {
		return FulfillmentResult{}, fmt.Errorf("decode session items: %w", err)
	}
	if len(snapshot) == 0 {
		return FulfillmentResult{}, errEmptySnapshot
	}

	order := model.Order{
		UserID:            s.UserID,
		CheckoutSessionID: s.ID,
		Status:            model.OrderStatusCreated,
		Subtotal:          s.Subtotal,
		Discount:          s.Discount,
		TotalPrice:        s.Amount,
		Currency:          s.Currency,
		CouponCode:        s.CouponCode,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	orderID, err := r.Orders().Create(ctx, order)
	if err != nil {
		return FulfillmentResult{}, fmt.Errorf("create order: %w", err)
	}
	order.ID = orderID

	items := make([]model.OrderItem, 0, len(snapshot))
	for _, it := range snapshot {
		items = append(items, model.OrderItem{
			OrderID:           orderID,
			VariantID:         it.VariantID,
			UnitPriceSnapshot: it.UnitPrice,
			Quantity:          it.Quantity,
			CreatedAt:         now,
		})
	}
	if err := r.OrderItems().CreateBulk(ctx, orderID, items); err != nil {
		return FulfillmentResult{}, fmt.Errorf("create order items: %w", err)
	}

	// 0はプロバイダが金額を返さなかった
	settled := ev.Amount
	if settled == 0 {
		settled = s.Amount
	}
	mismatch := settled != s.Amount || (ev.Currency != "" && !strings.EqualFold(ev.Currency, s.Currency))

	externalRef := ev.PaymentRef
	if externalRef == "" {
		externalRef = s.ExternalRef
	}
	payment := model.Payment{
		OrderID:           orderID,
		CheckoutSessionID: s.ID,
		Provider:          s.Provider,
		ExternalRef:       externalRef,
		Amount:            settled,
		Currency:          s.Currency,
		Status:            model.PaymentStatusSucceeded,
		ReviewRequired:    mismatch,
		MetadataJSON:      string(ev.Metadata),
		CreatedAt:         now,
	}
	if ev.Currency != "" {
		payment.Currency = strings.ToLower(ev.Currency)
	}
	paymentID, err := r.Payments().Create(ctx, payment)
	if err != nil {
		return FulfillmentResult{}, fmt.Errorf("create payment: %w", err)
	}
	payment.ID = paymentID

	addr := addressFor(s, ev.Shipping, orderID, now)
	addrID, err := r.Addresses().Create(ctx, addr)
	if err != nil {
		return FulfillmentResult{}, fmt.Errorf("create address: %w", err)
	}
	addr.ID = addrID

	shipment := model.Shipment{
		OrderID:   orderID,
		AddressID: addrID,
		Status:    model.ShipmentStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	shipmentID, err := r.Shipments().Create(ctx, shipment)
	if err != nil {
		return FulfillmentResult{}, fmt.Errorf("create shipment: %w", err)
	}
	shipment.ID = shipmentID

	if mismatch {
		w.log.Error("settled amount differs from session amount; payment flagged for review",
			zap.String("session_id", s.ID),
			zap.String("provider", s.Provider),
			zap.Int64("order_id", orderID),
			zap.Int64("expected", s.Amount),
			zap.String("expected_currency", s.Currency),
			zap.Int64("settled", settled),
			zap.String("settled_currency", payment.Currency),
		)
	}

	return FulfillmentResult{
		Order:          order,
		Items:          items,
		Payment:        payment,
		Shipment:       shipment,
		Address:        addr,
		AmountMismatch: mismatch,
	}, nil
}

// プロバイダの配送先 > セッションの電話番号
func addressFor(s model.CheckoutSession, sh *provider.Shipping, orderID int64, now time.Time) model.Address {
	addr := model.Address{
		OrderID:   orderID,
		UserID:    s.UserID,
		Phone:     s.PhoneNumber,
		CreatedAt: now,
	}
	if sh == nil {
		return addr
	}
	addr.Name = sh.Name
	if sh.Phone != "" {
		addr.Phone = sh.Phone
	}
	addr.Line1 = sh.Line1
	addr.Line2 = sh.Line2
	addr.City = sh.City
	addr.State = sh.State
	addr.PostalCode = sh.PostalCode
	addr.Country = strings.ToUpper(sh.Country)
	return addr
}
