package repository

import (
	"context"
	"time"

	"ec-checkout/internal/domain/model"
)

// 状態更新の中身
type PaymentEventUpdate struct {
	Status            model.PaymentEventStatus
	CheckoutSessionID *string
	ProcessedAt       *time.Time
}

type PaymentEventRepository interface {
	// 冪等キーで検索（無ければfound=false）
	FindByProviderEventID(ctx context.Context, provider string, providerEventID string) (model.PaymentEvent, bool, error)

	// RECEIVEDで保存。同じキーが既にあればErrDuplicate。
	Create(ctx context.Context, ev model.PaymentEvent) (int64, error)

	// RECEIVEDのときだけ更新（判定は一度きり）。更新できなければfalse。
	UpdateStatus(ctx context.Context, eventID int64, u PaymentEventUpdate) (bool, error)

	// 状態は変えずに最後のエラーだけ残す
	RecordError(ctx context.Context, eventID int64, msg string) error

	// 再処理対象（RECEIVEDのまま残ったもの）
	ListReceivedBefore(ctx context.Context, before time.Time, limit int) ([]model.PaymentEvent, error)
}
