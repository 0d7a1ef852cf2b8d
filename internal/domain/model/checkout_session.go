package model

import (
	"encoding/json"
	"time"
)

type CheckoutSessionStatus string

const (
	CheckoutSessionPending   CheckoutSessionStatus = "PENDING"
	CheckoutSessionExpired   CheckoutSessionStatus = "EXPIRED"
	CheckoutSessionCompleted CheckoutSessionStatus = "COMPLETED"
	CheckoutSessionFailed    CheckoutSessionStatus = "FAILED"
)

func (s CheckoutSessionStatus) IsTerminal() bool {
	return s != CheckoutSessionPending
}

// 決済プロバイダ単位の「支払い意図」。注文(Order)とは別物。
// CartIDは参照のみ（FKなし）。カートが消えても監査のため残す。
type CheckoutSession struct {
	ID          string                `gorm:"type:uuid;primaryKey" json:"id"`
	CartID      int64                 `gorm:"not null;index" json:"cart_id"`
	UserID      int64                 `gorm:"not null;index" json:"user_id"`
	Provider    string                `gorm:"type:varchar(50);not null;uniqueIndex:ux_checkout_sessions_provider_ref" json:"provider"`
	ExternalRef string                `gorm:"type:varchar(255);not null;uniqueIndex:ux_checkout_sessions_provider_ref" json:"external_ref"`
	Status      CheckoutSessionStatus `gorm:"type:varchar(20);not null;index" json:"status"`

	//金額はすべて最小通貨単位
	Subtotal int64  `gorm:"not null" json:"subtotal"`
	Discount int64  `gorm:"not null;default:0" json:"discount"`
	Amount   int64  `gorm:"not null" json:"amount"`
	Currency string `gorm:"type:varchar(8);not null" json:"currency"`

	CouponCode *string `gorm:"type:varchar(64)" json:"coupon_code,omitempty"`

	//モバイルマネー用（電話番号・MNO）
	PhoneNumber string `gorm:"type:varchar(30)" json:"phone_number,omitempty"`
	MNO         string `gorm:"type:varchar(30)" json:"mno,omitempty"`

	//チェックアウト開始時点の明細（JSON）
	ItemsJSON string `gorm:"type:text;not null" json:"-"`

	ExpiresAt   time.Time  `gorm:"not null;index" json:"expires_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null" json:"updated_at"`
}

// セッションに凍結した明細1行
type SessionItem struct {
	VariantID int64 `json:"variant_id"`
	Quantity  int64 `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}

func (s CheckoutSession) IsStale(now time.Time) bool {
	return s.Status == CheckoutSessionPending && !now.Before(s.ExpiresAt)
}

func (s CheckoutSession) Items() ([]SessionItem, error) {
	var items []SessionItem
	if s.ItemsJSON == "" {
		return items, nil
	}
	if err := json.Unmarshal([]byte(s.ItemsJSON), &items); err != nil {
		return nil, err
	}
	return items, nil
}

func EncodeSessionItems(items []CartItem) (string, error) {
	out := make([]SessionItem, 0, len(items))
	for _, it := range items {
		out = append(out, SessionItem{
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPriceSnapshot,
		})
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
