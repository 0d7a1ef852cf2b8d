package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercent DiscountType = "PERCENT"
	DiscountFixed   DiscountType = "FIXED"
)

// クーポン。チェックアウトからは読み取り専用。
type Coupon struct {
	ID           int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	Code         string       `gorm:"type:varchar(64);not null;uniqueIndex" json:"code"`
	DiscountType DiscountType `gorm:"type:varchar(20);not null" json:"discount_type"`

	//PERCENTのとき（例: 12.5）
	PercentOff decimal.Decimal `gorm:"type:numeric(5,2);not null;default:0" json:"percent_off"`
	//FIXEDのとき（最小通貨単位）
	AmountOff int64 `gorm:"not null;default:0" json:"amount_off"`

	MinOrderAmount int64 `gorm:"not null;default:0" json:"min_order_amount"`

	ValidFrom *time.Time `json:"valid_from,omitempty"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`

	//0は無制限
	UsageLimit int64 `gorm:"not null;default:0" json:"usage_limit"`
	UsedCount  int64 `gorm:"not null;default:0" json:"used_count"`

	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
