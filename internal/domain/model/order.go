package model

import "time"

type OrderStatus string

const (
	OrderStatusCreated  OrderStatus = "CREATED"
	OrderStatusShipped  OrderStatus = "SHIPPED"
	OrderStatusCanceled OrderStatus = "CANCELED"
)

// 完了したCheckoutSessionにつき1件だけ作られる（checkout_session_idがunique）
type Order struct {
	ID                int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID            int64       `gorm:"not null;index" json:"user_id"`
	CheckoutSessionID string      `gorm:"type:uuid;not null;uniqueIndex" json:"checkout_session_id"`
	Status            OrderStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	Subtotal          int64       `gorm:"not null" json:"subtotal"`
	Discount          int64       `gorm:"not null;default:0" json:"discount"`
	TotalPrice        int64       `gorm:"not null" json:"total_price"`
	Currency          string      `gorm:"type:varchar(8);not null" json:"currency"`
	CouponCode        *string     `gorm:"type:varchar(64)" json:"coupon_code,omitempty"`
	CreatedAt         time.Time   `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time   `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
