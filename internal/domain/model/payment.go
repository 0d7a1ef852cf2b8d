package model

import "time"

type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = "SUCCEEDED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// CheckoutSessionと1対1
type Payment struct {
	ID                int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID           int64         `gorm:"not null;index" json:"order_id"`
	CheckoutSessionID string        `gorm:"type:uuid;not null;uniqueIndex" json:"checkout_session_id"`
	Provider          string        `gorm:"type:varchar(50);not null" json:"provider"`
	ExternalRef       string        `gorm:"type:varchar(255);not null" json:"external_ref"`
	Amount            int64         `gorm:"not null" json:"amount"`
	Currency          string        `gorm:"type:varchar(8);not null" json:"currency"`
	Status            PaymentStatus `gorm:"type:varchar(20);not null" json:"status"`

	//決済額とセッション額が一致しない（要手動確認）
	ReviewRequired bool `gorm:"not null;default:false;index" json:"review_required"`

	//プロバイダの生メタデータ（JSON）
	MetadataJSON string    `gorm:"type:text" json:"metadata_json"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}
