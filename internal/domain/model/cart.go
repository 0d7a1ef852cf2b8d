package model

import "time"

type CartStatus string

const (
	CartStatusOpen            CartStatus = "OPEN"
	CartStatusCheckoutPending CartStatus = "CHECKOUT_PENDING"
	CartStatusConverted       CartStatus = "CONVERTED"
	CartStatusAbandoned       CartStatus = "ABANDONED"
)

// 1ユーザーにつきOPEN/CHECKOUT_PENDINGは1つ
type Cart struct {
	ID     int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID int64      `gorm:"not null;index" json:"user_id"`
	Status CartStatus `gorm:"type:varchar(20);not null;index" json:"status"`

	//CHECKOUT_PENDINGにした時刻（TTL判定に使う）
	PendingSince *time.Time `gorm:"index" json:"pending_since,omitempty"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// チェックアウトを始められる状態か
func (c Cart) IsCheckoutable() bool {
	return c.Status == CartStatusOpen || c.Status == CartStatusCheckoutPending
}
