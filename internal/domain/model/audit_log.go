package model

import "time"

// カート・決済のライフサイクルイベント種別
type AuditAction string

const (
	AuditActionCheckoutStarted       AuditAction = "CHECKOUT_STARTED"
	AuditActionCheckoutFailed        AuditAction = "CHECKOUT_FAILED"
	AuditActionPaymentSucceeded      AuditAction = "PAYMENT_SUCCEEDED"
	AuditActionPaymentFailed         AuditAction = "PAYMENT_FAILED"
	AuditActionOrderCreated          AuditAction = "ORDER_CREATED"
	AuditActionPaymentAmountMismatch AuditAction = "PAYMENT_AMOUNT_MISMATCH"
	AuditActionWebhookRejected       AuditAction = "WEBHOOK_REJECTED"
	AuditActionSessionExpired        AuditAction = "SESSION_EXPIRED"
)

// 監査ログ（追記のみ）。分析基盤が読む。
type AuditLog struct {
	//IDは監査ログの主キー
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`

	Action AuditAction `gorm:"type:varchar(50);not null;index" json:"action"`

	UserID            int64  `gorm:"not null;default:0;index" json:"user_id"`
	CartID            int64  `gorm:"not null;default:0;index" json:"cart_id"`
	CheckoutSessionID string `gorm:"type:varchar(64);index" json:"checkout_session_id"`
	ProviderEventID   string `gorm:"type:varchar(255)" json:"provider_event_id"`

	DurationMS *int64 `json:"duration_ms,omitempty"`

	//JSON文字列で保存する。
	AttributesJSON string `gorm:"type:text" json:"attributes_json"`

	//作成時刻
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}
