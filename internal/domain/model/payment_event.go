package model

import "time"

type PaymentEventStatus string

const (
	PaymentEventReceived  PaymentEventStatus = "RECEIVED"
	PaymentEventProcessed PaymentEventStatus = "PROCESSED"
	PaymentEventDuplicate PaymentEventStatus = "DUPLICATE"
	PaymentEventRejected  PaymentEventStatus = "REJECTED"
)

// 判定済み（再処理しない）状態か
func (s PaymentEventStatus) IsSettled() bool {
	return s != PaymentEventReceived
}

// 受信したWebhookイベント。(provider, provider_event_id)が冪等キー。
// 監査と再送検知のため削除しない。
type PaymentEvent struct {
	ID              int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Provider        string `gorm:"type:varchar(50);not null;uniqueIndex:ux_payment_events_provider_event" json:"provider"`
	ProviderEventID string `gorm:"type:varchar(255);not null;uniqueIndex:ux_payment_events_provider_event" json:"provider_event_id"`
	EventType       string `gorm:"type:varchar(100);not null" json:"event_type"`

	//生payloadのBLAKE2b-256（hex）
	PayloadDigest string `gorm:"type:varchar(64);not null" json:"payload_digest"`
	//オペレーター再処理用
	RawPayload string `gorm:"type:text;not null" json:"-"`

	Status            PaymentEventStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	CheckoutSessionID *string            `gorm:"type:uuid;index" json:"checkout_session_id,omitempty"`
	LastError         string             `gorm:"type:text" json:"last_error,omitempty"`

	ReceivedAt  time.Time  `gorm:"not null;index" json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}
