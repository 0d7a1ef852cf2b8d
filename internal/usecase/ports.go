package usecase

import (
	"context"
	"encoding/json"
	"time"

	"ec-checkout/internal/domain/model"
)

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID() string
}

// 監査イベントの送り先。Emitはブロックしない・失敗を返さない。
type AuditEmitter interface {
	Emit(entry model.AuditLog)
}

// usecaseがValidatorInterfaceに依存する約束
type CheckoutValidator interface {
	ValidateCreate(ctx context.Context, in CreateCheckoutInput) error
}

// メトリクスの記録先（prometheus実装はinternal/metrics）
type Recorder interface {
	SessionCreated(provider string, result string)
	WebhookHandled(provider string, outcome string)
	AmountMismatch(provider string)
	SessionsExpired(n int)
}

type nopEmitter struct{}

func (nopEmitter) Emit(model.AuditLog) {}

type nopRecorder struct{}

func (nopRecorder) SessionCreated(string, string) {}
func (nopRecorder) WebhookHandled(string, string) {}
func (nopRecorder) AmountMismatch(string)         {}
func (nopRecorder) SessionsExpired(int)           {}

// 監査ログのattributesをJSON文字列に
func auditAttrs(attrs map[string]interface{}) string {
	if len(attrs) == 0 {
		return ""
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return ""
	}
	return string(b)
}

func durationMS(d time.Duration) *int64 {
	ms := d.Milliseconds()
	return &ms
}
