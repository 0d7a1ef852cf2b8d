package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ec-checkout/internal/domain/model"
	"ec-checkout/internal/provider"
)

// 進められる時計
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// "sess-1", "sess-2", ...
type SeqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *SeqIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("00000000-0000-0000-0000-%012d", g.n)
}

// Emitされた監査イベントを溜める
type AuditRecorder struct {
	mu      sync.Mutex
	entries []model.AuditLog
}

func (r *AuditRecorder) Emit(e model.AuditLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *AuditRecorder) Actions() []model.AuditAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.AuditAction, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

func (r *AuditRecorder) Entries() []model.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.AuditLog(nil), r.entries...)
}

// メトリクス呼び出しを数える
type MetricsRecorder struct {
	mu       sync.Mutex
	Sessions map[string]int
	Webhooks map[string]int
	Mismatch int
	Expired  int
}

func NewMetricsRecorder() *MetricsRecorder {
	return &MetricsRecorder{Sessions: map[string]int{}, Webhooks: map[string]int{}}
}

func (m *MetricsRecorder) SessionCreated(p string, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sessions[p+"/"+result]++
}

func (m *MetricsRecorder) WebhookHandled(p string, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Webhooks[p+"/"+outcome]++
}

func (m *MetricsRecorder) AmountMismatch(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Mismatch++
}

func (m *MetricsRecorder) SessionsExpired(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Expired += n
}

func (m *MetricsRecorder) Webhook(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Webhooks[key]
}

// 署名はHMAC-SHA256(secret, body)。payloadは FakeEvent のJSON。
type FakeAdapter struct {
	ProviderName string
	Secret       string
	// CreateSessionの戻り値を差し替える
	CreateErr error
	Pending   bool
	// CreateSession中に呼ばれる（同時実行テスト用）
	OnCreate func(ctx context.Context, req provider.SessionRequest)

	mu       sync.Mutex
	requests []provider.SessionRequest
}

type FakeEvent struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"` // completed / failed / other
	SessionRef string `json:"session_ref"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
}

func NewFakeAdapter(name string) *FakeAdapter {
	return &FakeAdapter{ProviderName: name, Secret: "fake-secret"}
}

func (a *FakeAdapter) Name() string            { return a.ProviderName }
func (a *FakeAdapter) SignatureHeader() string { return "X-Fake-Signature" }

func (a *FakeAdapter) ValidateParams(p provider.Params) error {
	return nil
}

func (a *FakeAdapter) CreateSession(ctx context.Context, req provider.SessionRequest) (provider.ExternalSession, error) {
	if a.OnCreate != nil {
		a.OnCreate(ctx, req)
	}
	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.mu.Unlock()

	if a.CreateErr != nil {
		return provider.ExternalSession{}, a.CreateErr
	}
	if err := ctx.Err(); err != nil {
		return provider.ExternalSession{}, err
	}
	return provider.ExternalSession{
		Ref:     RefFor(req.SessionID),
		URL:     "https://pay.example/" + req.SessionID,
		Pending: a.Pending,
	}, nil
}

func (a *FakeAdapter) Requests() []provider.SessionRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]provider.SessionRequest(nil), a.requests...)
}

func (a *FakeAdapter) VerifyEvent(payload []byte, signature string) (provider.VerifiedEvent, error) {
	if !provider.EqualSignature(provider.SignHMACSHA256([]byte(a.Secret), payload), signature) {
		return provider.VerifiedEvent{}, provider.ErrInvalidSignature
	}
	return a.DecodeEvent(payload)
}

func (a *FakeAdapter) DecodeEvent(payload []byte) (provider.VerifiedEvent, error) {
	var fe FakeEvent
	if err := json.Unmarshal(payload, &fe); err != nil || fe.ID == "" {
		return provider.VerifiedEvent{}, provider.ErrMalformedPayload
	}
	return provider.VerifiedEvent{
		Type:            fe.Kind,
		SessionRef:      fe.SessionRef,
		ProviderEventID: fe.ID,
		Amount:          fe.Amount,
		Currency:        fe.Currency,
		Metadata:        json.RawMessage(payload),
	}, nil
}

func (a *FakeAdapter) Classify(ev provider.VerifiedEvent) provider.Outcome {
	switch ev.Type {
	case "completed":
		return provider.Completed{SessionRef: ev.SessionRef}
	case "failed":
		return provider.Failed{SessionRef: ev.SessionRef, Reason: "declined"}
	default:
		return provider.Ignored{Reason: ev.Type}
	}
}

// 署名付きpayloadを作る
func (a *FakeAdapter) Sign(ev FakeEvent) ([]byte, string) {
	b, _ := json.Marshal(ev)
	return b, provider.SignHMACSHA256([]byte(a.Secret), b)
}

// セッションIDから外部参照を決める
func RefFor(sessionID string) string {
	return "ext_" + sessionID
}
