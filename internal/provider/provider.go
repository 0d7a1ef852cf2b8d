// Package provider は決済プロバイダごとの差異を吸収する。
// オーケストレーターとWebhook処理はAdapterだけを見る。
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"
)

var (
	// 署名不一致（攻撃の可能性。状態は一切変えない）
	ErrInvalidSignature = errors.New("invalid signature")

	// payloadが読めない
	ErrMalformedPayload = errors.New("malformed payload")

	// プロバイダ固有の必須パラメータ不足・不正
	ErrInvalidParams = errors.New("invalid provider params")

	// 通信失敗・タイムアウト・5xx・ブレーカー開
	ErrUnavailable = errors.New("provider unavailable")

	// プロバイダがリクエストを拒否した（4xx）
	ErrRejected = errors.New("provider rejected request")
)

// リクエストで渡されるプロバイダ固有パラメータ
type Params struct {
	PhoneNumber string
	MNO         string
}

type SessionRequest struct {
	SessionID   string
	Amount      int64
	Currency    string
	Description string
	Params      Params
	SuccessURL  string
	CancelURL   string
	ExpiresAt   time.Time
}

type ExternalSession struct {
	// プロバイダ側のセッション/取引ID
	Ref string
	// リダイレクト先 or 状態確認ページ
	URL string
	// 結果が後から届く（プッシュ型）
	Pending bool
}

type Shipping struct {
	Name       string
	Phone      string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// 各プロバイダのpayloadをこの形に正規化する
type VerifiedEvent struct {
	Type            string
	SessionRef      string
	ProviderEventID string
	PaymentRef      string
	// 0は「プロバイダが金額を返さなかった」
	Amount   int64
	Currency string
	Status   string
	Shipping *Shipping
	Metadata json.RawMessage
}

// Classifyの結果（Completed | Failed | Ignored）
type Outcome interface {
	outcome()
}

type Completed struct {
	SessionRef string
}

type Failed struct {
	SessionRef string
	Reason     string
}

type Ignored struct {
	Reason string
}

func (Completed) outcome() {}
func (Failed) outcome()    {}
func (Ignored) outcome()   {}

type Adapter interface {
	Name() string

	// Webhookの署名ヘッダ名
	SignatureHeader() string

	ValidateParams(p Params) error

	CreateSession(ctx context.Context, req SessionRequest) (ExternalSession, error)

	// 署名検証してから正規化
	VerifyEvent(payload []byte, signature string) (VerifiedEvent, error)

	// 署名検証なしで正規化（保存済みイベントの再処理専用）
	DecodeEvent(payload []byte) (VerifiedEvent, error)

	Classify(ev VerifiedEvent) Outcome
}

// 名前→Adapter
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	return len(r.adapters)
}
