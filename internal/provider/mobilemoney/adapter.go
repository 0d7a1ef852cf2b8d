// Package mobilemoney はプッシュ型（端末に承認要求が飛ぶ）モバイルマネーのAdapter。
// 結果はWebhookで後から届く。
package mobilemoney

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"ec-checkout/internal/provider"
	"ec-checkout/internal/validator"
)

const (
	Name            = "mobile-money"
	SignatureHeader = "X-Signature"
)

type Config struct {
	APIBase       string
	APIKey        string
	WebhookSecret string
	// 対応MNO（小文字で比較）
	MNOs []string
	// {session_id} を置換して返すステータス確認ページ
	StatusURL   string
	CallbackURL string
}

type Adapter struct {
	cfg       Config
	transport *provider.Transport
	mnos      map[string]struct{}
}

func New(cfg Config, transport *provider.Transport) *Adapter {
	mnos := make(map[string]struct{}, len(cfg.MNOs))
	for _, m := range cfg.MNOs {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			mnos[m] = struct{}{}
		}
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	return &Adapter{cfg: cfg, transport: transport, mnos: mnos}
}

func (a *Adapter) Name() string            { return Name }
func (a *Adapter) SignatureHeader() string { return SignatureHeader }

func (a *Adapter) ValidateParams(p provider.Params) error {
	if strings.TrimSpace(p.PhoneNumber) == "" {
		return fmt.Errorf("%w: phoneNumber is required", provider.ErrInvalidParams)
	}
	if !validator.IsPhoneNumber(p.PhoneNumber) {
		return fmt.Errorf("%w: invalid phoneNumber", provider.ErrInvalidParams)
	}
	if strings.TrimSpace(p.MNO) == "" {
		return fmt.Errorf("%w: mno is required", provider.ErrInvalidParams)
	}
	if _, ok := a.mnos[strings.ToLower(strings.TrimSpace(p.MNO))]; !ok {
		return fmt.Errorf("%w: unsupported mno %q", provider.ErrInvalidParams, p.MNO)
	}
	return nil
}

type collectionRequest struct {
	Reference   string `json:"reference"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	PhoneNumber string `json:"phone_number"`
	MNO         string `json:"mno"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type collectionResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

func (a *Adapter) CreateSession(ctx context.Context, req provider.SessionRequest) (provider.ExternalSession, error) {
	if err := a.ValidateParams(req.Params); err != nil {
		return provider.ExternalSession{}, err
	}

	body, err := json.Marshal(collectionRequest{
		Reference:   req.SessionID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		PhoneNumber: validator.NormalizePhoneNumber(req.Params.PhoneNumber),
		MNO:         strings.ToLower(strings.TrimSpace(req.Params.MNO)),
		CallbackURL: a.cfg.CallbackURL,
	})
	if err != nil {
		return provider.ExternalSession{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.APIBase+"/v1/collections", bytes.NewReader(body))
	if err != nil {
		return provider.ExternalSession{}, err
	}
	httpReq.Header.Set("X-Api-Key", a.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.SessionID)

	resp, err := a.transport.Do(httpReq)
	if err != nil {
		return provider.ExternalSession{}, err
	}
	if resp.StatusCode >= 400 {
		return provider.ExternalSession{}, fmt.Errorf("%w: %s status %d", provider.ErrRejected, Name, resp.StatusCode)
	}

	var out collectionResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return provider.ExternalSession{}, fmt.Errorf("%w: %s: decode collection: %v", provider.ErrUnavailable, Name, err)
	}
	if out.TransactionID == "" {
		return provider.ExternalSession{}, fmt.Errorf("%w: %s: empty transaction id", provider.ErrUnavailable, Name)
	}

	return provider.ExternalSession{
		Ref:     out.TransactionID,
		URL:     strings.ReplaceAll(a.cfg.StatusURL, "{session_id}", req.SessionID),
		Pending: true,
	}, nil
}

func (a *Adapter) VerifyEvent(payload []byte, signature string) (provider.VerifiedEvent, error) {
	sig := strings.TrimSpace(signature)
	if sig == "" {
		return provider.VerifiedEvent{}, fmt.Errorf("%w: missing %s", provider.ErrInvalidSignature, SignatureHeader)
	}
	expected := provider.SignHMACSHA256([]byte(a.cfg.WebhookSecret), payload)
	if !provider.EqualSignature(expected, sig) {
		return provider.VerifiedEvent{}, fmt.Errorf("%w: digest mismatch", provider.ErrInvalidSignature)
	}
	return a.DecodeEvent(payload)
}

type callback struct {
	EventID       string `json:"event_id"`
	TransactionID string `json:"transaction_id"`
	Reference     string `json:"reference"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	PhoneNumber   string `json:"phone_number"`
	Reason        string `json:"reason"`
}

func (a *Adapter) DecodeEvent(payload []byte) (provider.VerifiedEvent, error) {
	var cb callback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return provider.VerifiedEvent{}, fmt.Errorf("%w: %v", provider.ErrMalformedPayload, err)
	}
	if cb.EventID == "" || cb.TransactionID == "" || cb.Status == "" {
		return provider.VerifiedEvent{}, fmt.Errorf("%w: missing event_id, transaction_id or status", provider.ErrMalformedPayload)
	}

	status := strings.ToUpper(cb.Status)
	ev := provider.VerifiedEvent{
		Type:            "collection." + strings.ToLower(status),
		SessionRef:      cb.TransactionID,
		ProviderEventID: cb.EventID,
		PaymentRef:      cb.TransactionID,
		Amount:          cb.Amount,
		Currency:        strings.ToLower(cb.Currency),
		Status:          status,
		Metadata:        json.RawMessage(payload),
	}
	//配送先は取らない。電話番号だけ住所に残す
	if cb.PhoneNumber != "" {
		ev.Shipping = &provider.Shipping{Phone: cb.PhoneNumber}
	}
	return ev, nil
}

func (a *Adapter) Classify(ev provider.VerifiedEvent) provider.Outcome {
	switch ev.Status {
	case "SUCCESSFUL":
		return provider.Completed{SessionRef: ev.SessionRef}
	case "FAILED", "CANCELLED", "EXPIRED", "REJECTED":
		return provider.Failed{SessionRef: ev.SessionRef, Reason: strings.ToLower(ev.Status)}
	default:
		return provider.Ignored{Reason: "non-final status " + ev.Status}
	}
}
