// Package card はカード決済（リダイレクト型チェックアウト）のAdapter。
// Stripe互換のCheckout Session APIと署名形式を話す。
package card

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ec-checkout/internal/provider"
)

const (
	Name            = "stripe"
	SignatureHeader = "Stripe-Signature"

	defaultTolerance = 5 * time.Minute
)

var defaultShippingCountries = []string{"US"}

type Config struct {
	APIBase       string
	SecretKey     string
	WebhookSecret string

	// 配送先として受け付ける国（ISO 3166-1 alpha-2）
	ShippingCountries []string
	// 署名タイムスタンプの許容幅
	Tolerance time.Duration
	Now       func() time.Time
}

type Adapter struct {
	cfg       Config
	transport *provider.Transport
}

func New(cfg Config, transport *provider.Transport) *Adapter {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = defaultTolerance
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if len(cfg.ShippingCountries) == 0 {
		cfg.ShippingCountries = defaultShippingCountries
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	return &Adapter{cfg: cfg, transport: transport}
}

func (a *Adapter) Name() string            { return Name }
func (a *Adapter) SignatureHeader() string { return SignatureHeader }

// カードは追加パラメータ不要
func (a *Adapter) ValidateParams(p provider.Params) error {
	return nil
}

type sessionResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (a *Adapter) CreateSession(ctx context.Context, req provider.SessionRequest) (provider.ExternalSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("client_reference_id", req.SessionID)
	form.Set("success_url", req.SuccessURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", req.Currency)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.Amount, 10))
	form.Set("line_items[0][price_data][product_data][name]", req.Description)
	form.Set("metadata[checkout_session_id]", req.SessionID)
	for i, country := range a.cfg.ShippingCountries {
		form.Set(fmt.Sprintf("shipping_address_collection[allowed_countries][%d]", i), strings.ToUpper(country))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.APIBase+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return provider.ExternalSession{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.SecretKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	//同じセッションIDの再送で二重作成しない
	httpReq.Header.Set("Idempotency-Key", req.SessionID)

	resp, err := a.transport.Do(httpReq)
	if err != nil {
		return provider.ExternalSession{}, err
	}
	if resp.StatusCode >= 400 {
		return provider.ExternalSession{}, fmt.Errorf("%w: %s status %d", provider.ErrRejected, Name, resp.StatusCode)
	}

	var body sessionResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return provider.ExternalSession{}, fmt.Errorf("%w: %s: decode session: %v", provider.ErrUnavailable, Name, err)
	}
	if body.ID == "" || body.URL == "" {
		return provider.ExternalSession{}, fmt.Errorf("%w: %s: empty session response", provider.ErrUnavailable, Name)
	}

	return provider.ExternalSession{Ref: body.ID, URL: body.URL}, nil
}

// t=<unix>,v1=<hex>[,v1=<hex>...]
func (a *Adapter) VerifyEvent(payload []byte, signature string) (provider.VerifiedEvent, error) {
	ts, sigs, err := parseSignatureHeader(signature)
	if err != nil {
		return provider.VerifiedEvent{}, err
	}

	signedAt := time.Unix(ts, 0)
	diff := a.cfg.Now().Sub(signedAt)
	if diff < 0 {
		diff = -diff
	}
	if diff > a.cfg.Tolerance {
		return provider.VerifiedEvent{}, fmt.Errorf("%w: timestamp outside tolerance", provider.ErrInvalidSignature)
	}

	signed := make([]byte, 0, len(payload)+24)
	signed = append(signed, strconv.FormatInt(ts, 10)...)
	signed = append(signed, '.')
	signed = append(signed, payload...)
	expected := provider.SignHMACSHA256([]byte(a.cfg.WebhookSecret), signed)

	matched := false
	for _, s := range sigs {
		if provider.EqualSignature(expected, s) {
			matched = true
		}
	}
	if !matched {
		return provider.VerifiedEvent{}, fmt.Errorf("%w: no matching v1 signature", provider.ErrInvalidSignature)
	}

	return a.DecodeEvent(payload)
}

func parseSignatureHeader(h string) (int64, []string, error) {
	var ts int64
	var sigs []string
	for _, part := range strings.Split(h, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: bad timestamp", provider.ErrInvalidSignature)
			}
			ts = n
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return 0, nil, fmt.Errorf("%w: missing t or v1", provider.ErrInvalidSignature)
	}
	return ts, sigs, nil
}

type event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type checkoutSession struct {
	ID                string `json:"id"`
	ClientReferenceID string `json:"client_reference_id"`
	AmountTotal       int64  `json:"amount_total"`
	Currency          string `json:"currency"`
	PaymentIntent     string `json:"payment_intent"`
	PaymentStatus     string `json:"payment_status"`
	CustomerDetails   *struct {
		Name    string   `json:"name"`
		Phone   string   `json:"phone"`
		Address *address `json:"address"`
	} `json:"customer_details"`
	ShippingDetails *struct {
		Name    string  `json:"name"`
		Phone   string  `json:"phone"`
		Address address `json:"address"`
	} `json:"shipping_details"`
}

func (a *Adapter) DecodeEvent(payload []byte) (provider.VerifiedEvent, error) {
	var ev event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return provider.VerifiedEvent{}, fmt.Errorf("%w: %v", provider.ErrMalformedPayload, err)
	}
	if ev.ID == "" || ev.Type == "" {
		return provider.VerifiedEvent{}, fmt.Errorf("%w: missing id or type", provider.ErrMalformedPayload)
	}

	out := provider.VerifiedEvent{
		Type:            ev.Type,
		ProviderEventID: ev.ID,
		Metadata:        ev.Data.Object,
	}

	//checkout.session.* 以外はセッション参照なし（Ignored扱い）
	if !strings.HasPrefix(ev.Type, "checkout.session.") {
		return out, nil
	}

	var cs checkoutSession
	if err := json.Unmarshal(ev.Data.Object, &cs); err != nil {
		return provider.VerifiedEvent{}, fmt.Errorf("%w: data.object: %v", provider.ErrMalformedPayload, err)
	}
	if cs.ID == "" {
		return provider.VerifiedEvent{}, fmt.Errorf("%w: missing session id", provider.ErrMalformedPayload)
	}

	out.SessionRef = cs.ID
	out.PaymentRef = cs.PaymentIntent
	out.Amount = cs.AmountTotal
	out.Currency = strings.ToLower(cs.Currency)
	out.Status = cs.PaymentStatus

	switch {
	case cs.ShippingDetails != nil:
		sd := cs.ShippingDetails
		out.Shipping = &provider.Shipping{
			Name:       sd.Name,
			Phone:      sd.Phone,
			Line1:      sd.Address.Line1,
			Line2:      sd.Address.Line2,
			City:       sd.Address.City,
			State:      sd.Address.State,
			PostalCode: sd.Address.PostalCode,
			Country:    sd.Address.Country,
		}
	case cs.CustomerDetails != nil:
		cd := cs.CustomerDetails
		out.Shipping = &provider.Shipping{Name: cd.Name, Phone: cd.Phone}
		if cd.Address != nil {
			out.Shipping.Line1 = cd.Address.Line1
			out.Shipping.Line2 = cd.Address.Line2
			out.Shipping.City = cd.Address.City
			out.Shipping.State = cd.Address.State
			out.Shipping.PostalCode = cd.Address.PostalCode
			out.Shipping.Country = cd.Address.Country
		}
	}

	return out, nil
}

func (a *Adapter) Classify(ev provider.VerifiedEvent) provider.Outcome {
	switch ev.Type {
	case "checkout.session.completed":
		//遅延決済（銀行振込等）はasync_payment_succeededを待つ
		if ev.Status == "paid" || ev.Status == "no_payment_required" {
			return provider.Completed{SessionRef: ev.SessionRef}
		}
		return provider.Ignored{Reason: "awaiting async payment"}
	case "checkout.session.async_payment_succeeded":
		return provider.Completed{SessionRef: ev.SessionRef}
	case "checkout.session.async_payment_failed":
		return provider.Failed{SessionRef: ev.SessionRef, Reason: "async payment failed"}
	case "checkout.session.expired":
		return provider.Failed{SessionRef: ev.SessionRef, Reason: "session expired at provider"}
	default:
		return provider.Ignored{Reason: "unhandled event type " + ev.Type}
	}
}
