package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"ec-checkout/internal/domain/model"
	"ec-checkout/internal/provider"
	repo "ec-checkout/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultSessionTTL = 30 * time.Minute

type CheckoutConfig struct {
	Currency   string
	SessionTTL time.Duration
	SuccessURL string
	CancelURL  string
}

type CheckoutDeps struct {
	Tx        repo.TransactionManager
	Carts     repo.CartRepository
	CartItems repo.CartItemRepository
	Sessions  repo.CheckoutSessionRepository
	Coupons   *CouponResolver
	Providers *provider.Registry
	Validator CheckoutValidator
	Audit     AuditEmitter
	Metrics   Recorder
	IDs       IDGenerator
	Clock     Clock
	Log       *zap.Logger
}

// カート→CheckoutSession
type CheckoutUsecase struct {
	tx        repo.TransactionManager
	carts     repo.CartRepository
	cartItems repo.CartItemRepository
	sessions  repo.CheckoutSessionRepository
	coupons   *CouponResolver
	providers *provider.Registry
	validator CheckoutValidator
	audit     AuditEmitter
	metrics   Recorder
	ids       IDGenerator
	clock     Clock
	log       *zap.Logger
	cfg       CheckoutConfig
}

// DI
func NewCheckoutUsecase(d CheckoutDeps, cfg CheckoutConfig) *CheckoutUsecase {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	cfg.Currency = strings.ToLower(cfg.Currency)
	if d.Audit == nil {
		d.Audit = nopEmitter{}
	}
	if d.Metrics == nil {
		d.Metrics = nopRecorder{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &CheckoutUsecase{
		tx:        d.Tx,
		carts:     d.Carts,
		cartItems: d.CartItems,
		sessions:  d.Sessions,
		coupons:   d.Coupons,
		providers: d.Providers,
		validator: d.Validator,
		audit:     d.Audit,
		metrics:   d.Metrics,
		ids:       d.IDs,
		clock:     d.Clock,
		log:       d.Log,
		cfg:       cfg,
	}
}

type CreateCheckoutInput struct {
	Provider    string
	PhoneNumber string
	MNO         string
	CouponCode  string
}

type CheckoutSessionOutput struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
	Provider  string `json:"provider"`
}

type SessionStatusOutput struct {
	SessionID string    `json:"sessionId"`
	Provider  string    `json:"provider"`
	Status    string    `json:"status"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (u *CheckoutUsecase) CreateCheckoutSession(ctx context.Context, userID int64, in CreateCheckoutInput) (CheckoutSessionOutput, error) {
	start := u.clock.Now()

	if userID <= 0 {
		return CheckoutSessionOutput{}, validationError("user is required")
	}
	in.Provider = strings.TrimSpace(in.Provider)
	if err := u.validator.ValidateCreate(ctx, in); err != nil {
		return CheckoutSessionOutput{}, validationError(err.Error())
	}
	adapter, ok := u.providers.Get(in.Provider)
	if !ok {
		return CheckoutSessionOutput{}, validationError("unknown provider")
	}

	cart, err := u.carts.FindCurrentByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return CheckoutSessionOutput{}, validationError("cart is empty")
		}
		return CheckoutSessionOutput{}, internalError("db error", err)
	}
	if !cart.IsCheckoutable() {
		return CheckoutSessionOutput{}, validationError("cart is not open")
	}

	log := u.log.With(zap.Int64("user_id", userID), zap.Int64("cart_id", cart.ID), zap.String("provider", in.Provider))

	items, err := u.cartItems.ListByCartID(ctx, cart.ID)
	if err != nil {
		return CheckoutSessionOutput{}, internalError("db error", err)
	}
	if len(items) == 0 {
		return CheckoutSessionOutput{}, validationError("cart is empty")
	}

	var subtotal int64
	for _, it := range items {
		subtotal += it.LineTotal()
	}

	now := u.clock.Now()
	quote, err := u.coupons.Resolve(ctx, in.CouponCode, subtotal, now)
	if err != nil {
		return CheckoutSessionOutput{}, err
	}

	snapshot, err := model.EncodeSessionItems(items)
	if err != nil {
		return CheckoutSessionOutput{}, internalError("encode items", err)
	}

	// カートを確保（OPEN→CHECKOUT_PENDING）。古い確保は取り直してPENDINGを失効させる。
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		claimed, err := r.Carts().ClaimForCheckout(ctx, cart.ID, now, now.Add(-u.cfg.SessionTTL))
		if err != nil {
			return internalError("db error", err)
		}
		if !claimed {
			return conflictError("checkout already in progress")
		}
		expired, err := r.CheckoutSessions().ExpirePendingByCartID(ctx, cart.ID, now)
		if err != nil {
			return internalError("db error", err)
		}
		if expired > 0 {
			log.Info("expired stale checkout sessions", zap.Int64("count", expired))
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			u.metrics.SessionCreated(in.Provider, "conflict")
		}
		return CheckoutSessionOutput{}, err
	}

	sessionID := u.ids.NewID()
	log = log.With(zap.String("session_id", sessionID))
	expiresAt := now.Add(u.cfg.SessionTTL)

	// キャンセルできるのはプロバイダ呼び出しの前まで
	if err := ctx.Err(); err != nil {
		u.releaseCart(context.WithoutCancel(ctx), log, cart.ID)
		return CheckoutSessionOutput{}, providerError(err)
	}

	// 呼び出し中に切断されても外部セッションだけ残らないようにする（上限はTransportのタイムアウト）
	callCtx := context.WithoutCancel(ctx)
	ext, err := adapter.CreateSession(callCtx, provider.SessionRequest{
		SessionID:   sessionID,
		Amount:      quote.Amount,
		Currency:    u.cfg.Currency,
		Description: "Order " + sessionID,
		Params:      provider.Params{PhoneNumber: in.PhoneNumber, MNO: in.MNO},
		SuccessURL:  u.cfg.SuccessURL,
		CancelURL:   u.cfg.CancelURL,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		u.releaseCart(callCtx, log, cart.ID)
		u.checkoutFailed(userID, cart.ID, sessionID, in.Provider, start, err)
		return CheckoutSessionOutput{}, providerError(err)
	}

	persistCtx := callCtx
	session := model.CheckoutSession{
		ID:          sessionID,
		CartID:      cart.ID,
		UserID:      userID,
		Provider:    in.Provider,
		ExternalRef: ext.Ref,
		Status:      model.CheckoutSessionPending,
		Subtotal:    quote.Subtotal,
		Discount:    quote.Discount,
		Amount:      quote.Amount,
		Currency:    u.cfg.Currency,
		CouponCode:  quote.Code,
		PhoneNumber: in.PhoneNumber,
		MNO:         strings.ToLower(strings.TrimSpace(in.MNO)),
		ItemsJSON:   snapshot,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := u.sessions.Create(persistCtx, session); err != nil {
		log.Error("persist checkout session failed; provider session is orphaned",
			zap.String("external_ref", ext.Ref), zap.Error(err))
		u.releaseCart(persistCtx, log, cart.ID)
		u.checkoutFailed(userID, cart.ID, sessionID, in.Provider, start, err)
		return CheckoutSessionOutput{}, internalError("db error", err)
	}

	u.metrics.SessionCreated(in.Provider, "ok")
	u.audit.Emit(model.AuditLog{
		Action:            model.AuditActionCheckoutStarted,
		UserID:            userID,
		CartID:            cart.ID,
		CheckoutSessionID: sessionID,
		DurationMS:        durationMS(u.clock.Now().Sub(start)),
		AttributesJSON: auditAttrs(map[string]interface{}{
			"provider": in.Provider,
			"amount":   quote.Amount,
			"currency": u.cfg.Currency,
			"discount": quote.Discount,
		}),
		CreatedAt: u.clock.Now(),
	})
	log.Info("checkout session created", zap.String("external_ref", ext.Ref), zap.Int64("amount", quote.Amount))

	return CheckoutSessionOutput{
		SessionID: sessionID,
		URL:       ext.URL,
		Provider:  in.Provider,
	}, nil
}

// 所有者以外には404
func (u *CheckoutUsecase) GetCheckoutSession(ctx context.Context, userID int64, sessionID string) (SessionStatusOutput, error) {
	if userID <= 0 {
		return SessionStatusOutput{}, validationError("user is required")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return SessionStatusOutput{}, validationError("invalid id")
	}
	// uuid列に不正な文字列を渡すとDBエラーになる
	if _, err := uuid.Parse(sessionID); err != nil {
		return SessionStatusOutput{}, notFoundError()
	}

	s, err := u.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return SessionStatusOutput{}, notFoundError()
		}
		return SessionStatusOutput{}, internalError("db error", err)
	}
	if s.UserID != userID {
		return SessionStatusOutput{}, notFoundError()
	}

	status := s.Status
	// スイーパーが回る前でも期限切れは期限切れ
	if s.IsStale(u.clock.Now()) {
		status = model.CheckoutSessionExpired
	}

	return SessionStatusOutput{
		SessionID: s.ID,
		Provider:  s.Provider,
		Status:    string(status),
		Amount:    s.Amount,
		Currency:  s.Currency,
		ExpiresAt: s.ExpiresAt,
	}, nil
}

// CHECKOUT_PENDING→OPENに戻す
func (u *CheckoutUsecase) releaseCart(ctx context.Context, log *zap.Logger, cartID int64) {
	ok, err := u.carts.TransitionStatus(ctx, cartID, model.CartStatusCheckoutPending, model.CartStatusOpen)
	if err != nil {
		log.Error("release cart failed", zap.Error(err))
		return
	}
	if !ok {
		log.Warn("cart was not in CHECKOUT_PENDING on release")
	}
}

func (u *CheckoutUsecase) checkoutFailed(userID, cartID int64, sessionID, providerName string, start time.Time, cause error) {
	result := "error"
	if errors.Is(cause, provider.ErrUnavailable) {
		result = "unavailable"
	}
	u.metrics.SessionCreated(providerName, result)
	u.log.Warn("checkout failed",
		zap.Int64("user_id", userID),
		zap.Int64("cart_id", cartID),
		zap.String("session_id", sessionID),
		zap.String("provider", providerName),
		zap.Error(cause),
	)
	u.audit.Emit(model.AuditLog{
		Action:            model.AuditActionCheckoutFailed,
		UserID:            userID,
		CartID:            cartID,
		CheckoutSessionID: sessionID,
		DurationMS:        durationMS(u.clock.Now().Sub(start)),
		AttributesJSON: auditAttrs(map[string]interface{}{
			"provider": providerName,
			"error":    cause.Error(),
		}),
		CreatedAt: u.clock.Now(),
	})
}

func providerError(err error) error {
	switch {
	case errors.Is(err, provider.ErrInvalidParams):
		return &HTTPError{Status: http.StatusBadRequest, Message: err.Error(), Kind: ErrValidation, Cause: err}
	case errors.Is(err, provider.ErrRejected):
		return &HTTPError{Status: http.StatusBadRequest, Message: "payment provider rejected the request", Kind: ErrValidation, Cause: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return internalError("request canceled", err)
	default:
		return providerUnavailableError(err)
	}
}
