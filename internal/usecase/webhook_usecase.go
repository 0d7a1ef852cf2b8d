package usecase

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"ec-checkout/internal/domain/model"
	"ec-checkout/internal/provider"
	repo "ec-checkout/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

var (
	// トランザクション中にセッションが他の処理で動いた
	errSessionNotPending = errors.New("checkout session is no longer pending")
	// 同じイベントを別の配送が先に確定させた
	errEventSettled = errors.New("payment event already settled")
)

type WebhookDeps struct {
	Tx          repo.TransactionManager
	Sessions    repo.CheckoutSessionRepository
	Events      repo.PaymentEventRepository
	Providers   *provider.Registry
	Fulfillment *FulfillmentWriter
	Audit       AuditEmitter
	Metrics     Recorder
	Clock       Clock
	Log         *zap.Logger
}

// プロバイダからの通知をOrderへ反映する（同じイベントは1回だけ）
type WebhookUsecase struct {
	tx          repo.TransactionManager
	sessions    repo.CheckoutSessionRepository
	events      repo.PaymentEventRepository
	providers   *provider.Registry
	fulfillment *FulfillmentWriter
	audit       AuditEmitter
	metrics     Recorder
	clock       Clock
	log         *zap.Logger
}

// DI
func NewWebhookUsecase(d WebhookDeps) *WebhookUsecase {
	if d.Audit == nil {
		d.Audit = nopEmitter{}
	}
	if d.Metrics == nil {
		d.Metrics = nopRecorder{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &WebhookUsecase{
		tx:          d.Tx,
		sessions:    d.Sessions,
		events:      d.Events,
		providers:   d.Providers,
		fulfillment: d.Fulfillment,
		audit:       d.Audit,
		metrics:     d.Metrics,
		clock:       d.Clock,
		log:         d.Log,
	}
}

type ReplaySummary struct {
	Attempted int `json:"attempted"`
	Settled   int `json:"settled"`
	Failed    int `json:"failed"`
}

func (u *WebhookUsecase) HandleProviderEvent(ctx context.Context, providerName string, payload []byte, signature string) error {
	// 受信したら最後まで処理する（クライアント切断で止めない）
	ctx = context.WithoutCancel(ctx)

	adapter, ok := u.providers.Get(providerName)
	if !ok {
		return notFoundError()
	}

	ev, err := adapter.VerifyEvent(payload, signature)
	if err != nil {
		u.log.Warn("webhook rejected before processing",
			zap.String("provider", providerName),
			zap.Int("payload_bytes", len(payload)),
			zap.Error(err),
		)
		u.metrics.WebhookHandled(providerName, "invalid")
		return securityError(err)
	}

	log := u.log.With(
		zap.String("provider", providerName),
		zap.String("provider_event_id", ev.ProviderEventID),
		zap.String("event_type", ev.Type),
	)

	stored, proceed, err := u.record(ctx, providerName, ev, payload)
	if err != nil {
		log.Error("persist payment event failed", zap.Error(err))
		u.metrics.WebhookHandled(providerName, "error")
		return reconciliationError(err)
	}
	if !proceed {
		log.Info("payment event already handled", zap.String("status", string(stored.Status)))
		u.metrics.WebhookHandled(providerName, "redelivered")
		return nil
	}

	return u.reconcile(ctx, adapter, stored, ev)
}

// 保存済みのRECEIVEDイベントを再処理（オペレーター用）
func (u *WebhookUsecase) Replay(ctx context.Context, providerName string, providerEventID string) (model.PaymentEventStatus, error) {
	adapter, ok := u.providers.Get(providerName)
	if !ok {
		return "", notFoundError()
	}

	stored, found, err := u.events.FindByProviderEventID(ctx, providerName, providerEventID)
	if err != nil {
		return "", internalError("db error", err)
	}
	if !found {
		return "", notFoundError()
	}
	if stored.Status.IsSettled() {
		return stored.Status, nil
	}

	if err := u.replayOne(ctx, adapter, stored); err != nil {
		return stored.Status, err
	}

	after, _, err := u.events.FindByProviderEventID(ctx, providerName, providerEventID)
	if err != nil {
		return "", internalError("db error", err)
	}
	return after.Status, nil
}

// olderThanより前に受けてRECEIVEDのままのものを再処理
func (u *WebhookUsecase) ReplayPending(ctx context.Context, olderThan time.Duration, limit int) (ReplaySummary, error) {
	if limit <= 0 {
		limit = 100
	}
	before := u.clock.Now().Add(-olderThan)

	pending, err := u.events.ListReceivedBefore(ctx, before, limit)
	if err != nil {
		return ReplaySummary{}, internalError("db error", err)
	}

	var sum ReplaySummary
	for _, stored := range pending {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Attempted++

		adapter, ok := u.providers.Get(stored.Provider)
		if !ok {
			u.log.Warn("replay skipped: provider not registered",
				zap.String("provider", stored.Provider),
				zap.String("provider_event_id", stored.ProviderEventID))
			sum.Failed++
			continue
		}
		if err := u.replayOne(ctx, adapter, stored); err != nil {
			sum.Failed++
			continue
		}
		sum.Settled++
	}
	return sum, nil
}

func (u *WebhookUsecase) replayOne(ctx context.Context, adapter provider.Adapter, stored model.PaymentEvent) error {
	// 受信時に署名検証済み
	ev, err := adapter.DecodeEvent([]byte(stored.RawPayload))
	if err != nil {
		u.log.Error("stored payment event cannot be decoded",
			zap.String("provider", stored.Provider),
			zap.String("provider_event_id", stored.ProviderEventID),
			zap.Error(err))
		u.recordError(ctx, stored, err)
		return internalError("decode stored event", err)
	}
	return u.reconcile(ctx, adapter, stored, ev)
}

// 冪等チェックとRECEIVEDでの保存。proceed=falseなら何もしない。
func (u *WebhookUsecase) record(ctx context.Context, providerName string, ev provider.VerifiedEvent, payload []byte) (model.PaymentEvent, bool, error) {
	existing, found, err := u.events.FindByProviderEventID(ctx, providerName, ev.ProviderEventID)
	if err != nil {
		return model.PaymentEvent{}, false, err
	}
	if found {
		return existing, !existing.Status.IsSettled(), nil
	}

	stored := model.PaymentEvent{
		Provider:        providerName,
		ProviderEventID: ev.ProviderEventID,
		EventType:       ev.Type,
		PayloadDigest:   PayloadDigest(payload),
		RawPayload:      string(payload),
		Status:          model.PaymentEventReceived,
		ReceivedAt:      u.clock.Now(),
	}
	id, err := u.events.Create(ctx, stored)
	if err != nil {
		if !errors.Is(err, repo.ErrDuplicate) {
			return model.PaymentEvent{}, false, err
		}
		// 同時に同じイベントが届いた
		existing, found, err = u.events.FindByProviderEventID(ctx, providerName, ev.ProviderEventID)
		if err != nil {
			return model.PaymentEvent{}, false, err
		}
		if !found {
			return model.PaymentEvent{}, false, fmt.Errorf("payment event %s vanished after duplicate insert", ev.ProviderEventID)
		}
		return existing, !existing.Status.IsSettled(), nil
	}
	stored.ID = id
	return stored, true, nil
}

func (u *WebhookUsecase) reconcile(ctx context.Context, adapter provider.Adapter, stored model.PaymentEvent, ev provider.VerifiedEvent) error {
	log := u.log.With(
		zap.String("provider", stored.Provider),
		zap.String("provider_event_id", stored.ProviderEventID),
		zap.String("event_type", ev.Type),
	)

	outcome := adapter.Classify(ev)

	var sessionRef string
	switch o := outcome.(type) {
	case provider.Ignored:
		if err := u.settle(ctx, stored, model.PaymentEventProcessed, nil); err != nil {
			log.Error("mark ignored event failed", zap.Error(err))
			u.recordError(ctx, stored, err)
			u.metrics.WebhookHandled(stored.Provider, "error")
			return reconciliationError(err)
		}
		log.Debug("payment event ignored", zap.String("reason", o.Reason))
		u.metrics.WebhookHandled(stored.Provider, "ignored")
		return nil
	case provider.Completed:
		sessionRef = o.SessionRef
	case provider.Failed:
		sessionRef = o.SessionRef
	default:
		return reconciliationError(fmt.Errorf("unknown outcome %T", outcome))
	}

	session, err := u.sessions.FindByExternalRef(ctx, stored.Provider, sessionRef)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return u.rejectUnknownSession(ctx, log, stored, sessionRef)
		}
		log.Error("session lookup failed", zap.Error(err))
		u.recordError(ctx, stored, err)
		u.metrics.WebhookHandled(stored.Provider, "error")
		return reconciliationError(err)
	}
	log = log.With(zap.String("session_id", session.ID), zap.Int64("cart_id", session.CartID))

	if session.Status.IsTerminal() {
		return u.settleTerminal(ctx, log, stored, session, outcome)
	}

	switch o := outcome.(type) {
	case provider.Completed:
		err = u.complete(ctx, log, stored, session, ev)
	case provider.Failed:
		err = u.fail(ctx, log, stored, session, o)
	}
	if errors.Is(err, errSessionNotPending) {
		// 別のイベントが先に確定させた
		current, ferr := u.sessions.FindByID(ctx, session.ID)
		if ferr != nil {
			u.recordError(ctx, stored, ferr)
			u.metrics.WebhookHandled(stored.Provider, "error")
			return reconciliationError(ferr)
		}
		return u.settleTerminal(ctx, log, stored, current, outcome)
	}
	return err
}

func (u *WebhookUsecase) complete(ctx context.Context, log *zap.Logger, stored model.PaymentEvent, s model.CheckoutSession, ev provider.VerifiedEvent) error {
	start := u.clock.Now()
	now := start

	var result FulfillmentResult
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		ok, err := r.CheckoutSessions().TransitionStatus(ctx, s.ID, model.CheckoutSessionPending, model.CheckoutSessionCompleted, now)
		if err != nil {
			return err
		}
		if !ok {
			return errSessionNotPending
		}

		result, err = u.fulfillment.MaterializeOrder(ctx, r, s, ev)
		if err != nil {
			return err
		}

		converted, err := r.Carts().TransitionStatus(ctx, s.CartID, model.CartStatusCheckoutPending, model.CartStatusConverted)
		if err != nil {
			return err
		}
		if !converted {
			//カートが消えた/状態が違っても注文はセッションの明細で作る
			log.Warn("cart was not in CHECKOUT_PENDING; order created from session snapshot")
		}

		return markProcessed(ctx, r, stored.ID, s.ID, now)
	})
	if err != nil {
		if errors.Is(err, errSessionNotPending) {
			return err
		}
		if errors.Is(err, errEventSettled) {
			log.Info("payment event settled by a concurrent delivery")
			u.metrics.WebhookHandled(stored.Provider, "redelivered")
			return nil
		}
		log.Error("fulfillment rolled back", zap.Error(err))
		u.recordError(ctx, stored, err)
		u.metrics.WebhookHandled(stored.Provider, "error")
		return reconciliationError(err)
	}

	elapsed := durationMS(u.clock.Now().Sub(start))
	u.metrics.WebhookHandled(stored.Provider, "completed")
	u.audit.Emit(model.AuditLog{
		Action:            model.AuditActionPaymentSucceeded,
		UserID:            s.UserID,
		CartID:            s.CartID,
		CheckoutSessionID: s.ID,
		ProviderEventID:   stored.ProviderEventID,
		DurationMS:        elapsed,
		AttributesJSON: auditAttrs(map[string]interface{}{
			"provider": s.Provider,
			"amount":   result.Payment.Amount,
			"currency": result.Payment.Currency,
		}),
		CreatedAt: u.clock.Now(),
	})
	u.audit.Emit(model.AuditLog{
		Action:            model.AuditActionOrderCreated,
		UserID:            s.UserID,
		CartID:            s.CartID,
		CheckoutSessionID: s.ID,
		ProviderEventID:   stored.ProviderEventID,
		AttributesJSON: auditAttrs(map[string]interface{}{
			"order_id": result.Order.ID,
			"total":    result.Order.TotalPrice,
			"items":    len(result.Items),
		}),
		CreatedAt: u.clock.Now(),
	})
	if result.AmountMismatch {
		u.metrics.AmountMismatch(s.Provider)
		u.audit.Emit(model.AuditLog{
			Action:            model.AuditActionPaymentAmountMismatch,
			UserID:            s.UserID,
			CartID:            s.CartID,
			CheckoutSessionID: s.ID,
			ProviderEventID:   stored.ProviderEventID,
			AttributesJSON: auditAttrs(map[string]interface{}{
				"order_id":          result.Order.ID,
				"payment_id":        result.Payment.ID,
				"expected":          s.Amount,
				"expected_currency": s.Currency,
				"settled":           result.Payment.Amount,
				"settled_currency":  result.Payment.Currency,
			}),
			CreatedAt: u.clock.Now(),
		})
	}

	log.Info("order created", zap.Int64("order_id", result.Order.ID), zap.Int64("total", result.Order.TotalPrice))
	return nil
}

func (u *WebhookUsecase) fail(ctx context.Context, log *zap.Logger, stored model.PaymentEvent, s model.CheckoutSession, o provider.Failed) error {
	now := u.clock.Now()

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		ok, err := r.CheckoutSessions().TransitionStatus(ctx, s.ID, model.CheckoutSessionPending, model.CheckoutSessionFailed, now)
		if err != nil {
			return err
		}
		if !ok {
			return errSessionNotPending
		}

		reopened, err := r.Carts().TransitionStatus(ctx, s.CartID, model.CartStatusCheckoutPending, model.CartStatusOpen)
		if err != nil {
			return err
		}
		if !reopened {
			log.Warn("cart was not in CHECKOUT_PENDING on payment failure")
		}

		return markProcessed(ctx, r, stored.ID, s.ID, now)
	})
	if err != nil {
		if errors.Is(err, errSessionNotPending) {
			return err
		}
		if errors.Is(err, errEventSettled) {
			log.Info("payment event settled by a concurrent delivery")
			u.metrics.WebhookHandled(stored.Provider, "redelivered")
			return nil
		}
		log.Error("payment failure rolled back", zap.Error(err))
		u.recordError(ctx, stored, err)
		u.metrics.WebhookHandled(stored.Provider, "error")
		return reconciliationError(err)
	}

	u.metrics.WebhookHandled(stored.Provider, "failed")
	u.audit.Emit(model.AuditLog{
		Action:            model.AuditActionPaymentFailed,
		UserID:            s.UserID,
		CartID:            s.CartID,
		CheckoutSessionID: s.ID,
		ProviderEventID:   stored.ProviderEventID,
		AttributesJSON:    auditAttrs(map[string]interface{}{"provider": s.Provider, "reason": o.Reason}),
		CreatedAt:         u.clock.Now(),
	})
	log.Info("payment failed; cart reopened", zap.String("reason", o.Reason))
	return nil
}

// セッションが既に確定済み: COMPLETED/FAILEDならDUPLICATE、EXPIREDならREJECTED
func (u *WebhookUsecase) settleTerminal(ctx context.Context, log *zap.Logger, stored model.PaymentEvent, s model.CheckoutSession, outcome provider.Outcome) error {
	status := model.PaymentEventDuplicate
	if s.Status == model.CheckoutSessionExpired {
		status = model.PaymentEventRejected
	}

	if _, completed := outcome.(provider.Completed); completed && s.Status != model.CheckoutSessionCompleted {
		// 決済は取れたが注文は作らない。手動で返金か再注文。
		log.Error("payment anomaly: provider reports payment for a closed session",
			zap.String("session_status", string(s.Status)),
			zap.Int64("amount", s.Amount))
	}

	if err := u.settle(ctx, stored, status, &s.ID); err != nil {
		log.Error("settle payment event failed", zap.Error(err))
		u.recordError(ctx, stored, err)
		u.metrics.WebhookHandled(stored.Provider, "error")
		return reconciliationError(err)
	}

	if status == model.PaymentEventRejected {
		u.emitRejected(stored, s.ID, s.UserID, s.CartID, "session "+string(s.Status))
		u.metrics.WebhookHandled(stored.Provider, "rejected")
	} else {
		u.metrics.WebhookHandled(stored.Provider, "duplicate")
	}
	log.Info("payment event for closed session", zap.String("session_status", string(s.Status)), zap.String("event_status", string(status)))
	return nil
}

func (u *WebhookUsecase) rejectUnknownSession(ctx context.Context, log *zap.Logger, stored model.PaymentEvent, sessionRef string) error {
	log.Warn("payment event references unknown session", zap.String("session_ref", sessionRef))

	if err := u.settle(ctx, stored, model.PaymentEventRejected, nil); err != nil {
		log.Error("settle payment event failed", zap.Error(err))
		u.recordError(ctx, stored, err)
		u.metrics.WebhookHandled(stored.Provider, "error")
		return reconciliationError(err)
	}
	u.emitRejected(stored, "", 0, 0, "unknown session "+sessionRef)
	u.metrics.WebhookHandled(stored.Provider, "rejected")
	return nil
}

// RECEIVED→status。既に確定済みなら何もしない。
func (u *WebhookUsecase) settle(ctx context.Context, stored model.PaymentEvent, status model.PaymentEventStatus, sessionID *string) error {
	now := u.clock.Now()
	_, err := u.events.UpdateStatus(ctx, stored.ID, repo.PaymentEventUpdate{
		Status:            status,
		CheckoutSessionID: sessionID,
		ProcessedAt:       &now,
	})
	return err
}

func markProcessed(ctx context.Context, r repo.TxRepos, eventID int64, sessionID string, now time.Time) error {
	ok, err := r.PaymentEvents().UpdateStatus(ctx, eventID, repo.PaymentEventUpdate{
		Status:            model.PaymentEventProcessed,
		CheckoutSessionID: &sessionID,
		ProcessedAt:       &now,
	})
	if err != nil {
		return err
	}
	if !ok {
		return errEventSettled
	}
	return nil
}

// 状態はRECEIVEDのまま。失敗しても握りつぶす。
func (u *WebhookUsecase) recordError(ctx context.Context, stored model.PaymentEvent, cause error) {
	if err := u.events.RecordError(ctx, stored.ID, cause.Error()); err != nil {
		u.log.Warn("record payment event error failed",
			zap.String("provider_event_id", stored.ProviderEventID),
			zap.Error(err))
	}
}

func (u *WebhookUsecase) emitRejected(stored model.PaymentEvent, sessionID string, userID, cartID int64, reason string) {
	u.audit.Emit(model.AuditLog{
		Action:            model.AuditActionWebhookRejected,
		UserID:            userID,
		CartID:            cartID,
		CheckoutSessionID: sessionID,
		ProviderEventID:   stored.ProviderEventID,
		AttributesJSON:    auditAttrs(map[string]interface{}{"provider": stored.Provider, "reason": reason}),
		CreatedAt:         u.clock.Now(),
	})
}

// 生payloadのBLAKE2b-256（hex）
func PayloadDigest(payload []byte) string {
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
