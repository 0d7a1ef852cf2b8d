package usecase

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	//400 入力不正
	ErrValidation = errors.New("validation error")
	//401 認証失敗
	ErrUnauthorized = errors.New("unauthorized")
	//403 権限
	ErrForbidden = errors.New("forbidden")
	//404
	ErrNotFound = errors.New("not found")
	//409 競合（チェックアウト中のセッションあり等）
	ErrConflict = errors.New("conflict")
	//400 署名不一致など（状態は変えていない）
	ErrSecurity = errors.New("security error")
	//502 決済プロバイダに届かない
	ErrProviderUnavailable = errors.New("provider unavailable")
	//500 Webhookの反映失敗（プロバイダに再送させる）
	ErrReconciliation = errors.New("reconciliation error")
	//500
	ErrInternal = errors.New("internal error")
)

// ハンドラがそのままレスポンスにする。KindでerrorsIs判定できる。
type HTTPError struct {
	Status  int
	Message string
	Kind    error
	// ログ用（レスポンスには出さない）
	Cause error
}

func (e *HTTPError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%d: %s: %v", e.Status, e.Message, e.Cause)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func (e *HTTPError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func NewHTTPError(status int, message string) error {
	return &HTTPError{
		Status:  status,
		Message: message,
		Kind:    kindForStatus(status),
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

func kindForStatus(status int) error {
	switch status {
	case http.StatusBadRequest:
		return ErrValidation
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusBadGateway:
		return ErrProviderUnavailable
	default:
		return ErrInternal
	}
}

func validationError(msg string) error {
	return &HTTPError{Status: http.StatusBadRequest, Message: msg, Kind: ErrValidation}
}

func conflictError(msg string) error {
	return &HTTPError{Status: http.StatusConflict, Message: msg, Kind: ErrConflict}
}

func notFoundError() error {
	return &HTTPError{Status: http.StatusNotFound, Message: "not found", Kind: ErrNotFound}
}

func securityError(cause error) error {
	return &HTTPError{Status: http.StatusBadRequest, Message: "invalid signature or payload", Kind: ErrSecurity, Cause: cause}
}

func providerUnavailableError(cause error) error {
	return &HTTPError{Status: http.StatusBadGateway, Message: "payment provider unavailable", Kind: ErrProviderUnavailable, Cause: cause}
}

func reconciliationError(cause error) error {
	return &HTTPError{Status: http.StatusInternalServerError, Message: "reconciliation failed", Kind: ErrReconciliation, Cause: cause}
}

func internalError(msg string, cause error) error {
	return &HTTPError{Status: http.StatusInternalServerError, Message: msg, Kind: ErrInternal, Cause: cause}
}
