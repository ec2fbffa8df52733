package apperror

import "errors"

// Kind describes a stable error category that can be mapped to HTTP status codes.
type Kind string

const (
	KindNotFound   Kind = "not_found"
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindExhausted  Kind = "exhausted"
)

// Stable machine-readable error codes returned to clients alongside Kind.
const (
	CodeInvalidFormat         = "INVALID_FORMAT"
	CodeInvalidQuantity       = "INVALID_QUANTITY"
	CodeCouponNotFound        = "COUPON_NOT_FOUND"
	CodeCouponAlreadyRedeemed = "COUPON_ALREADY_REDEEMED"
	CodeCouponDeactivated     = "COUPON_DEACTIVATED"
	CodeCouponExpired         = "COUPON_EXPIRED"
	CodeGenerationExhausted   = "GENERATION_EXHAUSTED"
	CodeBatchGenerationFailed = "BATCH_GENERATION_FAILED"
	CodeConflict              = "CONFLICT"
	CodeStaleStatus           = "STALE_STATUS"
)

// Error is a typed error with a stable Kind, a machine-readable Code and a
// human-readable message. Msg should be safe to return to clients for
// Validation/NotFound/Conflict/Exhausted.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(kind Kind, code, msg string, err error) error {
	return &Error{Kind: kind, Code: code, Msg: msg, Err: err}
}

func NotFound(code, msg string, err error) error   { return New(KindNotFound, code, msg, err) }
func Validation(code, msg string, err error) error { return New(KindValidation, code, msg, err) }
func Conflict(code, msg string, err error) error   { return New(KindConflict, code, msg, err) }
func Exhausted(code, msg string, err error) error  { return New(KindExhausted, code, msg, err) }

func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// IsCode проверяет, несёт ли ошибка указанный машинный код.
func IsCode(err error, code string) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// CodeOf возвращает машинный код ошибки либо пустую строку.
func CodeOf(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Code
}
