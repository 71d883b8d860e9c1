package apperrors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindAuth
	KindValidation
	KindNetwork
	KindPayment
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindNetwork:
		return "network"
	case KindPayment:
		return "payment"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Status is the HTTP status a failure of this kind is reported with.
func (k Kind) Status() int {
	switch k {
	case KindAuth:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusBadRequest
	case KindNetwork:
		return http.StatusServiceUnavailable
	case KindPayment:
		return http.StatusPaymentRequired
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a machine-readable code and a message safe to show users.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same kind and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Code == e.Code
}

func newError(kind Kind, code, defCode, msg string, cause []error) *Error {
	if code == "" {
		code = defCode
	}
	e := &Error{Kind: kind, Code: code, Message: msg}
	if len(cause) > 0 {
		e.Err = errors.Join(cause...)
	}
	return e
}

func Auth(code, msg string, cause ...error) *Error {
	return newError(KindAuth, code, "AUTH_ERROR", msg, cause)
}

func Validation(code, msg string, cause ...error) *Error {
	return newError(KindValidation, code, "VALIDATION_ERROR", msg, cause)
}

func Network(code, msg string, cause ...error) *Error {
	return newError(KindNetwork, code, "NETWORK_ERROR", msg, cause)
}

func Payment(code, msg string, cause ...error) *Error {
	return newError(KindPayment, code, "PAYMENT_ERROR", msg, cause)
}

func NotFound(code, msg string, cause ...error) *Error {
	return newError(KindNotFound, code, "NOT_FOUND", msg, cause)
}

// From classifies an arbitrary error into the taxonomy. Typed errors pass
// through unchanged.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Network("TIMEOUT", MsgNetwork, err)
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return Network("", MsgNetwork, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "network"), strings.Contains(msg, "fetch"), strings.Contains(msg, "connection"):
		return Network("", "Network connection failed", err)
	case strings.Contains(msg, "auth"), strings.Contains(msg, "unauthorized"):
		return Auth("", "Authentication failed", err)
	}
	return &Error{Kind: KindUnknown, Code: "UNKNOWN_ERROR", Message: MsgUnknown, Err: err}
}

// StatusOf returns the HTTP status for err.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return From(err).Kind.Status()
}

// Log writes err with its context to logger. Sensitive context keys are
// masked by the logger's handler.
func Log(logger *slog.Logger, err error, attrs map[string]any) {
	if logger == nil || err == nil {
		return
	}
	ae := From(err)
	args := []any{
		"code", ae.Code,
		"kind", ae.Kind.String(),
		"status", ae.Kind.Status(),
		"error", err.Error(),
	}
	if len(attrs) > 0 {
		ctx := make([]any, 0, len(attrs)*2)
		for k, v := range attrs {
			ctx = append(ctx, k, v)
		}
		args = append(args, slog.Group("context", ctx...))
	}
	logger.Error("app_error", args...)
}
