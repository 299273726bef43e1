package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeBackendUnreachable ErrorCode = "BACKEND_UNREACHABLE"
	CodeBackendRejected    ErrorCode = "BACKEND_REJECTED"
	CodeProtocolViolation  ErrorCode = "PROTOCOL_VIOLATION"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeStoreUnavailable   ErrorCode = "STORE_UNAVAILABLE"
	CodeConfiguration      ErrorCode = "CONFIGURATION_ERROR"
	CodeInternal           ErrorCode = "INTERNAL"
)

// Error is the gateway-wide error type. Code classifies the failure for
// callers; Op names the operation that produced it.
type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op == "" {
		if msg == "" {
			return string(e.Code)
		}
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func E(code ErrorCode, op, msg string, cause error) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Code:    code,
		Op:      op,
		Message: msg,
		Cause:   cause,
	}
}

func Wrap(code ErrorCode, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op != "" || op == "" {
			return existing
		}
		return &Error{
			Code:    existing.Code,
			Op:      op,
			Message: existing.Message,
			Cause:   existing.Cause,
		}
	}
	return E(code, op, "", err)
}

// CodeFrom extracts the classification of err, defaulting to CodeInternal.
func CodeFrom(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Code != "" {
		return domainErr.Code
	}
	return CodeInternal
}

// Retryable reports whether the caller may retry the operation. Only
// transient transport-level failures qualify; NotFound and
// ProtocolViolation are permanent for the call that produced them.
func Retryable(err error) bool {
	switch CodeFrom(err) {
	case CodeBackendUnreachable, CodeTimeout, CodeStoreUnavailable:
		return true
	default:
		return false
	}
}
