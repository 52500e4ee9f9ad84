package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrorKind classifies failures so callers can decide whether to retry, degrade or record.
type ErrorKind string

const (
	KindUnknown           ErrorKind = "unknown"
	KindTransientNetwork  ErrorKind = "transient_network"
	KindTimeout           ErrorKind = "timeout"
	KindProvider          ErrorKind = "provider"
	KindMalformedOutput   ErrorKind = "malformed_output"
	KindValidationFailure ErrorKind = "validation_failure"
	KindPersistence       ErrorKind = "persistence"
)

// AppError wraps an operation, human-facing message, failure kind and underlying error.
type AppError struct {
	Op   string
	Msg  string
	Kind ErrorKind
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError, deriving the kind from err when possible.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Kind: KindOf(err), Err: err}
}

// NewKindError constructs an AppError with an explicit kind.
func NewKindError(kind ErrorKind, op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Kind: kind, Err: err}
}

// KindOf inspects an error chain and returns its failure kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Kind != "" && appErr.Kind != KindUnknown {
		return appErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if isConnectionFailure(err) {
		return KindTransientNetwork
	}
	return KindUnknown
}

// isConnectionFailure matches refused, reset or dropped connections. Certificate, scheme
// and other request-construction errors also satisfy net.Error but never match here.
func isConnectionFailure(err error) bool {
	for _, errno := range []syscall.Errno{syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ECONNABORTED, syscall.EPIPE} {
		if errors.Is(err, errno) {
			return true
		}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial", "read", "write":
			return true
		}
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsTemporary
}

// IsRetryable reports whether err is a connection or timeout failure worth retrying.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransientNetwork, KindTimeout:
		return true
	default:
		return false
	}
}
