package service

import (
	"context"
	"errors"

	dErrors "civic/pkg/domain-errors"
)

// ErrorKind is the closed set of failures the verification flow reports.
// Domain codes stay on the error itself for transports.
type ErrorKind string

const (
	KindInvalidCode ErrorKind = "invalid_code"
	KindExpiredCode ErrorKind = "expired_code"
	KindNetwork     ErrorKind = "network_error"
	KindUnknown     ErrorKind = "unknown"
)

// Failure is a classified error. Detail is empty for the code kinds.
type Failure struct {
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

// Classify maps any error returned by Service to a Failure. A nil error
// yields the zero Failure.
func Classify(err error) Failure {
	if err == nil {
		return Failure{}
	}
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInvalidCode:
		return Failure{Kind: KindInvalidCode}
	case dErrors.CodeExpiredCode:
		return Failure{Kind: KindExpiredCode}
	case dErrors.CodeFetchFailed, dErrors.CodeNetwork, dErrors.CodeTimeout, dErrors.CodeUploadFailed:
		return Failure{Kind: KindNetwork, Detail: err.Error()}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Failure{Kind: KindNetwork, Detail: err.Error()}
	}
	return Failure{Kind: KindUnknown, Detail: err.Error()}
}

// Retryable reports whether repeating the same call may succeed without any
// change from the caller.
func Retryable(err error) bool {
	return err != nil && Classify(err).Kind == KindNetwork
}
