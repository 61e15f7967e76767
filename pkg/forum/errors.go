package forum

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies why a remote operation did not succeed.
type FailureKind string

const (
	// KindRateLimited means every attempt was answered with 429.
	KindRateLimited FailureKind = "rate_limited"
	// KindPermissionDenied means the credential may not perform the operation
	// as the acting identity.
	KindPermissionDenied FailureKind = "permission_denied"
	// KindNotFound means the target does not exist.
	KindNotFound FailureKind = "not_found"
	// KindTransient means connection-level failures persisted across attempts.
	KindTransient FailureKind = "transient"
	// KindMalformed means a success response could not be decoded.
	KindMalformed FailureKind = "malformed"
	// KindUnsupported means the backend offers no way to perform the operation.
	KindUnsupported FailureKind = "unsupported"
	// KindCanceled means the caller's context ended before the call finished.
	KindCanceled FailureKind = "canceled"
	// KindOther covers every other non-success status.
	KindOther FailureKind = "other"
)

// ErrUnsupported is wrapped by failures of kind KindUnsupported.
var ErrUnsupported = errors.New("operation not supported by the forum backend")

// Failure is the error returned by every client operation that did not succeed.
type Failure struct {
	Kind       FailureKind
	Op         Operation
	Target     string
	StatusCode int
	Attempts   int
	Err        error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("%s %s: %s", f.Op, f.Target, f.Kind)
	if f.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", f.StatusCode)
	}
	if f.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", f.Attempts)
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// KindOf returns the failure kind carried by err. Context errors map to
// KindCanceled; any other unclassified error maps to KindOther.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindOther
}

// IsRateLimited checks if the error is a rate-limit exhaustion.
func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimited
}

// IsPermissionDenied checks if the error is a permission failure.
func IsPermissionDenied(err error) bool {
	return KindOf(err) == KindPermissionDenied
}

// IsNotFound checks if the error indicates a missing target.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsUnsupported checks if the error reports an unsupported operation.
func IsUnsupported(err error) bool {
	return KindOf(err) == KindUnsupported
}
