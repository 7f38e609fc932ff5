// Package retry runs single directory operations with bounded retries and
// classifies their failures.
//
// Every failure ends up in one of four classes:
//
//   - ClassTransient: rate limiting or temporary unavailability. Retried with
//     exponential backoff until the policy's attempts are exhausted.
//   - ClassPermanentExpected: a duplicate insert or a missing object on
//     delete/remove. The desired state already holds; callers count a no-op.
//   - ClassPermanentUnexpected: malformed input or a missing object the caller
//     relied on. Logged, aggregated and skipped.
//   - ClassFatal: credential or authorization failures. The run is aborted.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	"golang.org/x/oauth2"
)

// Class is the failure class of a directory call
type Class int

const (
	// ClassTransient failures are retried
	ClassTransient Class = iota + 1
	// ClassPermanentExpected failures mean the desired state already holds
	ClassPermanentExpected
	// ClassPermanentUnexpected failures skip the affected item
	ClassPermanentUnexpected
	// ClassFatal failures abort the run
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanentExpected:
		return "permanent-expected"
	case ClassPermanentUnexpected:
		return "permanent-unexpected"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Op is the kind of directory call; the meaning of 404 and 409 depends on it
type Op string

// Directory operation kinds
const (
	OpList   Op = "list"
	OpGet    Op = "get"
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpRemove Op = "remove"
	OpDelete Op = "delete"
)

// StatusCoder is implemented by errors that carry an HTTP-style status code
type StatusCoder interface {
	StatusCode() int
}

// Error is a classified failure of a directory call
type Error struct {
	Op       Op
	Class    Class
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed (%s after %d attempt(s)): %v", e.Op, e.Class, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Code returns the status code of the underlying error, or 0
func (e *Error) Code() int {
	var sc StatusCoder
	if errors.As(e.Err, &sc) {
		return sc.StatusCode()
	}
	var terr *oauth2.RetrieveError
	if errors.As(e.Err, &terr) && terr.Response != nil {
		return terr.Response.StatusCode
	}
	return 0
}

// ClassOf returns the class of a classified error, or 0 when err is not one
func ClassOf(err error) Class {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Class
	}
	return 0
}

// IsFatal reports whether err must abort the run
func IsFatal(err error) bool {
	return ClassOf(err) == ClassFatal
}

// IsExpected reports whether err only says the desired state already holds
func IsExpected(err error) bool {
	return ClassOf(err) == ClassPermanentExpected
}

// Classify maps a raw error of operation op to its failure class
func Classify(op Op, err error) Class {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassPermanentUnexpected
	}

	var terr *oauth2.RetrieveError
	if errors.As(err, &terr) {
		return classifyTokenError(terr)
	}

	var sc StatusCoder
	if !errors.As(err, &sc) {
		// No status code: connection resets, timeouts and the like.
		return ClassTransient
	}

	switch code := sc.StatusCode(); code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return ClassTransient
	case http.StatusUnauthorized, http.StatusForbidden:
		return ClassFatal
	case http.StatusConflict:
		if op == OpInsert {
			return ClassPermanentExpected
		}
		return ClassPermanentUnexpected
	case http.StatusNotFound:
		if op == OpDelete || op == OpRemove {
			return ClassPermanentExpected
		}
		return ClassPermanentUnexpected
	default:
		return ClassPermanentUnexpected
	}
}

// Policy is the retry policy applied to transient failures
type Policy struct {
	// MaxAttempts counts the first call
	MaxAttempts int
	// BaseDelay is the wait before the second attempt; it doubles afterwards
	BaseDelay time.Duration
	// MaxDelay caps a single wait
	MaxDelay time.Duration
}

// DefaultPolicy returns three attempts starting at one second
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

func (p Policy) maxAttempts() uint {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return uint(p.MaxAttempts)
}

func (p Policy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	return b
}

// Do calls fn until it succeeds, fails with a non-transient error, or the
// policy's attempts are exhausted. Any returned error is an *Error.
func Do[T any](ctx context.Context, policy Policy, op Op, fn func(context.Context) (T, error)) (T, error) {
	ctxLogger := logr.FromContextOrDiscard(ctx)
	attempts := 0

	operation := func() (T, error) {
		attempts++
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}

		class := Classify(op, err)
		if class != ClassTransient {
			return res, backoff.Permanent(&Error{Op: op, Class: class, Attempts: attempts, Err: err})
		}
		return res, err
	}

	notify := func(err error, wait time.Duration) {
		ctxLogger.V(1).Info("Retrying transient directory failure",
			"op", op, "attempt", attempts, "wait", wait.String(), "error", err.Error())
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(policy.maxAttempts()),
		backoff.WithNotify(notify),
	)
	if err == nil {
		return res, nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return res, classified
	}

	class := ClassTransient
	if ctx.Err() != nil {
		class = ClassPermanentUnexpected
	}
	return res, &Error{Op: op, Class: class, Attempts: attempts, Err: err}
}

// Call is Do for operations without a result
func Call(ctx context.Context, policy Policy, op Op, fn func(context.Context) error) error {
	_, err := Do(ctx, policy, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// classifyTokenError maps a failed credential exchange. The token endpoint
// only recovers from rate limiting and server errors; anything else means the
// credentials or the delegation grant are wrong.
func classifyTokenError(err *oauth2.RetrieveError) Class {
	switch err.ErrorCode {
	case "invalid_grant", "invalid_client", "unauthorized_client", "access_denied", "invalid_scope":
		return ClassFatal
	case "server_error", "temporarily_unavailable":
		return ClassTransient
	}
	if err.Response == nil {
		return ClassFatal
	}
	switch code := err.Response.StatusCode; {
	case code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
		return ClassTransient
	default:
		return ClassFatal
	}
}
