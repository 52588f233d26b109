package resilience

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
)

// ErrorClass separates provider-availability failures from rejected
// requests so retry and circuit-breaker policy can branch without
// string matching.
type ErrorClass int

const (
	// ClassTransient covers timeouts, connection errors and
	// 5xx-equivalent responses; safe to retry
	ClassTransient ErrorClass = iota
	// ClassDomain covers requests the provider rejected as invalid;
	// never retried and never counted against the breaker
	ClassDomain
)

// ErrCircuitOpen is returned without invoking the wrapped adapter when
// the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ClassifiedError carries an explicit error class alongside the cause
type ClassifiedError struct {
	Class ErrorClass
	Err   error
}

func (e *ClassifiedError) Error() string {
	return e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable provider failure
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: ClassTransient, Err: err}
}

// Transientf creates a retryable provider failure
func Transientf(format string, args ...interface{}) error {
	return &ClassifiedError{Class: ClassTransient, Err: errors.Errorf(format, args...)}
}

// Domain wraps err as a rejected-request failure
func Domain(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: ClassDomain, Err: err}
}

// Domainf creates a rejected-request failure
func Domainf(format string, args ...interface{}) error {
	return &ClassifiedError{Class: ClassDomain, Err: errors.Errorf(format, args...)}
}

// TimeoutError reports that a single provider call attempt exceeded
// its request timeout. Always classified transient.
type TimeoutError struct {
	Elapsed time.Duration
	Cause   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider call timed out after %s: %v", e.Elapsed, e.Cause)
}

func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// Classify resolves the class of an error. Explicit classifications
// win; timeouts and network errors are transient. Unmarked errors
// default to transient, so adapters must mark rejected requests with
// Domain to keep them out of the retry and breaker paths.
func Classify(err error) ErrorClass {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Class
	}

	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return ClassTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}

	return ClassTransient
}

// IsRetryable reports whether the error may be retried
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	return Classify(err) == ClassTransient
}
