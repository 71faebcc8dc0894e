// Package errors provides error handling for Crewline.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenDetails = crdb.FlattenDetails
	GetStack       = crdb.GetReportableStackTrace
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Common sentinel errors for use across Crewline.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrDuplicate indicates a uniqueness conflict; for generated jobs this is
	// the idempotency hit, not a failure
	ErrDuplicate = New("already exists")

	// ErrPlanLimit indicates a tenant has exhausted a subscription plan allowance
	ErrPlanLimit = New("plan limit reached")

	// ErrTenantInactive indicates the tenant is suspended or deactivated
	ErrTenantInactive = New("tenant inactive")

	// ErrRateLimited indicates the caller is sending requests faster than allowed
	ErrRateLimited = New("rate limit exceeded")

	// ErrServiceUnavailable indicates a required service is not available
	ErrServiceUnavailable = New("service unavailable")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")
)

// IsNotFound checks if an error is or wraps ErrNotFound.
// Also provides backward compatibility with string-based "not found" errors.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, ErrNotFound) {
		return true
	}
	// Backward compatibility: stores predating the sentinel return bare
	// "<thing> not found" strings
	errMsg := err.Error()
	return len(errMsg) >= 9 && errMsg[len(errMsg)-9:] == "not found"
}

// IsDuplicate checks if an error is or wraps ErrDuplicate
func IsDuplicate(err error) bool {
	return err != nil && Is(err, ErrDuplicate)
}

// IsInvalidRequest checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequest(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsPlanLimit checks if an error is or wraps ErrPlanLimit
func IsPlanLimit(err error) bool {
	return err != nil && Is(err, ErrPlanLimit)
}

// IsTenantInactive checks if an error is or wraps ErrTenantInactive
func IsTenantInactive(err error) bool {
	return err != nil && Is(err, ErrTenantInactive)
}

// IsRateLimited checks if an error is or wraps ErrRateLimited
func IsRateLimited(err error) bool {
	return err != nil && Is(err, ErrRateLimited)
}

// WrapNotFound wraps an error as a not-found error with context
func WrapNotFound(err error, context string) error {
	return Wrap(Wrap(ErrNotFound, err.Error()), context)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}
