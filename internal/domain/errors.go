package domain

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a referenced product, owner, license type,
	// device, license or binding does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrConflict covers duplicate devices, duplicate codes and blocked products.
	ErrConflict = errors.New("conflict")
	// ErrSlotsExhausted means the license has no remaining device slots.
	ErrSlotsExhausted = errors.New("no activation slots remaining")
	// ErrAlreadyBound means the exact (device, license) pair is already bound.
	ErrAlreadyBound = errors.New("license already activated on this device")
	ErrInvalidState = errors.New("invalid license state")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidCredential is returned for an unknown activation code.
	ErrInvalidCredential = errors.New("invalid license code")
	ErrUnauthorized      = errors.New("unauthorized")
	// ErrSigningFailure is fatal for the enclosing operation: no ticket leaves
	// the service without a valid signature.
	ErrSigningFailure = errors.New("ticket signing failed")
	ErrInternal       = errors.New("internal error")
	ErrRateLimited    = errors.New("rate limited")
)

// kinds lists the sentinels a LicenseError may carry, most specific first.
var kinds = []error{
	ErrSlotsExhausted,
	ErrAlreadyBound,
	ErrInvalidCredential,
	ErrSigningFailure,
	ErrNotFound,
	ErrConflict,
	ErrInvalidState,
	ErrForbidden,
	ErrInvalidInput,
	ErrUnauthorized,
	ErrRateLimited,
	ErrInternal,
}

// LicenseError is a classified licensing failure. Ticketed reports whether the
// caller is entitled to a signed failure ticket; once signed, the ticket rides
// on the error so transports can return it next to the status code.
type LicenseError struct {
	Kind     error
	Message  string
	Ticketed bool
	Ticket   *Ticket
}

func (e *LicenseError) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Message
}

func (e *LicenseError) Unwrap() error { return e.Kind }

// TicketedError builds a failure the caller receives as a signed ticket.
func TicketedError(kind error, message string) *LicenseError {
	return &LicenseError{Kind: kind, Message: message, Ticketed: true}
}

// PlainError builds a failure returned without a signature.
func PlainError(kind error, message string) *LicenseError {
	return &LicenseError{Kind: kind, Message: message}
}

// AsLicenseError classifies err. Errors wrapping a known sentinel become plain
// LicenseErrors; anything else reports false.
func AsLicenseError(err error) (*LicenseError, bool) {
	if err == nil {
		return nil, false
	}
	var lerr *LicenseError
	if errors.As(err, &lerr) {
		return lerr, true
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			msg := strings.TrimPrefix(err.Error(), kind.Error())
			return PlainError(kind, strings.TrimPrefix(msg, ": ")), true
		}
	}
	return nil, false
}

// FailureTicket returns the signed ticket attached to err, if any.
func FailureTicket(err error) (Ticket, bool) {
	var lerr *LicenseError
	if errors.As(err, &lerr) && lerr.Ticket != nil {
		return *lerr.Ticket, true
	}
	return Ticket{}, false
}
