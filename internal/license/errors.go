package license

import (
	"errors"
	"fmt"
)

// Error categories. Callers match with errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidState  = errors.New("invalid state")
	ErrLimitExceeded = errors.New("limit exceeded")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidInput  = errors.New("invalid input")
)

// Reason is the machine-readable outcome code returned to devices alongside
// a boolean result.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonNotFound         Reason = "not_found"
	ReasonInvalidKey       Reason = "invalid_key"
	ReasonRevoked          Reason = "revoked"
	ReasonExpired          Reason = "expired"
	ReasonNotActivated     Reason = "not_activated"
	ReasonAlreadyActivated Reason = "already_activated"
	ReasonSeatLimit        Reason = "seat_limit"
	ReasonOrgMismatch      Reason = "org_mismatch"
	ReasonForbidden        Reason = "forbidden"
)

// Category maps a reason onto the error taxonomy.
func (r Reason) Category() error {
	switch r {
	case ReasonNone:
		return nil
	case ReasonNotFound:
		return ErrNotFound
	case ReasonInvalidKey:
		return ErrInvalidInput
	case ReasonSeatLimit:
		return ErrLimitExceeded
	case ReasonOrgMismatch, ReasonForbidden:
		return ErrUnauthorized
	default:
		return ErrInvalidState
	}
}

// Err wraps the reason in its category so it can travel as an error.
func (r Reason) Err() error {
	cat := r.Category()
	if cat == nil {
		return nil
	}
	return &ReasonError{Reason: r, category: cat}
}

// Message returns a short human-readable description of the reason.
func (r Reason) Message() string {
	switch r {
	case ReasonNotFound:
		return "license key not recognized"
	case ReasonInvalidKey:
		return "license key is malformed"
	case ReasonRevoked:
		return "license has been revoked"
	case ReasonExpired:
		return "license has expired"
	case ReasonNotActivated:
		return "device is not activated"
	case ReasonAlreadyActivated:
		return "device is already activated under another license"
	case ReasonSeatLimit:
		return "all seats on this license are in use"
	case ReasonOrgMismatch:
		return "license belongs to another organization"
	case ReasonForbidden:
		return "operation not permitted"
	}
	return ""
}

// ReasonError carries a Reason through error returns.
type ReasonError struct {
	Reason   Reason
	category error
}

func (e *ReasonError) Error() string {
	return fmt.Sprintf("%s: %s", e.category, e.Reason)
}

func (e *ReasonError) Unwrap() error {
	return e.category
}

// ReasonOf extracts the Reason from err, or ReasonNone.
func ReasonOf(err error) Reason {
	var re *ReasonError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ReasonNone
}

// ErrDuplicate is returned by stores when a unique constraint rejects a write.
var ErrDuplicate = errors.New("duplicate")
