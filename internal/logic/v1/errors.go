// Package v1 provides invite validation business logic for API version 1.
//
// Error Handling:
// This package defines sentinel errors for the ways a validation request can
// fail. They are wrapped with context using fmt.Errorf("%w") and mapped to
// HTTP status codes by the web layer:
//
//	switch {
//	case errors.Is(err, logicv1.ErrMissingField):
//	    c.JSON(http.StatusBadRequest, ...)
//	case errors.Is(err, logicv1.ErrInvalidCode):
//	    c.JSON(http.StatusNotFound, ...)
//	default:
//	    c.JSON(http.StatusInternalServerError, ...)
//	}
//
// A reused code is not an error: it is a normal Decision with status "reused".
package v1

import "errors"

var (
	// ErrMissingField indicates the code or user id is empty.
	// HTTP Status: 400 Bad Request
	ErrMissingField = errors.New("missing required field")

	// ErrInvalidCode indicates the code is not in the policy table.
	// HTTP Status: 404 Not Found
	ErrInvalidCode = errors.New("invalid invite code")

	// ErrLedgerUnavailable indicates the usage ledger could not be read or written.
	// HTTP Status: 500 Internal Server Error
	ErrLedgerUnavailable = errors.New("usage ledger unavailable")
)
