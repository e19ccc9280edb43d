// Package session is the client-side access engine: it logs a user in with an
// API key or an invite code, persists the session locally, gates pro
// features on trial expiry and drives the end-of-study clock.
package session

import "errors"

var (
	// ErrEmptyCode indicates an empty invite code was submitted.
	ErrEmptyCode = errors.New("invite code is required")

	// ErrEmptyAPIKey indicates an empty API key was submitted.
	ErrEmptyAPIKey = errors.New("api key is required")

	// ErrInvalidCode indicates the validation service does not know the code.
	ErrInvalidCode = errors.New("invalid invite code")

	// ErrRejected indicates the validation service refused the request payload.
	ErrRejected = errors.New("validation request rejected")

	// ErrValidationUnavailable indicates the validation service could not be
	// reached or failed. No session state was changed; the call may be retried.
	ErrValidationUnavailable = errors.New("validation service unavailable")

	// ErrNotLoggedIn indicates an operation that needs an active session.
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrInvalidProfile indicates a student profile with unusable study times.
	ErrInvalidProfile = errors.New("invalid student profile")

	// ErrInvalidExtension indicates a non-positive session extension.
	ErrInvalidExtension = errors.New("extension must be positive")
)
