package domain

import "errors"

// Sentinel errors for domain error conditions.
// Use errors.Is() for matching - never compare error strings.
var (
	ErrEmptyID   = errors.New("ID cannot be empty")
	ErrInvalidID = errors.New("invalid ID format")

	// Resource errors
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")

	// Authorization errors
	ErrUnauthorized = errors.New("authentication required")
	ErrForbidden    = errors.New("permission denied")
	ErrNotVerified  = errors.New("sender has not verified an account")
	ErrInvalidCode  = errors.New("invalid verification code")

	// Validation errors
	ErrInvalidInput      = errors.New("invalid input")
	ErrMediaTooLarge     = errors.New("media exceeds size limit")
	ErrInvalidIdentity   = errors.New("invalid transport identity")
	ErrUnsupportedWindow = errors.New("unsupported time window")

	// Transport errors
	ErrSessionClosed       = errors.New("transport session is closed")
	ErrNotConnected        = errors.New("transport is not connected")
	ErrSendFailed          = errors.New("message could not be delivered")
	ErrReconnectInProgress = errors.New("reconnection already in progress")

	// Pairing artifact errors
	ErrQRUnavailable = errors.New("QR code not generated yet")
	ErrQRExpired     = errors.New("QR code expired")

	// Collaborator errors
	ErrClassification = errors.New("content classification failed")
	ErrStorage        = errors.New("object storage failed")
	ErrUnavailable    = errors.New("service temporarily unavailable")

	// Configuration errors
	ErrConfigRequired = errors.New("required configuration key missing")
	ErrConfigInvalid  = errors.New("invalid configuration value")
)

// NeedsReconnect reports whether err is a transport fault that should be
// handed to the reconnection supervisor instead of the caller.
func NeedsReconnect(err error) bool {
	return errors.Is(err, ErrSessionClosed) ||
		errors.Is(err, ErrNotConnected)
}

// clientErrors enumerates domain errors caused by caller input.
var clientErrors = []error{
	ErrInvalidInput,
	ErrMediaTooLarge,
	ErrInvalidIdentity,
	ErrUnsupportedWindow,
	ErrInvalidCode,
	ErrNotVerified,
	ErrNotFound,
	ErrForbidden,
	ErrUnauthorized,
	ErrEmptyID,
	ErrInvalidID,
}

// IsClientError returns true if the error represents a client-side issue
// that will not succeed on retry without client-side changes.
func IsClientError(err error) bool {
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound returns true if the error represents a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
