package billing

import "errors"

var (
	ErrMalformedEncoding        = errors.New("billing: malformed packed encoding")
	ErrFeeTooLow                = errors.New("billing: fee below configured minimum")
	ErrDuplicateRegistrationKey = errors.New("billing: registration key already used")
	ErrProviderSpaceExhausted   = errors.New("billing: provider id space exhausted")
	ErrInvalidProviderSetSize   = errors.New("billing: provider set size out of range")
	ErrInactiveProvider         = errors.New("billing: inactive provider")
	ErrInsufficientDeposit      = errors.New("billing: deposit below required minimum")
	ErrAlreadyPaused            = errors.New("billing: subscription already paused")
	ErrInconsistentState        = errors.New("billing: inconsistent accounting state")
	ErrUnauthorized             = errors.New("billing: unauthorized")
	ErrArrayLengthMismatch      = errors.New("billing: array length mismatch")
	ErrInvalidProviderID        = errors.New("billing: invalid provider id")
	ErrInvalidSubscriberID      = errors.New("billing: invalid subscriber id")
	ErrProviderNotFound         = errors.New("billing: provider not found")
	ErrSubscriberNotFound       = errors.New("billing: subscriber not found")
	ErrInvalidPlan              = errors.New("billing: invalid plan")
	ErrAmountOutOfRange         = errors.New("billing: amount out of range")
	ErrRolloverTooEarly         = errors.New("billing: rollover interval not elapsed")
)

var (
	errNilState  = errors.New("billing engine: state not configured")
	errNilLedger = errors.New("billing engine: token ledger not configured")
	errNilTokens = errors.New("billing engine: ownership registry not configured")
	errNilIndex  = errors.New("billing engine: registration index not configured")
)
