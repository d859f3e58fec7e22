package domain

import "errors"

var (
	// ErrNotFound indicates the requested object does not exist in the
	// backing store.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyTracked indicates an intake signal referenced an address
	// already present in the positions map or history. Rejection is
	// informational, not a failure.
	ErrAlreadyTracked = errors.New("address already tracked")

	// ErrInvalidSignal indicates an intake signal was missing required
	// fields or carried nonsense values.
	ErrInvalidSignal = errors.New("invalid signal")

	// ErrForeignDocument indicates the persisted payload parses but is not
	// one of our documents. Proceeding could silently wipe unknown state.
	ErrForeignDocument = errors.New("foreign document in store")

	// ErrCorruptedDocument indicates the persisted payload does not parse.
	ErrCorruptedDocument = errors.New("corrupted document in store")

	// ErrRevisionConflict indicates a concurrent writer replaced the
	// document between our load and save. The cycle is skipped; the next
	// successful cycle carries the latest state forward.
	ErrRevisionConflict = errors.New("document revision conflict")

	// ErrPriceUnavailable indicates no provider could resolve a price for
	// the token this cycle.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrResetNotConfirmed indicates a reset was requested without the
	// explicit confirmation token.
	ErrResetNotConfirmed = errors.New("reset not confirmed")
)
