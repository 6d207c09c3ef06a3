package arbitrage

import "errors"

var (
	// ErrTransientQuote is returned when any quote of a round fails. The
	// block is skipped and nothing downstream runs.
	ErrTransientQuote = errors.New("transient quote failure")

	// ErrStalePrice is returned when no reference price has been fetched yet
	ErrStalePrice = errors.New("reference price unavailable")

	// ErrExecutionSubmission wraps failures to submit a flash loan
	ErrExecutionSubmission = errors.New("execution submission failed")

	// ErrSubscription is reported when the block subscription fails
	ErrSubscription = errors.New("block subscription failed")

	// ErrDuplicateBlock is returned for blocks already evaluated
	ErrDuplicateBlock = errors.New("block already evaluated")
)
