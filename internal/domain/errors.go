package domain

import "errors"

// Errors returned by public storage operations. They report caller
// misuse; transport and filesystem failures never surface through them
// and are folded into region status instead.
var (
	ErrRegionNotFound      = errors.New("region not found")
	ErrInvalidParts        = errors.New("invalid part set")
	ErrUnknownSubscription = errors.New("unknown subscription token")
)

var (
	// ErrCancelled tags a transfer aborted on request. It is never
	// returned by a public operation; a transport may use it to mark a
	// terminal callback that should count as a cancellation.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrTransferFailed wraps transport failures recorded in the journal.
	ErrTransferFailed = errors.New("transfer failed")
)
