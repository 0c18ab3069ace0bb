package domain

import "errors"

var (
	// ErrDuplicateAccount is returned when a link matches an account already in the store.
	ErrDuplicateAccount = errors.New("account already linked")
	// ErrAccountNotFound is returned for unknown account ids.
	ErrAccountNotFound = errors.New("account not found")
	// ErrNoLegacyCredential means there is no single-account credential to migrate.
	ErrNoLegacyCredential = errors.New("no legacy credential found")
	// ErrStoreCorrupt means the account store exists but cannot be read.
	ErrStoreCorrupt = errors.New("account store is corrupt")
	// ErrDestinationNotFound means the account's tab is not in the spreadsheet.
	ErrDestinationNotFound = errors.New("destination tab not found")

	// ErrAuthExpired means the provider rejected the credential; the operator
	// has to re-link the institution.
	ErrAuthExpired = errors.New("provider credential expired or revoked")
	// ErrTransient covers rate limits, timeouts and upstream outages. The next
	// scheduled run is expected to succeed.
	ErrTransient = errors.New("transient upstream failure")
)
